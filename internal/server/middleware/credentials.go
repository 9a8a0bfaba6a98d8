// Package middleware provides HTTP middleware for credential overrides and request logging.
package middleware

import (
	"context"

	"RelayLane/internal/biz"
	pkglog "RelayLane/pkg/log"
	"RelayLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Credentials extracts per-call provider credential overrides from the
// X-Provider-Credential headers into the request context. Keys never leave
// the context unmasked.
//
// 日志输出示例:
//
//	🔓 credential overrides received | {"type":"credential","overrides":{"backup":"sk-1***cdef"}}
func Credentials(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			ht, ok := tr.(http.Transporter)
			if !ok {
				return handler(ctx, req)
			}

			values := ht.Request().Header.Values(metadata.HeaderProviderCredential)
			if len(values) == 0 {
				return handler(ctx, req)
			}

			overrides, err := metadata.Parse(values)
			if err != nil {
				return nil, errors.BadRequest(biz.ReasonInvalidRequest, err.Error())
			}

			names := overrides.Providers()
			reqCtx := pkglog.GetRequestContext(ctx)
			if reqCtx.RequestID != "unknown" {
				ctx = pkglog.WithRequestContext(ctx, reqCtx.RequestID, reqCtx.ClientIP, names)
			}
			logger.Credential("credential overrides received",
				"request_id", reqCtx.RequestID,
				"providers", names,
				"overrides", overrides.MaskSensitive())

			return handler(metadata.NewContext(ctx, overrides), req)
		}
	}
}
