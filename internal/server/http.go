package server

import (
	"context"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/internal/server/middleware"
	"RelayLane/internal/service"
	pkglog "RelayLane/pkg/log"
	"RelayLane/pkg/metrics"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Route operations, used as the transport operation for logging and middleware matching.
const (
	OperationGenerate       = "/relaylane.v1.Generation/Generate"
	OperationGenerateStream = "/relaylane.v1.Generation/GenerateStream"
	OperationSubmitAnalysis = "/relaylane.v1.Analysis/Submit"
	OperationGetAnalysis    = "/relaylane.v1.Analysis/Get"
	OperationListAnalyses   = "/relaylane.v1.Analysis/List"
	OperationCancelAnalysis = "/relaylane.v1.Analysis/Cancel"
	OperationListBreakers   = "/relaylane.v1.Breaker/List"
	OperationResetBreaker   = "/relaylane.v1.Breaker/Reset"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, gen *service.GenerationService, analysis *service.AnalysisService,
	breakers *service.BreakerService, collector *metrics.Collector, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),     // 请求日志中间件：生成 Request ID，记录方法、路径、耗时
			middleware.Credentials(logHelper), // 凭据中间件：解析 X-Provider-Credential 覆盖
		),
	}
	if c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	registerGenerationRoutes(srv, gen)
	registerAnalysisRoutes(srv, analysis)
	registerBreakerRoutes(srv, breakers)
	if collector != nil {
		srv.Handle("/metrics", collector.Handler())
	}

	return srv
}

func registerGenerationRoutes(srv *http.Server, s *service.GenerationService) {
	r := srv.Route("/")
	r.POST("/v1/generate", func(ctx http.Context) error {
		var in service.GenerateRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationGenerate)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Generate(ctx, req.(*service.GenerateRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.POST("/v1/generate/stream", func(ctx http.Context) error {
		var in service.GenerateRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationGenerateStream)
		return serveStream(ctx, s, &in)
	})
}

type streamText struct {
	Text string `json:"text"`
}

type streamDone struct {
	Discontinuity bool `json:"discontinuity"`
}

type streamError struct {
	Code    int32  `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// serveStream relays dispatcher chunks as SSE. Failures before the first
// event are returned as ordinary errors. After that the response is
// already committed and the failure is written as a terminal error event.
func serveStream(ctx http.Context, s *service.GenerationService, in *service.GenerateRequest) error {
	sse := newSSEWriter(ctx.Response())

	h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
		res, err := s.Stream(ctx, req.(*service.GenerateRequest), func(chunk model.StreamChunk) error {
			if chunk.Discontinuity {
				if err := sse.Send("discontinuity", struct{}{}); err != nil {
					return err
				}
			}
			return sse.Send("", streamText{Text: chunk.Text})
		})
		if err != nil {
			return nil, err
		}
		done := streamDone{Discontinuity: res.Discontinuity}
		return nil, sse.Send("done", done)
	})

	_, err := h(ctx, in)
	if err == nil {
		return nil
	}
	if !sse.Started() {
		return err
	}
	se := errors.FromError(err)
	_ = sse.Send("error", streamError{Code: se.Code, Reason: se.Reason, Message: se.Message})
	return nil
}

func registerAnalysisRoutes(srv *http.Server, s *service.AnalysisService) {
	r := srv.Route("/")
	r.POST("/v1/analyses", func(ctx http.Context) error {
		var in service.SubmitAnalysisRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationSubmitAnalysis)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Submit(ctx, req.(*service.SubmitAnalysisRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(202, out)
	})
	r.GET("/v1/analyses", func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListAnalyses)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.List(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Query().Get("status"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.GET("/v1/analyses/{id}", func(ctx http.Context) error {
		http.SetOperation(ctx, OperationGetAnalysis)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Get(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.POST("/v1/analyses/{id}/cancel", func(ctx http.Context) error {
		http.SetOperation(ctx, OperationCancelAnalysis)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Cancel(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}

func registerBreakerRoutes(srv *http.Server, s *service.BreakerService) {
	r := srv.Route("/")
	r.GET("/v1/breakers", func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListBreakers)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.List(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.POST("/v1/breakers/{name}/reset", func(ctx http.Context) error {
		http.SetOperation(ctx, OperationResetBreaker)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Reset(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Vars().Get("name"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
