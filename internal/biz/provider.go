package biz

import (
	"context"

	"RelayLane/internal/model"
)

// Provider is an upstream text-generation backend. Implementations must be
// safe for concurrent use and must take every credential from the cred
// argument rather than from instance state.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *model.GenerateRequest, cred model.Credential) (*model.Generation, error)
	// Stream emits text through onText until the response is complete. A
	// non-nil error from onText aborts the stream and is returned unchanged.
	Stream(ctx context.Context, req *model.GenerateRequest, cred model.Credential, onText model.TextHandler) error
}

// CredentialResolver returns the default credential for a provider.
type CredentialResolver interface {
	Default(provider string) (model.Credential, bool)
}
