package service

import (
	"context"
	"strings"

	"RelayLane/internal/biz"
	"RelayLane/internal/model"
	"RelayLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

// GenerateRequest is the body of the generate endpoints.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// Providers restricts and orders the chain. Empty means every provider by priority.
	Providers []string `json:"providers,omitempty"`
	// Fallback overrides the configured fallback flag for this request.
	Fallback *bool `json:"fallback,omitempty"`
}

// GenerateReply is the blocking generate response. It carries no
// provider identity; attempts are only logged.
type GenerateReply struct {
	Text string `json:"text"`
}

// GenerationService serves text generation through the fallback dispatcher.
type GenerationService struct {
	dispatcher *biz.Dispatcher
	logger     *log.Helper
}

// NewGenerationService creates a GenerationService.
func NewGenerationService(d *biz.Dispatcher, logger log.Logger) *GenerationService {
	return &GenerationService{
		dispatcher: d,
		logger:     log.NewHelper(logger),
	}
}

func (r *GenerateRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return invalidRequest("prompt is required")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return invalidRequest("max_tokens must be positive")
	}
	return nil
}

func (r *GenerateRequest) toModel() *model.GenerateRequest {
	return &model.GenerateRequest{
		Prompt:      r.Prompt,
		System:      r.System,
		Model:       r.Model,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
	}
}

// Generate runs one blocking dispatch.
func (s *GenerationService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateReply, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	opts := dispatchOptions(metadata.FromContext(ctx), req.Providers, req.Fallback)
	res, err := s.dispatcher.Generate(ctx, req.toModel(), opts...)
	if err != nil {
		s.logger.WithContext(ctx).Warnw("msg", "generate failed", "error", err.Error())
		return nil, transportError(err)
	}

	return &GenerateReply{Text: res.Generation.Text}, nil
}

// Stream runs one streaming dispatch, forwarding chunks to emit.
func (s *GenerationService) Stream(ctx context.Context, req *GenerateRequest, emit model.ChunkHandler) (*biz.StreamResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	opts := dispatchOptions(metadata.FromContext(ctx), req.Providers, req.Fallback)
	res, err := s.dispatcher.GenerateStream(ctx, req.toModel(), emit, opts...)
	if err != nil {
		s.logger.WithContext(ctx).Warnw("msg", "stream failed", "error", err.Error())
		return res, transportError(err)
	}
	return res, nil
}
