// Package model holds value types shared by the biz and data layers.
package model

import "time"

// CredentialSource tells where a credential came from.
type CredentialSource string

const (
	CredentialDefault  CredentialSource = "default"
	CredentialOverride CredentialSource = "override"
)

// Credential is the secret a provider call is made with. It is passed into
// each call and never stored on a provider instance.
type Credential struct {
	APIKey string
	Source CredentialSource
}

// GenerateRequest is one logical text-generation request. Generation
// parameters are optional and left to the provider's defaults when nil.
type GenerateRequest struct {
	Prompt      string         `json:"prompt"`
	System      string         `json:"system,omitempty"`
	Model       string         `json:"model,omitempty"`
	Temperature *float32       `json:"temperature,omitempty"`
	TopP        *float32       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Generation is a completed provider response.
type Generation struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TextHandler receives streamed text fragments from a provider.
// Returning an error stops the stream.
type TextHandler func(text string) error

// StreamChunk is one fragment forwarded by the dispatcher to a stream consumer.
type StreamChunk struct {
	Provider string
	Text     string
	// Discontinuity marks the first chunk of a provider that took over after
	// an earlier provider had already emitted partial output.
	Discontinuity bool
}

// ChunkHandler consumes dispatcher stream chunks.
type ChunkHandler func(chunk StreamChunk) error

// AttemptOutcome is the result of one provider within a fallback chain.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
	AttemptSkipped AttemptOutcome = "skipped"
)

// DispatchAttempt records what happened to one provider during a dispatch.
// It is diagnostic only.
type DispatchAttempt struct {
	Provider string         `json:"provider"`
	Outcome  AttemptOutcome `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
	// Partial is set when a stream failed after emitting output.
	Partial  bool          `json:"partial,omitempty"`
	Duration time.Duration `json:"duration"`
}
