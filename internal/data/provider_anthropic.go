package data

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"RelayLane/internal/model"
)

const (
	// DefaultAnthropicBaseURL is the public Messages API endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	// anthropicDefaultMaxTokens is sent when neither request nor config sets a limit.
	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	name       string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewAnthropicProvider creates an Anthropic provider. An empty baseURL uses
// DefaultAnthropicBaseURL.
func NewAnthropicProvider(name, baseURL, defaultModel string, maxTokens int, httpClient *http.Client) *AnthropicProvider {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicProvider{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      defaultModel,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}
}

// Name returns the configured provider name.
func (p *AnthropicProvider) Name() string {
	return p.name
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicError is both the error response body and the SSE error event.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) body(req *model.GenerateRequest, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:         p.model,
		MaxTokens:     anthropicDefaultMaxTokens,
		System:        req.System,
		Messages:      []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        stream,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	} else if p.maxTokens > 0 {
		out.MaxTokens = p.maxTokens
	}
	return out
}

func (p *AnthropicProvider) do(ctx context.Context, body anthropicRequest, cred model.Credential) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cred.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr anthropicError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("anthropic status %d: %s: %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

// Generate performs one blocking Messages API call.
func (p *AnthropicProvider) Generate(ctx context.Context, req *model.GenerateRequest, cred model.Credential) (*model.Generation, error) {
	resp, err := p.do(ctx, p.body(req, false), cred)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic returned no text content")
	}

	return &model.Generation{
		Text:         text.String(),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// Stream performs a streaming Messages API call and forwards text deltas.
// A stream that ends without message_stop is an error.
func (p *AnthropicProvider) Stream(ctx context.Context, req *model.GenerateRequest, cred model.Credential, onText model.TextHandler) error {
	resp, err := p.do(ctx, p.body(req, true), cred)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode anthropic event: %w", err)
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			if err := onText(ev.Delta.Text); err != nil {
				return err
			}
		case "message_stop":
			return nil
		case "error":
			return fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read anthropic stream: %w", err)
	}
	return errors.New("anthropic stream ended before message_stop")
}
