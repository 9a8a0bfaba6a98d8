package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"RelayLane/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
)

// openAIClientCacheSize bounds the number of per-credential clients kept alive.
const openAIClientCacheSize = 64

// OpenAIProvider calls an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	name       string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client

	// clients caches one go-openai client per credential fingerprint.
	clients *lru.Cache[string, *openai.Client]
}

// NewOpenAIProvider creates an OpenAI-compatible provider. An empty baseURL
// uses the public OpenAI endpoint.
func NewOpenAIProvider(name, baseURL, defaultModel string, maxTokens int, httpClient *http.Client) (*OpenAIProvider, error) {
	clients, err := lru.New[string, *openai.Client](openAIClientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{
		name:       name,
		baseURL:    baseURL,
		model:      defaultModel,
		maxTokens:  maxTokens,
		httpClient: httpClient,
		clients:    clients,
	}, nil
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

func credentialFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func (p *OpenAIProvider) client(cred model.Credential) *openai.Client {
	fp := credentialFingerprint(cred.APIKey)
	if c, ok := p.clients.Get(fp); ok {
		return c
	}

	cfg := openai.DefaultConfig(cred.APIKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	cfg.HTTPClient = p.httpClient

	c := openai.NewClientWithConfig(cfg)
	p.clients.Add(fp, c)
	return c
}

func (p *OpenAIProvider) request(req *model.GenerateRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model: p.model,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	out.Messages = append(out.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		out.MaxCompletionTokens = *req.MaxTokens
	} else if p.maxTokens > 0 {
		out.MaxCompletionTokens = p.maxTokens
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}
	return out
}

// Generate performs one blocking chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, req *model.GenerateRequest, cred model.Credential) (*model.Generation, error) {
	resp, err := p.client(cred).CreateChatCompletion(ctx, p.request(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	return &model.Generation{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream performs a streaming chat completion and forwards content deltas.
func (p *OpenAIProvider) Stream(ctx context.Context, req *model.GenerateRequest, cred model.Credential, onText model.TextHandler) error {
	creq := p.request(req)
	creq.Stream = true

	stream, err := p.client(cred).CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return fmt.Errorf("openai chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onText(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}
