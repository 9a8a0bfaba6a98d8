package data

import (
	"context"
	"fmt"
	"strings"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/pkg/httpclient"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderClient is an upstream text-generation API. It satisfies biz.Provider.
type ProviderClient interface {
	Name() string
	Generate(ctx context.Context, req *model.GenerateRequest, cred model.Credential) (*model.Generation, error)
	Stream(ctx context.Context, req *model.GenerateRequest, cred model.Credential, onText model.TextHandler) error
}

// ProviderEntry pairs a client with its configuration.
type ProviderEntry struct {
	Client ProviderClient
	Config *conf.Provider
}

// ProviderRegistry holds the configured provider clients in configuration order.
type ProviderRegistry struct {
	entries []ProviderEntry
}

// NewProviderRegistry builds one client per configured provider.
func NewProviderRegistry(c *conf.Resilience, logger log.Logger) (*ProviderRegistry, error) {
	helper := pkglog.NewLogHelper(logger)
	r := &ProviderRegistry{}
	if c == nil {
		return r, nil
	}

	for _, p := range c.Providers {
		client, err := newProviderClient(p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		r.entries = append(r.entries, ProviderEntry{Client: client, Config: p})

		helper.Startup("provider registered",
			"provider", p.Name,
			"provider_type", p.Type,
			"priority", p.Priority,
			"model", p.Model,
			"proxy", p.ProxyUrl != "")
	}
	return r, nil
}

func newProviderClient(p *conf.Provider) (ProviderClient, error) {
	httpClient, err := httpclient.New(httpclient.Options{
		ProxyURL:              p.ProxyUrl,
		ResponseHeaderTimeout: p.Timeout.AsDuration(),
	})
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(p.Type) {
	case conf.ProviderTypeOpenAI:
		return NewOpenAIProvider(p.Name, p.BaseUrl, p.Model, int(p.MaxTokens), httpClient)
	case conf.ProviderTypeAnthropic:
		return NewAnthropicProvider(p.Name, p.BaseUrl, p.Model, int(p.MaxTokens), httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

// Entries returns the registered providers in configuration order.
func (r *ProviderRegistry) Entries() []ProviderEntry {
	return append([]ProviderEntry(nil), r.entries...)
}
