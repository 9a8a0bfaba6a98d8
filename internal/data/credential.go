package data

import (
	"os"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"
	"RelayLane/pkg/crypto"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// CredentialStore resolves default provider credentials. It implements
// biz.CredentialResolver and is read-only after construction.
type CredentialStore struct {
	defaults map[string]string
}

// NewCredentialStore loads default keys from configuration. api_key wins
// over api_key_env; a provider with neither has no default credential.
// Sealed values ("enc:...") are opened with crypto.KeyEnv; one that cannot
// be opened leaves the provider without a default.
func NewCredentialStore(c *conf.Resilience, logger log.Logger) *CredentialStore {
	helper := pkglog.NewLogHelper(logger)
	s := &CredentialStore{defaults: make(map[string]string)}
	if c == nil {
		return s
	}

	for _, p := range c.Providers {
		key, source := p.ApiKey, "config"
		if key == "" && p.ApiKeyEnv != "" {
			key, source = os.Getenv(p.ApiKeyEnv), "env:"+p.ApiKeyEnv
		}
		if crypto.IsSealed(key) {
			opened, err := crypto.Open(key)
			if err != nil {
				helper.Errorw("msg", "cannot unseal provider credential",
					"provider", p.Name,
					"source", source,
					"error", err.Error(),
					"type", "credential")
				continue
			}
			key, source = opened, source+" (sealed)"
		}
		if key == "" {
			helper.Credential("no default credential, provider needs per-call overrides",
				"provider", p.Name)
			continue
		}
		s.defaults[p.Name] = key
		helper.Credential("default credential loaded",
			"provider", p.Name,
			"source", source,
			"api_key_masked", pkglog.MaskSecret(key))
	}
	return s
}

// Default returns the configured credential of provider.
func (s *CredentialStore) Default(provider string) (model.Credential, bool) {
	key, ok := s.defaults[provider]
	if !ok {
		return model.Credential{}, false
	}
	return model.Credential{APIKey: key, Source: model.CredentialDefault}, true
}
