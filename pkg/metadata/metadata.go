// Package metadata parses per-request provider credential overrides.
// Overrides arrive as "provider=key" header values and travel with the
// request context; only masked forms are ever logged.
package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pkglog "RelayLane/pkg/log"
)

// HeaderProviderCredential carries one or more comma-separated "provider=key" pairs.
const HeaderProviderCredential = "X-Provider-Credential"

// maxOverrides bounds the number of providers a single request may override.
const maxOverrides = 16

// Overrides maps provider names to API keys.
type Overrides map[string]string

type contextKey struct{}

// Parse parses header values into Overrides. An empty input yields empty
// Overrides. A provider may appear only once per request.
func Parse(values []string) (Overrides, error) {
	out := Overrides{}
	for _, value := range values {
		for _, pair := range strings.Split(value, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, key, ok := strings.Cut(pair, "=")
			name, key = strings.TrimSpace(name), strings.TrimSpace(key)
			if !ok || name == "" {
				return nil, fmt.Errorf("invalid credential override %q: want provider=key", pkglog.MaskSecret(pair))
			}
			if key == "" {
				return nil, fmt.Errorf("empty credential for provider %s", name)
			}
			if strings.ContainsAny(name, " \t") {
				return nil, fmt.Errorf("invalid provider name %q", name)
			}
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("duplicate credential override for provider %s", name)
			}
			out[name] = key
		}
	}
	if len(out) > maxOverrides {
		return nil, fmt.Errorf("too many credential overrides: max %d allowed, got %d", maxOverrides, len(out))
	}
	return out, nil
}

// Providers returns the overridden provider names in sorted order.
func (o Overrides) Providers() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaskSensitive returns a copy with every key masked.
func (o Overrides) MaskSensitive() map[string]string {
	masked := make(map[string]string, len(o))
	for name, key := range o {
		masked[name] = pkglog.MaskSecret(key)
	}
	return masked
}

// NewContext returns ctx carrying o.
func NewContext(ctx context.Context, o Overrides) context.Context {
	return context.WithValue(ctx, contextKey{}, o)
}

// FromContext returns the overrides carried by ctx, or nil.
func FromContext(ctx context.Context) Overrides {
	o, _ := ctx.Value(contextKey{}).(Overrides)
	return o
}
