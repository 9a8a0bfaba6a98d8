package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/data"
	"RelayLane/internal/model"
	pkglog "RelayLane/pkg/log"
	"RelayLane/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Skip reasons recorded for providers that were never attempted.
const (
	skipBreakerOpen   = "skipped: breaker open"
	skipNoCredentials = "skipped: no credentials"
	skipNotRegistered = "skipped: not registered"
)

// DispatcherConfig holds the chain-wide settings.
type DispatcherConfig struct {
	FallbackEnabled bool
	StreamMode      string
	// ProviderTimeout bounds one provider call unless the provider sets its own.
	ProviderTimeout time.Duration
	Breaker         CircuitBreakerConfig
}

// ProviderSpec registers one provider with the dispatcher.
type ProviderSpec struct {
	Provider Provider
	// Priority orders the default chain, lower first. Ties keep registration order.
	Priority  int
	Timeout   time.Duration
	Limits    ProviderLimits
	MaxTokens int32
}

// BreakerListener is notified of every breaker state change.
type BreakerListener func(model.BreakerTransition)

type providerEntry struct {
	ProviderSpec
	breaker *CircuitBreaker
	index   int
}

// DispatchResult is the outcome of a successful blocking dispatch.
type DispatchResult struct {
	Generation *model.Generation
	// Provider and Attempts are diagnostics and are not meant for end users.
	Provider string
	Attempts []model.DispatchAttempt
}

// StreamResult is the outcome of a successful streaming dispatch.
type StreamResult struct {
	Provider string
	Attempts []model.DispatchAttempt
	// Discontinuity is set when a provider failed after its output had
	// already been forwarded and a later provider continued the stream.
	Discontinuity bool
}

// DispatchOption customizes one dispatch call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	fallback  bool
	overrides map[string]string
	providers []string
}

// WithFallback overrides the configured fallback-enabled flag for one call.
func WithFallback(enabled bool) DispatchOption {
	return func(o *dispatchOptions) {
		o.fallback = enabled
	}
}

// WithCredentials supplies per-provider API keys that take precedence over
// the defaults for this call only.
func WithCredentials(overrides map[string]string) DispatchOption {
	return func(o *dispatchOptions) {
		o.overrides = overrides
	}
}

// WithProviders replaces the configured priority order for Generate and GenerateStream.
func WithProviders(names ...string) DispatchOption {
	return func(o *dispatchOptions) {
		o.providers = names
	}
}

// consumerError wraps an error returned by a stream consumer so it can be
// told apart from provider failures.
type consumerError struct {
	err error
}

func (e *consumerError) Error() string { return "stream consumer: " + e.err.Error() }
func (e *consumerError) Unwrap() error { return e.err }

// Dispatcher tries providers in priority order and returns the first success.
// Each provider has exactly one CircuitBreaker for the lifetime of the dispatcher.
type Dispatcher struct {
	cfg       DispatcherConfig
	providers map[string]*providerEntry
	ordered   []*providerEntry
	creds     CredentialResolver
	limiter   *RateLimiterUseCase
	metrics   *metrics.Collector
	log       *pkglog.LogHelper

	listenersMu sync.RWMutex
	listeners   []BreakerListener
}

// NewDispatcherConfig converts the resilience configuration section.
func NewDispatcherConfig(c *conf.Resilience) DispatcherConfig {
	cfg := DispatcherConfig{
		FallbackEnabled: true,
		StreamMode:      conf.StreamModeEager,
		ProviderTimeout: 60 * time.Second,
		Breaker:         NewCircuitBreakerConfig(c.Breaker),
	}
	if c.Dispatcher != nil {
		cfg.FallbackEnabled = c.Dispatcher.FallbackEnabled
		cfg.StreamMode = c.Dispatcher.StreamMode
		if d := c.Dispatcher.ProviderTimeout.AsDuration(); d > 0 {
			cfg.ProviderTimeout = d
		}
	}
	return cfg
}

// NewDispatcher builds the dispatcher from the configured providers.
func NewDispatcher(c *conf.Resilience, registry *data.ProviderRegistry, creds CredentialResolver,
	limiter *RateLimiterUseCase, collector *metrics.Collector, logger log.Logger) (*Dispatcher, error) {
	entries := registry.Entries()
	specs := make([]ProviderSpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, ProviderSpec{
			Provider:  e.Client,
			Priority:  int(e.Config.Priority),
			Timeout:   e.Config.Timeout.AsDuration(),
			Limits:    ProviderLimits{RPM: e.Config.RpmLimit, TPM: e.Config.TpmLimit},
			MaxTokens: e.Config.MaxTokens,
		})
	}
	return NewDispatcherWithProviders(NewDispatcherConfig(c), specs, creds, limiter, collector, logger)
}

// NewDispatcherWithProviders builds a dispatcher over explicit providers.
// limiter and collector may be nil.
func NewDispatcherWithProviders(cfg DispatcherConfig, specs []ProviderSpec, creds CredentialResolver,
	limiter *RateLimiterUseCase, collector *metrics.Collector, logger log.Logger, opts ...BreakerOption) (*Dispatcher, error) {
	if err := cfg.Breaker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker config: %w", err)
	}
	switch cfg.StreamMode {
	case "":
		cfg.StreamMode = conf.StreamModeEager
	case conf.StreamModeEager, conf.StreamModeBuffered:
	default:
		return nil, fmt.Errorf("unknown stream mode %q", cfg.StreamMode)
	}

	d := &Dispatcher{
		cfg:       cfg,
		providers: make(map[string]*providerEntry, len(specs)),
		creds:     creds,
		limiter:   limiter,
		metrics:   collector,
		log:       pkglog.NewLogHelper(logger),
	}

	opts = append(opts, WithStateChangeHook(d.notify))
	for i, spec := range specs {
		name := spec.Provider.Name()
		if _, dup := d.providers[name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		e := &providerEntry{
			ProviderSpec: spec,
			breaker:      NewCircuitBreaker(name, cfg.Breaker, opts...),
			index:        i,
		}
		d.providers[name] = e
		d.ordered = append(d.ordered, e)
		collector.SetBreakerState(name, string(model.BreakerClosed))
	}

	sort.SliceStable(d.ordered, func(i, j int) bool {
		return d.ordered[i].Priority < d.ordered[j].Priority
	})

	return d, nil
}

// RegisterStateChangeListener adds l to the breaker transition listeners.
func (d *Dispatcher) RegisterStateChangeListener(l BreakerListener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Dispatcher) notify(tr model.BreakerTransition) {
	d.metrics.SetBreakerState(tr.Provider, string(tr.To))
	d.log.Breaker(fmt.Sprintf("breaker %s: %s -> %s", tr.Provider, tr.From, tr.To),
		"provider", tr.Provider,
		"from", string(tr.From),
		"to", string(tr.To),
		"failure_count", tr.FailureCount,
		"manual", tr.Manual)

	d.listenersMu.RLock()
	listeners := append([]BreakerListener(nil), d.listeners...)
	d.listenersMu.RUnlock()

	for _, l := range listeners {
		l(tr)
	}
}

// FallbackEnabled reports the configured global flag.
func (d *Dispatcher) FallbackEnabled() bool {
	return d.cfg.FallbackEnabled
}

// ProviderNames lists registered providers in priority order.
func (d *Dispatcher) ProviderNames() []string {
	names := make([]string, 0, len(d.ordered))
	for _, e := range d.ordered {
		names = append(names, e.Provider.Name())
	}
	return names
}

// Breaker returns the breaker of a provider.
func (d *Dispatcher) Breaker(name string) (*CircuitBreaker, bool) {
	e, ok := d.providers[name]
	if !ok {
		return nil, false
	}
	return e.breaker, true
}

// Breakers snapshots every breaker in priority order.
func (d *Dispatcher) Breakers() []model.BreakerSnapshot {
	out := make([]model.BreakerSnapshot, 0, len(d.ordered))
	for _, e := range d.ordered {
		out = append(out, e.breaker.Snapshot())
	}
	return out
}

// ResetBreaker forces one provider's breaker closed.
func (d *Dispatcher) ResetBreaker(name string) (model.BreakerSnapshot, error) {
	e, ok := d.providers[name]
	if !ok {
		return model.BreakerSnapshot{}, newUnknownProviderError(name)
	}
	e.breaker.Reset()
	return e.breaker.Snapshot(), nil
}

// Available reports whether a credential can be resolved for the provider.
func (d *Dispatcher) Available(name string, overrides map[string]string) bool {
	if _, ok := d.providers[name]; !ok {
		return false
	}
	_, ok := d.credential(name, overrides)
	return ok
}

func (d *Dispatcher) credential(name string, overrides map[string]string) (model.Credential, bool) {
	if key := overrides[name]; key != "" {
		return model.Credential{APIKey: key, Source: model.CredentialOverride}, true
	}
	if d.creds == nil {
		return model.Credential{}, false
	}
	return d.creds.Default(name)
}

// PriorityOrder returns names as the chain order after checking that each
// is registered, or every provider by priority when names is empty.
func (d *Dispatcher) PriorityOrder(names ...string) ([]string, error) {
	if len(names) == 0 {
		return d.ProviderNames(), nil
	}
	for _, n := range names {
		if _, ok := d.providers[n]; !ok {
			return nil, newUnknownProviderError(n)
		}
	}
	return append([]string(nil), names...), nil
}

// AvailableOrder is PriorityOrder filtered to providers with resolvable credentials.
func (d *Dispatcher) AvailableOrder(overrides map[string]string, names ...string) ([]string, error) {
	order, err := d.PriorityOrder(names...)
	if err != nil {
		return nil, err
	}
	available := order[:0]
	for _, n := range order {
		if d.Available(n, overrides) {
			available = append(available, n)
		}
	}
	return available, nil
}

func (d *Dispatcher) options(opts []DispatchOption) dispatchOptions {
	o := dispatchOptions{fallback: d.cfg.FallbackEnabled}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Generate dispatches over the configured priority order, or the order
// given with WithProviders. Providers without credentials are skipped.
func (d *Dispatcher) Generate(ctx context.Context, req *model.GenerateRequest, opts ...DispatchOption) (*DispatchResult, error) {
	order, err := d.PriorityOrder(d.options(opts).providers...)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, req, order, opts...)
}

// GenerateStream is the streaming counterpart of Generate.
func (d *Dispatcher) GenerateStream(ctx context.Context, req *model.GenerateRequest, handler model.ChunkHandler, opts ...DispatchOption) (*StreamResult, error) {
	order, err := d.PriorityOrder(d.options(opts).providers...)
	if err != nil {
		return nil, err
	}
	return d.DispatchStream(ctx, req, order, handler, opts...)
}

// invokeFunc performs one provider call. partial reports whether output was
// already forwarded to a consumer when the call failed.
type invokeFunc func(ctx context.Context, e *providerEntry, cred model.Credential) (gen *model.Generation, partial bool, err error)

// Dispatch tries order front to back and returns the first success.
//
// A provider is skipped without being called when it has no credentials,
// its breaker denies execution, or its rate limit is exhausted. A failed
// call is recorded on the provider's breaker and, unless fallback is
// disabled, the next provider is tried. When the chain runs out the error
// is a *ProvidersExhaustedError covering every provider in order.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.GenerateRequest, order []string, opts ...DispatchOption) (*DispatchResult, error) {
	invoke := func(ctx context.Context, e *providerEntry, cred model.Credential) (*model.Generation, bool, error) {
		gen, err := e.Provider.Generate(ctx, req, cred)
		if err == nil && gen == nil {
			err = errors.New("empty response")
		}
		return gen, false, err
	}

	winner, gen, attempts, err := d.run(ctx, req, order, d.options(opts), invoke)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Generation: gen, Provider: winner, Attempts: attempts}, nil
}

// DispatchStream has the same chain semantics as Dispatch. A provider
// succeeds only once its stream ends without error.
//
// In eager mode chunks are forwarded as they arrive; output already sent by
// a provider that later fails cannot be retracted, so the result and the
// next provider's first chunk are marked as a discontinuity. In buffered
// mode a provider's chunks are released only after it succeeds.
//
// An error returned by handler aborts the dispatch immediately and is not
// counted against any breaker.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *model.GenerateRequest, order []string, handler model.ChunkHandler, opts ...DispatchOption) (*StreamResult, error) {
	res := &StreamResult{}
	buffered := d.cfg.StreamMode == conf.StreamModeBuffered

	invoke := func(ctx context.Context, e *providerEntry, cred model.Credential) (*model.Generation, bool, error) {
		name := e.Provider.Name()
		var (
			emitted bool
			pending []string
		)

		err := e.Provider.Stream(ctx, req, cred, func(text string) error {
			if buffered {
				pending = append(pending, text)
				return nil
			}
			chunk := model.StreamChunk{Provider: name, Text: text, Discontinuity: res.Discontinuity && !emitted}
			emitted = true
			if herr := handler(chunk); herr != nil {
				return &consumerError{err: herr}
			}
			return nil
		})
		if err != nil {
			if emitted {
				res.Discontinuity = true
			}
			return nil, emitted, err
		}

		for _, text := range pending {
			if herr := handler(model.StreamChunk{Provider: name, Text: text}); herr != nil {
				return nil, true, &consumerError{err: herr}
			}
		}
		return &model.Generation{}, false, nil
	}

	winner, _, attempts, err := d.run(ctx, req, order, d.options(opts), invoke)
	if err != nil {
		return nil, err
	}
	res.Provider = winner
	res.Attempts = attempts
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, req *model.GenerateRequest, order []string, o dispatchOptions, invoke invokeFunc) (string, *model.Generation, []model.DispatchAttempt, error) {
	if len(order) == 0 {
		return "", nil, nil, ErrNoProvidersAvailable
	}

	requestID := pkglog.GetRequestID(ctx)
	attempts := make([]model.DispatchAttempt, 0, len(order))
	skip := func(name, reason string) {
		attempts = append(attempts, model.DispatchAttempt{Provider: name, Outcome: model.AttemptSkipped, Reason: reason})
		d.metrics.ObserveAttempt(name, string(model.AttemptSkipped), 0)
	}

	for _, name := range order {
		e, ok := d.providers[name]
		if !ok {
			skip(name, skipNotRegistered)
			continue
		}

		cred, ok := d.credential(name, o.overrides)
		if !ok {
			skip(name, skipNoCredentials)
			continue
		}

		if !e.breaker.CanExecute() {
			skip(name, skipBreakerOpen)
			continue
		}

		estimated, err := d.limiter.Allow(ctx, name, e.Limits, req.Prompt, d.maxTokens(e, req))
		if err != nil {
			d.log.RateLimit("provider rate limited, skipping",
				"request_id", requestID,
				"provider", name,
				"reason", err.Error())
			skip(name, "skipped: "+err.Error())
			continue
		}

		timeout := e.Timeout
		if timeout <= 0 {
			timeout = d.cfg.ProviderTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		gen, partial, err := invoke(callCtx, e, cred)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			e.breaker.RecordSuccess()
			d.limiter.UpdateTPM(ctx, name, int32(gen.InputTokens+gen.OutputTokens), estimated) // #nosec G115 -- token counts are small
			attempts = append(attempts, model.DispatchAttempt{Provider: name, Outcome: model.AttemptSuccess, Duration: elapsed})
			d.metrics.ObserveAttempt(name, string(model.AttemptSuccess), elapsed)
			d.log.Dispatch("dispatch succeeded",
				"request_id", requestID,
				"provider", name,
				"attempts", len(attempts),
				"duration_ms", elapsed.Milliseconds(),
				"credential_source", string(cred.Source))
			return name, gen, attempts, nil
		}

		var cerr *consumerError
		if errors.As(err, &cerr) {
			return "", nil, attempts, cerr
		}
		if ctx.Err() != nil {
			return "", nil, attempts, fmt.Errorf("dispatch aborted: %w", ctx.Err())
		}

		e.breaker.RecordFailure()
		reason := err.Error()
		if partial {
			reason += " (after partial output)"
		}
		attempts = append(attempts, model.DispatchAttempt{
			Provider: name,
			Outcome:  model.AttemptFailure,
			Reason:   reason,
			Partial:  partial,
			Duration: elapsed,
		})
		d.metrics.ObserveAttempt(name, string(model.AttemptFailure), elapsed)
		d.log.Provider("provider call failed",
			"request_id", requestID,
			"provider", name,
			"error", reason,
			"partial", partial,
			"fallback", o.fallback)

		if !o.fallback {
			break
		}
	}

	exhausted := &ProvidersExhaustedError{Attempts: attempts}
	d.log.Warnw("msg", "all providers exhausted",
		"request_id", requestID,
		"reasons", exhausted.Error())
	return "", nil, attempts, exhausted
}

func (d *Dispatcher) maxTokens(e *providerEntry, req *model.GenerateRequest) int32 {
	if req.MaxTokens != nil {
		return int32(*req.MaxTokens) // #nosec G115 -- bounded by request validation
	}
	return e.MaxTokens
}
