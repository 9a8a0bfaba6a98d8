package biz

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"RelayLane/internal/conf"
	"RelayLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted Provider.
type fakeProvider struct {
	name     string
	generate func(ctx context.Context, req *model.GenerateRequest) (*model.Generation, error)
	stream   func(ctx context.Context, onText model.TextHandler) error

	mu    sync.Mutex
	calls int
	creds []model.Credential
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) record(cred model.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.creds = append(p.creds, cred)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) Generate(ctx context.Context, req *model.GenerateRequest, cred model.Credential) (*model.Generation, error) {
	p.record(cred)
	if p.generate == nil {
		return &model.Generation{Text: p.name + " says hi"}, nil
	}
	return p.generate(ctx, req)
}

func (p *fakeProvider) Stream(ctx context.Context, _ *model.GenerateRequest, cred model.Credential, onText model.TextHandler) error {
	p.record(cred)
	if p.stream == nil {
		return onText(p.name)
	}
	return p.stream(ctx, onText)
}

func failing(msg string) func(context.Context, *model.GenerateRequest) (*model.Generation, error) {
	return func(context.Context, *model.GenerateRequest) (*model.Generation, error) {
		return nil, errors.New(msg)
	}
}

// staticCredentials resolves every listed provider to a fixed key.
type staticCredentials map[string]string

func (s staticCredentials) Default(provider string) (model.Credential, bool) {
	key, ok := s[provider]
	if !ok {
		return model.Credential{}, false
	}
	return model.Credential{APIKey: key, Source: model.CredentialDefault}, true
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		FallbackEnabled: true,
		StreamMode:      conf.StreamModeEager,
		ProviderTimeout: time.Second,
		Breaker:         testBreakerConfig(),
	}
}

func newTestDispatcher(t *testing.T, cfg DispatcherConfig, providers ...*fakeProvider) *Dispatcher {
	t.Helper()
	specs := make([]ProviderSpec, 0, len(providers))
	creds := staticCredentials{}
	for i, p := range providers {
		specs = append(specs, ProviderSpec{Provider: p, Priority: i + 1})
		creds[p.name] = "key-" + p.name
	}
	d, err := NewDispatcherWithProviders(cfg, specs, creds, nil, nil, log.NewStdLogger(io.Discard))
	require.NoError(t, err)
	return d
}

func simpleRequest() *model.GenerateRequest {
	return &model.GenerateRequest{Prompt: "hello"}
}

func TestDispatch_FirstSuccessStopsChain(t *testing.T) {
	a := &fakeProvider{name: "a", generate: failing("boom")}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b, c)

	res, err := d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)

	assert.Equal(t, "b says hi", res.Generation.Text)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 0, c.Calls())

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, model.AttemptFailure, res.Attempts[0].Outcome)
	assert.Equal(t, "boom", res.Attempts[0].Reason)
	assert.Equal(t, model.AttemptSuccess, res.Attempts[1].Outcome)

	snapA, _ := d.Breaker("a")
	assert.Equal(t, 1, snapA.Snapshot().FailureCount)
}

func TestDispatch_AllFailedJoinsReasons(t *testing.T) {
	a := &fakeProvider{name: "a", generate: failing("timeout")}
	b := &fakeProvider{name: "b", generate: failing("status 500")}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	_, err := d.Generate(context.Background(), simpleRequest())
	require.Error(t, err)

	var exhausted *ProvidersExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "a: timeout\nb: status 500", err.Error())
	assert.Len(t, exhausted.Attempts, 2)

	kerr := exhausted.KratosError()
	assert.Equal(t, int32(503), kerr.Code)
	assert.Equal(t, ReasonAllProvidersExhausted, kerr.Reason)
	assert.Equal(t, "timeout", kerr.Metadata["a"])
}

func TestDispatch_OpenBreakerIsSkipped(t *testing.T) {
	a := &fakeProvider{name: "a", generate: failing("down")}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	// Threshold is 3
	for i := 0; i < 3; i++ {
		_, err := d.Generate(context.Background(), simpleRequest())
		require.NoError(t, err)
	}
	cb, _ := d.Breaker("a")
	require.Equal(t, model.BreakerOpen, cb.State())

	res, err := d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, a.Calls(), "open breaker must not reach the provider")
	assert.Equal(t, model.AttemptSkipped, res.Attempts[0].Outcome)
	assert.Equal(t, "skipped: breaker open", res.Attempts[0].Reason)
}

func TestDispatch_AllSkippedListsEveryProvider(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	cb, _ := d.Breaker("a")
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	_, err := d.Generate(context.Background(), simpleRequest(), WithProviders("a", "b"),
		WithCredentials(map[string]string{}))
	require.NoError(t, err, "b still has a default credential")

	d.creds = staticCredentials{"a": "key-a"}
	_, err = d.Generate(context.Background(), simpleRequest())
	require.Error(t, err)
	assert.Equal(t, "a: skipped: breaker open\nb: skipped: no credentials", err.Error())
	assert.Equal(t, 0, a.Calls())
}

func TestDispatch_FallbackDisabledStopsAfterFirstFailure(t *testing.T) {
	a := &fakeProvider{name: "a", generate: failing("boom")}
	b := &fakeProvider{name: "b"}

	cfg := testDispatcherConfig()
	cfg.FallbackEnabled = false
	d := newTestDispatcher(t, cfg, a, b)
	assert.False(t, d.FallbackEnabled())

	_, err := d.Generate(context.Background(), simpleRequest())
	require.Error(t, err)
	assert.Equal(t, "a: boom", err.Error())
	assert.Equal(t, 0, b.Calls())

	// Per-call override re-enables the chain
	res, err := d.Generate(context.Background(), simpleRequest(), WithFallback(true))
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
}

func TestDispatch_FallbackDisabledStillSkipsOpenBreaker(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}

	cfg := testDispatcherConfig()
	cfg.FallbackEnabled = false
	d := newTestDispatcher(t, cfg, a, b)

	cb, _ := d.Breaker("a")
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	res, err := d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
}

func TestDispatch_CredentialOverrides(t *testing.T) {
	a := &fakeProvider{name: "a"}
	d := newTestDispatcher(t, testDispatcherConfig(), a)

	_, err := d.Generate(context.Background(), simpleRequest(), WithCredentials(map[string]string{"a": "sk-caller"}))
	require.NoError(t, err)
	_, err = d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)

	require.Len(t, a.creds, 2)
	assert.Equal(t, model.Credential{APIKey: "sk-caller", Source: model.CredentialOverride}, a.creds[0])
	assert.Equal(t, model.Credential{APIKey: "key-a", Source: model.CredentialDefault}, a.creds[1],
		"an override must not leak into later calls")
}

func TestDispatch_ConcurrentOverridesDoNotInterfere(t *testing.T) {
	a := &fakeProvider{name: "a"}
	d := newTestDispatcher(t, testDispatcherConfig(), a)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "sk-" + string(rune('a'+i))
			_, err := d.Generate(context.Background(), simpleRequest(), WithCredentials(map[string]string{"a": key}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, c := range a.creds {
		seen[c.APIKey] = true
	}
	assert.Len(t, seen, 20)
}

func TestDispatch_EmptyOrder(t *testing.T) {
	d := newTestDispatcher(t, testDispatcherConfig())

	_, err := d.Generate(context.Background(), simpleRequest())
	assert.True(t, errors.Is(err, ErrNoProvidersAvailable))

	_, err = d.Dispatch(context.Background(), simpleRequest(), nil)
	assert.True(t, errors.Is(err, ErrNoProvidersAvailable))
}

func TestDispatch_UnknownProviders(t *testing.T) {
	a := &fakeProvider{name: "a"}
	d := newTestDispatcher(t, testDispatcherConfig(), a)

	_, err := d.Generate(context.Background(), simpleRequest(), WithProviders("a", "ghost"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 0, a.Calls())

	// Explicit orders record unknown names as skipped
	_, err = d.Dispatch(context.Background(), simpleRequest(), []string{"ghost"})
	require.Error(t, err)
	assert.Equal(t, "ghost: skipped: not registered", err.Error())
}

func TestDispatch_ExplicitOrder(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	res, err := d.Generate(context.Background(), simpleRequest(), WithProviders("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, 0, a.Calls())
}

func TestDispatch_ProviderTimeout(t *testing.T) {
	slow := &fakeProvider{name: "slow", generate: func(ctx context.Context, _ *model.GenerateRequest) (*model.Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &fakeProvider{name: "fast"}

	cfg := testDispatcherConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	d := newTestDispatcher(t, cfg, slow, fast)

	res, err := d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Provider)
	assert.Contains(t, res.Attempts[0].Reason, "deadline exceeded")

	cb, _ := d.Breaker("slow")
	assert.Equal(t, 1, cb.Snapshot().FailureCount)
}

func TestDispatch_CallerCancellationIsNotAProviderFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeProvider{name: "a", generate: func(ctx context.Context, _ *model.GenerateRequest) (*model.Generation, error) {
		cancel()
		return nil, ctx.Err()
	}}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	_, err := d.Generate(ctx, simpleRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, b.Calls())

	cb, _ := d.Breaker("a")
	assert.Equal(t, 0, cb.Snapshot().FailureCount)
}

func TestDispatch_RateLimitedProviderIsSkipped(t *testing.T) {
	repo := new(MockRateLimitRepo)
	repo.On("IncrementRPM", mock.Anything, "a").Return(int32(11), nil)
	limiter := newTestRateLimiter(repo)

	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d, err := NewDispatcherWithProviders(testDispatcherConfig(), []ProviderSpec{
		{Provider: a, Priority: 1, Limits: ProviderLimits{RPM: 10}},
		{Provider: b, Priority: 2},
	}, staticCredentials{"a": "k", "b": "k"}, limiter, nil, log.NewStdLogger(io.Discard))
	require.NoError(t, err)

	res, err := d.Generate(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, model.AttemptSkipped, res.Attempts[0].Outcome)
	assert.True(t, strings.HasPrefix(res.Attempts[0].Reason, "skipped: rate limit exceeded: RPM"))
	assert.Equal(t, 0, a.Calls())

	cb, _ := d.Breaker("a")
	assert.Equal(t, 0, cb.Snapshot().FailureCount, "rate limiting is not a provider failure")
	repo.AssertExpectations(t)
}

func TestDispatch_PriorityOrderAndSnapshots(t *testing.T) {
	low := &fakeProvider{name: "low"}
	high := &fakeProvider{name: "high"}
	d, err := NewDispatcherWithProviders(testDispatcherConfig(), []ProviderSpec{
		{Provider: low, Priority: 5},
		{Provider: high, Priority: 1},
	}, staticCredentials{"low": "k", "high": "k"}, nil, nil, log.NewStdLogger(io.Discard))
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low"}, d.ProviderNames())

	snaps := d.Breakers()
	require.Len(t, snaps, 2)
	assert.Equal(t, "high", snaps[0].Name)
	assert.Equal(t, model.BreakerClosed, snaps[0].State)
}

func TestNewDispatcherWithProviders_Rejects(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)

	_, err := NewDispatcherWithProviders(testDispatcherConfig(), []ProviderSpec{
		{Provider: &fakeProvider{name: "a"}},
		{Provider: &fakeProvider{name: "a"}},
	}, nil, nil, nil, logger)
	assert.Error(t, err)

	cfg := testDispatcherConfig()
	cfg.StreamMode = "lazy"
	_, err = NewDispatcherWithProviders(cfg, nil, nil, nil, nil, logger)
	assert.Error(t, err)

	cfg = testDispatcherConfig()
	cfg.Breaker.FailureThreshold = 0
	_, err = NewDispatcherWithProviders(cfg, nil, nil, nil, nil, logger)
	assert.Error(t, err)
}

func TestDispatcher_ResetBreakerAndListeners(t *testing.T) {
	a := &fakeProvider{name: "a", generate: failing("down")}
	d := newTestDispatcher(t, testDispatcherConfig(), a)

	var mu sync.Mutex
	var seen []model.BreakerTransition
	d.RegisterStateChangeListener(func(tr model.BreakerTransition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	for i := 0; i < 3; i++ {
		_, _ = d.Generate(context.Background(), simpleRequest())
	}

	snap, err := d.ResetBreaker("a")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, snap.State)

	_, err = d.ResetBreaker("ghost")
	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, model.BreakerOpen, seen[0].To)
	assert.Equal(t, model.BreakerClosed, seen[1].To)
	assert.True(t, seen[1].Manual)
}

func TestDispatcher_AvailableOrder(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)
	d.creds = staticCredentials{"b": "k"}

	order, err := d.AvailableOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, order)

	order, err = d.AvailableOrder(map[string]string{"a": "sk"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

// collectChunks returns a ChunkHandler that appends into dst.
func collectChunks(dst *[]model.StreamChunk) model.ChunkHandler {
	return func(c model.StreamChunk) error {
		*dst = append(*dst, c)
		return nil
	}
}

func partialThenFail(parts ...string) func(context.Context, model.TextHandler) error {
	return func(_ context.Context, onText model.TextHandler) error {
		for _, p := range parts {
			if err := onText(p); err != nil {
				return err
			}
		}
		return errors.New("connection reset")
	}
}

func TestDispatchStream_EagerMarksDiscontinuity(t *testing.T) {
	a := &fakeProvider{name: "a", stream: partialThenFail("Hel")}
	b := &fakeProvider{name: "b", stream: func(_ context.Context, onText model.TextHandler) error {
		if err := onText("Hello"); err != nil {
			return err
		}
		return onText(" world")
	}}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	var chunks []model.StreamChunk
	res, err := d.GenerateStream(context.Background(), simpleRequest(), collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, "b", res.Provider)
	assert.True(t, res.Discontinuity)
	assert.Equal(t, []model.StreamChunk{
		{Provider: "a", Text: "Hel"},
		{Provider: "b", Text: "Hello", Discontinuity: true},
		{Provider: "b", Text: " world"},
	}, chunks)

	require.Len(t, res.Attempts, 2)
	assert.True(t, res.Attempts[0].Partial)
	assert.Equal(t, "connection reset (after partial output)", res.Attempts[0].Reason)
}

func TestDispatchStream_FailureBeforeOutputIsClean(t *testing.T) {
	a := &fakeProvider{name: "a", stream: partialThenFail()}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	var chunks []model.StreamChunk
	res, err := d.GenerateStream(context.Background(), simpleRequest(), collectChunks(&chunks))
	require.NoError(t, err)

	assert.False(t, res.Discontinuity)
	assert.Equal(t, []model.StreamChunk{{Provider: "b", Text: "b"}}, chunks)
	assert.Equal(t, "connection reset", res.Attempts[0].Reason)
}

func TestDispatchStream_BufferedReleasesOnlySuccess(t *testing.T) {
	a := &fakeProvider{name: "a", stream: partialThenFail("Hel", "lo")}
	b := &fakeProvider{name: "b", stream: func(_ context.Context, onText model.TextHandler) error {
		_ = onText("Hi")
		return onText("!")
	}}

	cfg := testDispatcherConfig()
	cfg.StreamMode = conf.StreamModeBuffered
	d := newTestDispatcher(t, cfg, a, b)

	var chunks []model.StreamChunk
	res, err := d.GenerateStream(context.Background(), simpleRequest(), collectChunks(&chunks))
	require.NoError(t, err)

	assert.False(t, res.Discontinuity)
	assert.Equal(t, []model.StreamChunk{
		{Provider: "b", Text: "Hi"},
		{Provider: "b", Text: "!"},
	}, chunks)
}

func TestDispatchStream_AllFail(t *testing.T) {
	a := &fakeProvider{name: "a", stream: partialThenFail("x")}
	b := &fakeProvider{name: "b", stream: partialThenFail()}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	var chunks []model.StreamChunk
	_, err := d.GenerateStream(context.Background(), simpleRequest(), collectChunks(&chunks))
	require.Error(t, err)
	assert.Equal(t, "a: connection reset (after partial output)\nb: connection reset", err.Error())
}

func TestDispatchStream_ConsumerErrorAborts(t *testing.T) {
	a := &fakeProvider{name: "a", stream: func(_ context.Context, onText model.TextHandler) error {
		return onText("data")
	}}
	b := &fakeProvider{name: "b"}
	d := newTestDispatcher(t, testDispatcherConfig(), a, b)

	gone := errors.New("client went away")
	_, err := d.GenerateStream(context.Background(), simpleRequest(), func(model.StreamChunk) error {
		return gone
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gone))
	assert.Equal(t, 0, b.Calls())

	cb, _ := d.Breaker("a")
	assert.Equal(t, 0, cb.Snapshot().FailureCount)
}

func TestNewDispatcherConfig(t *testing.T) {
	cfg := NewDispatcherConfig(&conf.Resilience{
		Dispatcher: &conf.Dispatcher{FallbackEnabled: false, StreamMode: conf.StreamModeBuffered},
	})
	assert.False(t, cfg.FallbackEnabled)
	assert.Equal(t, conf.StreamModeBuffered, cfg.StreamMode)
	assert.Equal(t, 60*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, DefaultCircuitBreakerConfig(), cfg.Breaker)
}
