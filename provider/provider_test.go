package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"searchrelay/config"
	"searchrelay/model"
)

type fakeBackend struct {
	name    string
	results *model.SearchResults
	err     error
	delay   time.Duration
	health  model.HealthCheck
	calls   int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(ctx context.Context, _ model.SearchOptions) (*model.SearchResults, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeBackend) Capabilities() Capabilities { return Capabilities{MaxResults: 10} }

func (f *fakeBackend) CheckHealth(context.Context) model.HealthCheck { return f.health }

func (f *fakeBackend) ValidateConfig() error { return nil }

func testCfg(name string) config.ProviderConfig {
	cfg := config.ProviderConfig{
		Name: name,
		Kind: "httpjson",
		Circuit: config.CircuitConfig{
			Threshold:    3,
			ResetTimeout: time.Minute,
		},
		RateLimit:  config.RateLimitConfig{Window: time.Minute},
		MaxResults: 10,
		Timeout:    time.Second,
	}
	return cfg
}

func TestProvider_GuardedSearchTagsResults(t *testing.T) {
	backend := &fakeBackend{
		name: "alpha",
		results: &model.SearchResults{
			Results: []model.SearchResult{{Title: "t", URL: "https://www.example.com/a", Rank: 1}},
			Total:   1,
		},
	}
	p := New(backend, testCfg("alpha"))

	res, err := p.Search(context.Background(), model.SearchOptions{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, "alpha", res.Provider)
	require.Equal(t, "example.com", res.Results[0].SourceDomain)
	require.GreaterOrEqual(t, res.ExecutionTimeMs, int64(0))
}

func TestProvider_CircuitOpensAndRejectsWithoutBackendCall(t *testing.T) {
	backend := &fakeBackend{name: "alpha", err: errors.New("boom")}
	p := New(backend, testCfg("alpha"))

	for i := 0; i < 3; i++ {
		_, err := p.Search(context.Background(), model.SearchOptions{Query: "q"})
		require.Error(t, err)
	}
	require.Equal(t, model.CircuitOpen, p.CircuitState())

	calls := backend.calls
	_, err := p.Search(context.Background(), model.SearchOptions{Query: "q"})
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, model.ErrCircuitOpen)
	require.Equal(t, calls, backend.calls, "open circuit must not reach the backend")
}

func TestProvider_RateLimitRejectsWithRetryAfter(t *testing.T) {
	cfg := testCfg("alpha")
	cfg.RateLimit = config.RateLimitConfig{Requests: 1, Window: time.Minute}
	backend := &fakeBackend{name: "alpha", results: &model.SearchResults{}}
	p := New(backend, cfg)

	_, err := p.Search(context.Background(), model.SearchOptions{Query: "q"})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), model.SearchOptions{Query: "q"})
	var rl *model.RateLimitExceededError
	require.ErrorAs(t, err, &rl)
	require.Positive(t, rl.RetryAfter)
	require.Equal(t, 1, p.RequestsInWindow(), "refused call must not count")
}

func TestProvider_CancellationIsNotAFailure(t *testing.T) {
	backend := &fakeBackend{name: "alpha", delay: time.Second}
	p := New(backend, testCfg("alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Search(ctx, model.SearchOptions{Query: "q"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, model.CircuitClosed, p.CircuitState())
	require.Zero(t, p.ErrorRate())
}

func TestProvider_HealthStatusDegradedOnHighErrorRate(t *testing.T) {
	cfg := testCfg("alpha")
	cfg.Circuit.Threshold = 100 // keep the circuit out of the way
	backend := &fakeBackend{name: "alpha", results: &model.SearchResults{}}
	p := New(backend, cfg)

	for i := 0; i < 6; i++ {
		_, _ = p.Search(context.Background(), model.SearchOptions{Query: "q"})
	}
	backend.err = errors.New("boom")
	for i := 0; i < 4; i++ {
		_, _ = p.Search(context.Background(), model.SearchOptions{Query: "q"})
	}

	chk := p.HealthStatus()
	require.Equal(t, model.StatusDegraded, chk.Status)
	require.InDelta(t, 0.4, chk.ErrorRate, 0.01)
	require.Equal(t, 4, chk.ConsecutiveFailures)
}

func TestProvider_HealthStatusUnhealthyWhenCircuitOpen(t *testing.T) {
	backend := &fakeBackend{name: "alpha", err: errors.New("boom")}
	p := New(backend, testCfg("alpha"))
	for i := 0; i < 3; i++ {
		_, _ = p.Search(context.Background(), model.SearchOptions{Query: "q"})
	}

	chk := p.HealthStatus()
	require.Equal(t, model.StatusUnhealthy, chk.Status)
	require.Equal(t, model.CircuitOpen, chk.Circuit)
}

func TestProvider_RuntimePriorityAndEnableToggles(t *testing.T) {
	p := New(&fakeBackend{name: "alpha"}, testCfg("alpha"))
	require.True(t, p.Enabled())

	p.SetEnabled(false)
	require.False(t, p.Enabled())
	p.SetPriority(7)
	require.Equal(t, 7, p.Priority())
}
