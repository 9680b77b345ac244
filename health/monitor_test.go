package health

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"searchrelay/config"
	"searchrelay/model"
	"searchrelay/provider"
	"searchrelay/registry"
)

type fakeBackend struct {
	name   string
	health model.HealthCheck
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(context.Context, model.SearchOptions) (*model.SearchResults, error) {
	return &model.SearchResults{}, nil
}

func (f *fakeBackend) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (f *fakeBackend) CheckHealth(context.Context) model.HealthCheck { return f.health }

func (f *fakeBackend) ValidateConfig() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMonitor(sink AlertFunc) *Monitor {
	reg := registry.New(discardLogger())
	cfg := config.HealthConfig{
		CheckInterval: time.Minute,
		CheckTimeout:  time.Second,
		AlertCooldown: 5 * time.Minute,
	}
	return New(reg, cfg, sink, discardLogger())
}

func check(status model.HealthStatus) model.HealthCheck {
	return model.HealthCheck{Status: status, Timestamp: time.Now()}
}

func TestMonitor_TrendImproving(t *testing.T) {
	m := testMonitor(nil)
	for _, s := range []model.HealthStatus{
		model.StatusUnhealthy, model.StatusUnhealthy,
		model.StatusHealthy, model.StatusHealthy, model.StatusHealthy,
	} {
		m.Record("p", check(s))
	}
	require.Equal(t, model.TrendImproving, m.Trend("p"))
}

func TestMonitor_TrendDegrading(t *testing.T) {
	m := testMonitor(nil)
	for _, s := range []model.HealthStatus{
		model.StatusHealthy, model.StatusHealthy,
		model.StatusUnhealthy, model.StatusUnhealthy, model.StatusUnhealthy,
	} {
		m.Record("p", check(s))
	}
	require.Equal(t, model.TrendDegrading, m.Trend("p"))
}

func TestMonitor_TrendVolatileOnManyDistinctValues(t *testing.T) {
	m := testMonitor(nil)
	for _, s := range []model.HealthStatus{
		model.StatusHealthy, model.StatusUnhealthy,
		model.StatusDegraded, model.StatusHealthy, model.StatusUnhealthy,
	} {
		m.Record("p", check(s))
	}
	require.Equal(t, model.TrendVolatile, m.Trend("p"))
}

func TestMonitor_TrendStableWithFewSamples(t *testing.T) {
	m := testMonitor(nil)
	m.Record("p", check(model.StatusHealthy))
	require.Equal(t, model.TrendStable, m.Trend("p"))
}

func TestMonitor_AvailabilityCountsDegradedAsUp(t *testing.T) {
	m := testMonitor(nil)
	for _, s := range []model.HealthStatus{
		model.StatusHealthy, model.StatusDegraded,
		model.StatusUnhealthy, model.StatusHealthy,
	} {
		m.Record("p", check(s))
	}
	require.InDelta(t, 0.75, m.Availability("p"), 0.001)
}

func TestMonitor_FailurePatterns(t *testing.T) {
	m := testMonitor(nil)
	for i := 0; i < 5; i++ {
		m.Record("down", check(model.StatusUnhealthy))
	}
	require.Equal(t, "consistent_failure", m.FailurePattern("down"))

	for _, s := range []model.HealthStatus{
		model.StatusHealthy, model.StatusUnhealthy, model.StatusHealthy,
		model.StatusUnhealthy, model.StatusHealthy, model.StatusUnhealthy,
		model.StatusHealthy, model.StatusHealthy, model.StatusHealthy,
		model.StatusHealthy,
	} {
		m.Record("flaky", check(s))
	}
	require.Equal(t, "intermittent", m.FailurePattern("flaky"))
}

func TestMonitor_WindowIsBounded(t *testing.T) {
	m := testMonitor(nil)
	for i := 0; i < 25; i++ {
		m.Record("p", check(model.StatusHealthy))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	require.Len(t, m.windows["p"], windowSize)
}

func TestMonitor_DownAlertAfterThreeConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var got []model.Alert
	m := testMonitor(func(a model.Alert) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		m.Record("p", check(model.StatusUnhealthy))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Type == model.AlertProviderDown
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_AlertsRateLimitedPerProvider(t *testing.T) {
	var mu sync.Mutex
	count := 0
	m := testMonitor(func(model.Alert) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 8; i++ {
		m.Record("p", check(model.StatusUnhealthy))
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

func TestMonitor_RecoveryAlert(t *testing.T) {
	var mu sync.Mutex
	var got []model.Alert
	m := testMonitor(func(a model.Alert) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})
	m.cooldown = 0 // allow back-to-back alerts for this test

	m.Record("p", check(model.StatusUnhealthy))
	m.Record("p", check(model.StatusHealthy))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range got {
			if a.Type == model.AlertProviderRecovered {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_PanickingSinkDoesNotAbortMonitoring(t *testing.T) {
	m := testMonitor(func(model.Alert) { panic("sink blew up") })
	m.cooldown = 0

	for i := 0; i < 5; i++ {
		m.Record("p", check(model.StatusUnhealthy))
	}
	time.Sleep(50 * time.Millisecond)

	// Monitoring state must still be intact.
	require.Equal(t, 0.0, m.Availability("p"))
	require.NotEmpty(t, m.Summary().Alerts)
}

func TestMonitor_RunChecksPollsRegisteredProviders(t *testing.T) {
	reg := registry.New(discardLogger())
	backend := &fakeBackend{name: "p", health: check(model.StatusHealthy)}
	cfg := config.ProviderConfig{
		Name:       "p",
		Kind:       "httpjson",
		Circuit:    config.CircuitConfig{Threshold: 5, ResetTimeout: time.Minute},
		RateLimit:  config.RateLimitConfig{Window: time.Minute},
		MaxResults: 10,
	}
	require.NoError(t, reg.Add(provider.New(backend, cfg), false))

	m := New(reg, config.HealthConfig{
		CheckInterval: time.Minute,
		CheckTimeout:  time.Second,
		AlertCooldown: 5 * time.Minute,
	}, nil, discardLogger())

	m.RunChecks(context.Background())

	summary := m.Summary()
	require.Equal(t, model.StatusHealthy, summary.Overall)
	require.Contains(t, summary.Providers, "p")
}

func TestMonitor_SummaryOverallDegradedWhenMixed(t *testing.T) {
	m := testMonitor(nil)
	m.Record("good", check(model.StatusHealthy))
	m.Record("bad", check(model.StatusUnhealthy))

	summary := m.Summary()
	require.Equal(t, model.StatusDegraded, summary.Overall)
}
