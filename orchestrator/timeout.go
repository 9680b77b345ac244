package orchestrator

import (
	"math"
	"sort"
	"sync"
	"time"

	"searchrelay/config"
)

// AdaptiveTimeouts keeps a bounded window of observed latencies per provider
// and derives a per-call timeout from the P95 plus headroom. Providers without
// enough samples get the configured default.
type AdaptiveTimeouts struct {
	mu      sync.Mutex
	cfg     config.TimeoutConfig
	samples map[string][]time.Duration
}

func NewAdaptiveTimeouts(cfg config.TimeoutConfig) *AdaptiveTimeouts {
	return &AdaptiveTimeouts{
		cfg:     cfg,
		samples: make(map[string][]time.Duration),
	}
}

// Record adds one successful-call latency. Timeouts and refusals are not
// recorded: they would drag the window toward the very latencies we are
// trying to cut off.
func (a *AdaptiveTimeouts) Record(provider string, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := append(a.samples[provider], elapsed)
	if len(window) > a.cfg.WindowSize {
		window = window[len(window)-a.cfg.WindowSize:]
	}
	a.samples[provider] = window
}

// Timeout returns the timeout to apply to the next call against provider.
func (a *AdaptiveTimeouts) Timeout(provider string) time.Duration {
	a.mu.Lock()
	window := a.samples[provider]
	if len(window) < a.cfg.MinSamples {
		a.mu.Unlock()
		return a.cfg.Default
	}
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	a.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// Nearest-rank P95.
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	p95 := sorted[idx]

	timeout := p95 + p95/5
	if timeout < a.cfg.Min {
		return a.cfg.Min
	}
	if timeout > a.cfg.Max {
		return a.cfg.Max
	}
	return timeout
}

// Samples reports the current window size for a provider.
func (a *AdaptiveTimeouts) Samples(provider string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples[provider])
}
