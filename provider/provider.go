package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"searchrelay/config"
	"searchrelay/model"
)

// errorRateWindow bounds the trailing outcome window used for the fast health
// snapshot's error rate.
const errorRateWindow = 20

// degradedErrorRate is the trailing error rate above which a provider with a
// closed circuit is still reported DEGRADED.
const degradedErrorRate = 0.25

// Capabilities are declared once at construction and never change.
type Capabilities struct {
	MaxResults       int      `json:"max_results"`
	RateLimit        int      `json:"rate_limit"`
	SupportedFilters []string `json:"supported_filters,omitempty"`
	Technologies     []string `json:"technologies,omitempty"`
	Reliability      float64  `json:"reliability"`
}

// Backend is the contract a concrete search integration implements. Errors
// must be distinguishable from empty-but-valid results: an empty result set
// with a nil error is a valid answer.
type Backend interface {
	Name() string
	Search(ctx context.Context, opts model.SearchOptions) (*model.SearchResults, error)
	Capabilities() Capabilities
	CheckHealth(ctx context.Context) model.HealthCheck
	ValidateConfig() error
}

// Provider wraps a Backend behind a circuit breaker, a fixed-window rate
// limiter, and rolling latency/error accounting. All mutable state is owned by
// this instance and guarded by its own mutex; nothing is shared across
// providers.
type Provider struct {
	backend Backend
	cfg     config.ProviderConfig
	breaker *CircuitBreaker
	window  *RateWindow

	mu                  sync.Mutex
	enabled             bool
	priority            int
	latencyTotal        time.Duration
	latencyCount        int64
	recent              []bool
	consecutiveFailures int
	lastError           string
}

func New(backend Backend, cfg config.ProviderConfig) *Provider {
	return &Provider{
		backend:  backend,
		cfg:      cfg,
		breaker:  NewCircuitBreaker(cfg.Circuit.Threshold, cfg.Circuit.ResetTimeout),
		window:   NewRateWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		enabled:  cfg.IsEnabled(),
		priority: cfg.Priority,
	}
}

func (p *Provider) Name() string { return p.backend.Name() }

func (p *Provider) Capabilities() Capabilities { return p.backend.Capabilities() }

func (p *Provider) ValidateConfig() error { return p.backend.ValidateConfig() }

func (p *Provider) Config() config.ProviderConfig { return p.cfg }

func (p *Provider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *Provider) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

func (p *Provider) SetPriority(priority int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = priority
}

func (p *Provider) CircuitState() model.CircuitState { return p.breaker.State() }

func (p *Provider) RequestsInWindow() int { return p.window.Requests() }

// AvgLatency returns the mean observed latency, or zero when no calls have
// completed yet.
func (p *Provider) AvgLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latencyCount == 0 {
		return 0
	}
	return p.latencyTotal / time.Duration(p.latencyCount)
}

// ErrorRate is the failure fraction over the trailing outcome window.
func (p *Provider) ErrorRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorRateLocked()
}

func (p *Provider) errorRateLocked() float64 {
	if len(p.recent) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range p.recent {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(p.recent))
}

// Search runs the guarded call path: circuit gate, rate-limit gate, backend
// call, success/failure accounting. Context cancellation is not recorded as a
// provider failure.
func (p *Provider) Search(ctx context.Context, opts model.SearchOptions) (*model.SearchResults, error) {
	name := p.Name()

	if !p.breaker.Allow() {
		return nil, &model.ProviderError{Provider: name, Err: model.ErrCircuitOpen}
	}
	if !p.window.Allow() {
		return nil, &model.RateLimitExceededError{Provider: name, RetryAfter: p.window.RetryAfter()}
	}

	if opts.MaxResults <= 0 || opts.MaxResults > p.cfg.MaxResults {
		opts.MaxResults = p.cfg.MaxResults
	}

	start := time.Now()
	res, err := p.backend.Search(ctx, opts)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		p.breaker.OnFailure()
		p.record(false, elapsed, err)
		return nil, &model.ProviderError{Provider: name, Err: err}
	}

	p.breaker.OnSuccess()
	p.record(true, elapsed, nil)

	if res == nil {
		res = &model.SearchResults{}
	}
	res.Provider = name
	res.ExecutionTimeMs = elapsed.Milliseconds()
	for i := range res.Results {
		if res.Results[i].SourceDomain == "" {
			res.Results[i].SourceDomain = res.Results[i].Domain()
		}
	}
	return res, nil
}

// CheckHealth performs a live probe against the backend and merges in this
// instance's runtime state.
func (p *Provider) CheckHealth(ctx context.Context) model.HealthCheck {
	chk := p.backend.CheckHealth(ctx)

	p.mu.Lock()
	chk.ConsecutiveFailures = p.consecutiveFailures
	chk.ErrorRate = p.errorRateLocked()
	p.mu.Unlock()

	chk.Circuit = p.breaker.State()
	if chk.Circuit == model.CircuitOpen && chk.Status == model.StatusHealthy {
		chk.Status = model.StatusUnhealthy
		chk.Message = "circuit open"
	}
	if chk.Timestamp.IsZero() {
		chk.Timestamp = time.Now()
	}
	chk.ResponseTimeMs = chk.ResponseTime.Milliseconds()
	return chk
}

// HealthStatus derives a status from circuit state and the trailing error rate
// without touching the network. The registry uses it for fast filtering.
func (p *Provider) HealthStatus() model.HealthCheck {
	p.mu.Lock()
	errorRate := p.errorRateLocked()
	failures := p.consecutiveFailures
	lastError := p.lastError
	var avg time.Duration
	if p.latencyCount > 0 {
		avg = p.latencyTotal / time.Duration(p.latencyCount)
	}
	p.mu.Unlock()

	state := p.breaker.State()
	status := model.StatusHealthy
	msg := ""
	switch {
	case state == model.CircuitOpen:
		status = model.StatusUnhealthy
		msg = "circuit open"
	case state == model.CircuitHalfOpen:
		status = model.StatusDegraded
		msg = "circuit half-open"
	case errorRate > degradedErrorRate:
		status = model.StatusDegraded
		msg = fmt.Sprintf("error rate %.0f%%", errorRate*100)
	}
	if msg == "" && lastError != "" && failures > 0 {
		msg = lastError
	}

	return model.HealthCheck{
		Status:              status,
		ResponseTime:        avg,
		ResponseTimeMs:      avg.Milliseconds(),
		ConsecutiveFailures: failures,
		ErrorRate:           errorRate,
		Circuit:             state,
		Timestamp:           time.Now(),
		Message:             msg,
	}
}

func (p *Provider) record(success bool, elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recent = append(p.recent, success)
	if len(p.recent) > errorRateWindow {
		p.recent = p.recent[len(p.recent)-errorRateWindow:]
	}

	if success {
		p.latencyTotal += elapsed
		p.latencyCount++
		p.consecutiveFailures = 0
		p.lastError = ""
		return
	}
	p.consecutiveFailures++
	if err != nil {
		p.lastError = err.Error()
	}
}
