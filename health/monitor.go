package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"searchrelay/config"
	"searchrelay/model"
	"searchrelay/registry"
)

const (
	windowSize   = 10
	trendWindow  = 5
	maxKeptAlert = 100
)

// AlertFunc receives structured alerts. It runs asynchronously; a panicking or
// slow sink never stalls monitoring.
type AlertFunc func(model.Alert)

// Monitor polls every active provider on a timer, keeps a bounded rolling
// window of health checks per provider, and raises rate-limited alerts. The
// rolling windows are owned exclusively by the monitor.
type Monitor struct {
	reg      *registry.Registry
	interval time.Duration
	timeout  time.Duration
	cooldown time.Duration
	sink     AlertFunc
	log      *slog.Logger
	cancel   context.CancelFunc

	mu        sync.RWMutex
	windows   map[string][]model.HealthCheck
	lastAlert map[string]time.Time
	alerts    []model.Alert
}

func New(reg *registry.Registry, cfg config.HealthConfig, sink AlertFunc, logger *slog.Logger) *Monitor {
	return &Monitor{
		reg:       reg,
		interval:  cfg.CheckInterval,
		timeout:   cfg.CheckTimeout,
		cooldown:  cfg.AlertCooldown,
		sink:      sink,
		log:       logger,
		windows:   make(map[string][]model.HealthCheck),
		lastAlert: make(map[string]time.Time),
	}
}

func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.log.Info("health monitor started", "interval", m.interval)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	m.RunChecks(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks polls every enabled provider concurrently. Check failures only
// affect metrics and alerts; they never propagate.
func (m *Monitor) RunChecks(ctx context.Context) {
	providers := m.reg.List(true, false)

	var g errgroup.Group
	for _, p := range providers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			chk := p.CheckHealth(checkCtx)
			m.Record(p.Name(), chk)
			return nil
		})
	}
	_ = g.Wait()
}

// Record appends a check to the provider's rolling window and evaluates alert
// conditions.
func (m *Monitor) Record(name string, chk model.HealthCheck) {
	if chk.Timestamp.IsZero() {
		chk.Timestamp = time.Now()
	}

	m.mu.Lock()
	window := append(m.windows[name], chk)
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	m.windows[name] = window

	var prev *model.HealthCheck
	if len(window) >= 2 {
		prev = &window[len(window)-2]
	}
	trend := trendOf(window)
	m.mu.Unlock()

	switch {
	case chk.Status == model.StatusUnhealthy && consecutiveUnhealthy(window) >= 3:
		m.raise(name, model.AlertProviderDown,
			fmt.Sprintf("provider %s down: %d consecutive failed checks", name, consecutiveUnhealthy(window)))
	case trend == model.TrendDegrading:
		m.raise(name, model.AlertHealthDegrading,
			fmt.Sprintf("provider %s health degrading", name))
	case prev != nil && prev.Status == model.StatusUnhealthy && chk.Status == model.StatusHealthy:
		m.raise(name, model.AlertProviderRecovered,
			fmt.Sprintf("provider %s recovered", name))
	}

	if chk.Status != model.StatusHealthy {
		m.log.Warn("health check",
			"provider", name,
			"status", chk.Status.String(),
			"circuit", chk.Circuit.String(),
			"error_rate", chk.ErrorRate,
			"message", chk.Message,
		)
	}
}

// raise emits an alert unless one was already sent for this provider inside
// the cooldown window.
func (m *Monitor) raise(name string, typ model.AlertType, msg string) {
	now := time.Now()

	m.mu.Lock()
	if last, ok := m.lastAlert[name]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[name] = now
	alert := model.Alert{Provider: name, Type: typ, Message: msg, Timestamp: now}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxKeptAlert {
		m.alerts = m.alerts[len(m.alerts)-maxKeptAlert:]
	}
	sink := m.sink
	m.mu.Unlock()

	m.log.Warn("alert raised", "provider", name, "type", string(typ), "message", msg)

	if sink != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("alert sink panicked", "provider", name, "panic", r)
				}
			}()
			sink(alert)
		}()
	}
}

// Trend classifies the recent direction of a provider's health.
func (m *Monitor) Trend(name string) model.Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return trendOf(m.windows[name])
}

// Availability is the fraction of recent checks that were HEALTHY or DEGRADED.
func (m *Monitor) Availability(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.windows[name]
	if len(window) == 0 {
		return 0
	}
	up := 0
	for _, chk := range window {
		if chk.Status == model.StatusHealthy || chk.Status == model.StatusDegraded {
			up++
		}
	}
	return float64(up) / float64(len(window))
}

// FailurePattern labels how a provider is failing, if it is.
func (m *Monitor) FailurePattern(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.windows[name]
	if len(window) == 0 {
		return ""
	}

	last5 := tail(window, 5)
	unhealthy5 := countUnhealthy(last5)
	if len(last5) >= 5 && unhealthy5 >= 4 {
		return "consistent_failure"
	}

	unhealthy10 := countUnhealthy(tail(window, 10))
	if unhealthy10 >= 3 && unhealthy10 <= 6 {
		return "intermittent"
	}

	if trendOf(window) == model.TrendDegrading {
		return "progressive_degradation"
	}
	return ""
}

// Summary is the aggregate view served by the API.
func (m *Monitor) Summary() model.HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make(map[string]model.ProviderHealth, len(m.windows))
	healthyish, total := 0, 0
	for name, window := range m.windows {
		if len(window) == 0 {
			continue
		}
		last := window[len(window)-1]
		var latSum time.Duration
		for _, chk := range window {
			latSum += chk.ResponseTime
		}

		providers[name] = model.ProviderHealth{
			Status:              last.Status,
			Trend:               trendOf(window),
			Availability:        availabilityOf(window),
			AvgLatencyMs:        (latSum / time.Duration(len(window))).Milliseconds(),
			FailurePattern:      m.failurePatternLocked(window),
			ConsecutiveFailures: last.ConsecutiveFailures,
			LastCheck:           last.Timestamp,
		}
		total++
		if last.Status == model.StatusHealthy || last.Status == model.StatusDegraded {
			healthyish++
		}
	}

	overall := model.StatusUnknown
	switch {
	case total == 0:
	case healthyish == total:
		overall = model.StatusHealthy
	case healthyish == 0:
		overall = model.StatusUnhealthy
	default:
		overall = model.StatusDegraded
	}

	alerts := make([]model.Alert, len(m.alerts))
	copy(alerts, m.alerts)

	return model.HealthSummary{
		Overall:   overall,
		Providers: providers,
		Alerts:    alerts,
		CheckedAt: time.Now(),
	}
}

func (m *Monitor) failurePatternLocked(window []model.HealthCheck) string {
	last5 := tail(window, 5)
	if len(last5) >= 5 && countUnhealthy(last5) >= 4 {
		return "consistent_failure"
	}
	u10 := countUnhealthy(tail(window, 10))
	if u10 >= 3 && u10 <= 6 {
		return "intermittent"
	}
	if trendOf(window) == model.TrendDegrading {
		return "progressive_degradation"
	}
	return ""
}

// trendOf compares the mean health score of the first half of the last five
// checks against the second half. Scores: HEALTHY=3 DEGRADED=2 UNHEALTHY=1
// UNKNOWN=0.
func trendOf(window []model.HealthCheck) model.Trend {
	recent := tail(window, trendWindow)
	if len(recent) < 4 {
		return model.TrendStable
	}

	scores := make([]float64, len(recent))
	distinct := make(map[model.HealthStatus]struct{}, 4)
	for i, chk := range recent {
		scores[i] = float64(chk.Status)
		distinct[chk.Status] = struct{}{}
	}

	half := len(scores) / 2
	diff := mean(scores[half:]) - mean(scores[:half])

	switch {
	case diff > 0.5:
		return model.TrendImproving
	case diff < -0.5:
		return model.TrendDegrading
	case len(distinct) > 2:
		return model.TrendVolatile
	default:
		return model.TrendStable
	}
}

func availabilityOf(window []model.HealthCheck) float64 {
	if len(window) == 0 {
		return 0
	}
	up := 0
	for _, chk := range window {
		if chk.Status == model.StatusHealthy || chk.Status == model.StatusDegraded {
			up++
		}
	}
	return float64(up) / float64(len(window))
}

func consecutiveUnhealthy(window []model.HealthCheck) int {
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Status != model.StatusUnhealthy {
			break
		}
		n++
	}
	return n
}

func countUnhealthy(checks []model.HealthCheck) int {
	n := 0
	for _, chk := range checks {
		if chk.Status == model.StatusUnhealthy {
			n++
		}
	}
	return n
}

func tail(window []model.HealthCheck, n int) []model.HealthCheck {
	if len(window) <= n {
		return window
	}
	return window[len(window)-n:]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
