package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"searchrelay/model"
	"searchrelay/provider"
)

type Strategy string

const (
	StrategyPriority    Strategy = "priority"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyFastest     Strategy = "fastest"
	StrategyRandom      Strategy = "random"
)

// Registry owns the provider set: priority ordering, enabled/health filtering,
// selection strategies, and the sequential failover chain. Concurrent hedged
// dispatch is the orchestrator's job, not the registry's.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*provider.Provider
	rrIndex   int
	log       *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]*provider.Provider),
		log:       logger,
	}
}

// Add registers a provider, validating its backend config unless skipValidate
// is set.
func (r *Registry) Add(p *provider.Provider, skipValidate bool) error {
	if !skipValidate {
		if err := p.ValidateConfig(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %s already registered", p.Name())
	}
	r.providers[p.Name()] = p
	r.log.Info("provider registered", "provider", p.Name(), "priority", p.Priority())
	return nil
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return false
	}
	delete(r.providers, name)
	r.log.Info("provider removed", "provider", name)
	return true
}

func (r *Registry) Get(name string) (*provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns providers in priority order (lower = preferred), optionally
// filtered to enabled and/or healthy ones.
func (r *Registry) List(onlyEnabled, onlyHealthy bool) []*provider.Provider {
	r.mu.RLock()
	out := make([]*provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	filtered := out[:0]
	for _, p := range out {
		if onlyEnabled && !p.Enabled() {
			continue
		}
		if onlyHealthy && !isHealthy(p) {
			continue
		}
		filtered = append(filtered, p)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		pi, pj := filtered[i].Priority(), filtered[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return filtered[i].Name() < filtered[j].Name()
	})
	return filtered
}

func isHealthy(p *provider.Provider) bool {
	status := p.HealthStatus().Status
	return status == model.StatusHealthy || status == model.StatusDegraded
}

// Select picks one provider per the strategy. LEAST_LOADED and FASTEST fall
// back to the first healthy provider when no load/latency data exists yet.
func (r *Registry) Select(strategy Strategy) (*provider.Provider, error) {
	healthy := r.List(true, true)
	if len(healthy) == 0 {
		return nil, model.ErrNoProviders
	}

	switch strategy {
	case StrategyRoundRobin:
		r.mu.Lock()
		idx := r.rrIndex % len(healthy)
		r.rrIndex++
		r.mu.Unlock()
		return healthy[idx], nil

	case StrategyLeastLoaded:
		best := healthy[0]
		for _, p := range healthy[1:] {
			if p.RequestsInWindow() < best.RequestsInWindow() {
				best = p
			}
		}
		return best, nil

	case StrategyFastest:
		var best *provider.Provider
		for _, p := range healthy {
			lat := p.AvgLatency()
			if lat == 0 {
				continue
			}
			if best == nil || lat < best.AvgLatency() {
				best = p
			}
		}
		if best == nil {
			return healthy[0], nil
		}
		return best, nil

	case StrategyRandom:
		return healthy[rand.Intn(len(healthy))], nil

	default: // StrategyPriority
		return healthy[0], nil
	}
}

// FailoverChain builds an ordered chain starting with primary (when enabled)
// followed by other enabled, healthy providers in priority order, capped at
// max entries.
func (r *Registry) FailoverChain(primary string, max int) []*provider.Provider {
	chain := make([]*provider.Provider, 0, max)

	if p, ok := r.Get(primary); ok && p.Enabled() {
		chain = append(chain, p)
	}

	for _, p := range r.List(true, true) {
		if len(chain) >= max {
			break
		}
		if p.Name() == primary {
			continue
		}
		chain = append(chain, p)
	}

	if len(chain) > max {
		chain = chain[:max]
	}
	return chain
}

// ExecuteWithFailover tries each provider in the chain sequentially until one
// succeeds. On exhaustion the aggregate error lists every provider's failure
// reason.
func (r *Registry) ExecuteWithFailover(ctx context.Context, opts model.SearchOptions, chain []*provider.Provider) (*model.SearchResults, error) {
	if len(chain) == 0 {
		return nil, model.ErrNoProviders
	}

	var reasons []string
	for _, p := range chain {
		res, err := p.Search(ctx, opts)
		if err == nil {
			if len(reasons) > 0 {
				r.log.Info("failover succeeded",
					"provider", p.Name(),
					"failed_attempts", len(reasons),
				)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", p.Name(), err))
		r.log.Warn("provider failed, trying next in chain", "provider", p.Name(), "err", err)
	}

	return nil, fmt.Errorf("all %d providers failed: %s", len(chain), strings.Join(reasons, "; "))
}

// PerformanceSummary is the runtime view consumed by the API layer.
func (r *Registry) PerformanceSummary() map[string]model.ProviderPerformance {
	r.mu.RLock()
	providers := make([]*provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	out := make(map[string]model.ProviderPerformance, len(providers))
	for _, p := range providers {
		snap := p.HealthStatus()
		out[p.Name()] = model.ProviderPerformance{
			Status:       snap.Status,
			ErrorRate:    snap.ErrorRate,
			AvgLatencyMs: p.AvgLatency().Milliseconds(),
			Circuit:      snap.Circuit,
			Enabled:      p.Enabled(),
			Priority:     p.Priority(),
		}
	}
	return out
}
