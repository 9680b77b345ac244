package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"searchrelay/cache"
	"searchrelay/config"
	"searchrelay/model"
	"searchrelay/provider"
	"searchrelay/registry"
)

// Orchestrator drives a search across the provider set: cache lookup,
// candidate ranking, dispatch (direct, hedged, or parallel), merge, and
// write-back. It keeps its own failure breaker per provider, independent of
// the per-provider circuit, so a provider misbehaving only under fan-out load
// still gets benched.
type Orchestrator struct {
	reg      *registry.Registry
	cache    *cache.Tiered
	timeouts *AdaptiveTimeouts
	hedger   *Hedger
	cfg      config.OrchestratorCfg
	log      *slog.Logger

	mu        sync.Mutex
	failures  map[string]int
	openUntil map[string]time.Time
	now       func() time.Time

	searches          int64
	cacheHits         int64
	hedges            int64
	breakerRejections int64
	totalFailures     int64
	providerCalls     map[string]int64
}

func New(reg *registry.Registry, c *cache.Tiered, timeouts *AdaptiveTimeouts, cfg config.OrchestratorCfg, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		reg:           reg,
		cache:         c,
		timeouts:      timeouts,
		hedger:        NewHedger(cfg.HedgeDelay, logger),
		cfg:           cfg,
		log:           logger,
		failures:      make(map[string]int),
		openUntil:     make(map[string]time.Time),
		now:           time.Now,
		providerCalls: make(map[string]int64),
	}
}

func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}

// SearchParams is one orchestrated search request. ProviderIDs, when set,
// restricts the candidate pool; TechHint biases ranking toward providers that
// declare the technology.
type SearchParams struct {
	Query       string
	TechHint    string
	MaxResults  int
	ProviderIDs []string
	Locale      string
	SafeSearch  bool
}

// Search never returns an error: when every candidate fails the response
// carries the aggregate failure message in its Error field so callers always
// get a well-formed result.
func (o *Orchestrator) Search(ctx context.Context, params SearchParams) *model.SearchResults {
	start := time.Now()
	o.count(&o.searches)

	if params.MaxResults <= 0 || params.MaxResults > o.cfg.ResultCap {
		params.MaxResults = o.cfg.ResultCap
	}

	key := cache.MakeSearchKey(params.Query, params.TechHint, params.MaxResults, params.ProviderIDs)
	if cached := o.fromCache(ctx, key); cached != nil {
		o.count(&o.cacheHits)
		cached.CacheHit = true
		cached.ExecutionTimeMs = time.Since(start).Milliseconds()
		return cached
	}

	candidates := o.rankCandidates(params)
	if len(candidates) == 0 {
		o.count(&o.totalFailures)
		return &model.SearchResults{
			Error:           "no providers available",
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.OverallTimeout)
	defer cancel()

	opts := model.SearchOptions{
		Query:      params.Query,
		MaxResults: params.MaxResults,
		Locale:     params.Locale,
		SafeSearch: params.SafeSearch,
	}

	responses, errs := o.dispatch(ctx, candidates, opts)

	merged := o.merge(responses, params.MaxResults)
	merged.ExecutionTimeMs = time.Since(start).Milliseconds()

	if len(responses) == 0 && len(errs) > 0 {
		o.count(&o.totalFailures)
		merged.Error = fmt.Sprintf("all %d providers failed: %s", len(candidates), joinErrors(errs))
		o.log.Warn("search failed on all providers",
			"query", params.Query,
			"providers", len(candidates),
			"err", merged.Error,
		)
		return merged
	}

	if merged.Error == "" && len(merged.Results) > 0 {
		o.store(ctx, key, merged)
	}
	return merged
}

// dispatch fans the request out per the candidate count: one provider goes
// direct, two race through the hedger, three or more run in parallel.
// Responses preserve candidate rank order.
func (o *Orchestrator) dispatch(ctx context.Context, candidates []*provider.Provider, opts model.SearchOptions) ([]*model.SearchResults, []error) {
	switch {
	case len(candidates) == 1:
		res, err := o.searchOne(ctx, candidates[0], opts)
		if err != nil {
			return nil, []error{err}
		}
		return []*model.SearchResults{res}, nil

	case len(candidates) == 2 && o.cfg.HedgingEnabled():
		res, hedged, err := o.hedger.Do(ctx, candidates[0], candidates[1],
			func(ctx context.Context, p *provider.Provider) (*model.SearchResults, error) {
				return o.searchOne(ctx, p, opts)
			})
		if hedged {
			o.count(&o.hedges)
		}
		if err != nil {
			return nil, []error{err}
		}
		return []*model.SearchResults{res}, nil

	default:
		responses := make([]*model.SearchResults, len(candidates))
		errs := make([]error, len(candidates))

		g, gctx := errgroup.WithContext(ctx)
		for i, p := range candidates {
			g.Go(func() error {
				res, err := o.searchOne(gctx, p, opts)
				if err != nil {
					errs[i] = err
					return nil
				}
				responses[i] = res
				return nil
			})
		}
		_ = g.Wait()

		out := responses[:0]
		var failed []error
		for i, res := range responses {
			if res != nil {
				out = append(out, res)
			} else if errs[i] != nil {
				failed = append(failed, errs[i])
			}
		}
		return out, failed
	}
}

// searchOne is the guarded call path shared by every dispatch mode: adaptive
// timeout, orchestrator breaker accounting, latency recording, call metrics.
func (o *Orchestrator) searchOne(ctx context.Context, p *provider.Provider, opts model.SearchOptions) (*model.SearchResults, error) {
	name := p.Name()
	o.countProvider(name)

	timeout := o.timeouts.Timeout(name)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Search(cctx, opts)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		o.noteFailure(name)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &model.SearchTimeoutError{Op: "search " + name, Configured: timeout, Elapsed: elapsed}
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	o.timeouts.Record(name, elapsed)
	o.noteSuccess(name)
	return res, nil
}

// rankCandidates filters the healthy enabled pool by the request's provider
// set and the orchestrator breaker, scores what remains, and keeps the top
// MaxConcurrentProviders.
func (o *Orchestrator) rankCandidates(params SearchParams) []*provider.Provider {
	pool := o.reg.List(true, true)

	var allowed map[string]bool
	if len(params.ProviderIDs) > 0 {
		allowed = make(map[string]bool, len(params.ProviderIDs))
		for _, id := range params.ProviderIDs {
			allowed[id] = true
		}
	}

	type scored struct {
		p     *provider.Provider
		score float64
	}
	candidates := make([]scored, 0, len(pool))
	for _, p := range pool {
		if allowed != nil && !allowed[p.Name()] {
			continue
		}
		if !o.allow(p.Name()) {
			o.count(&o.breakerRejections)
			continue
		}
		candidates = append(candidates, scored{p: p, score: o.score(p, params.TechHint)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].p.Priority() < candidates[j].p.Priority()
	})

	max := o.cfg.MaxConcurrentProviders
	if len(candidates) > max {
		candidates = candidates[:max]
	}

	out := make([]*provider.Provider, len(candidates))
	for i, c := range candidates {
		out[i] = c.p
	}
	return out
}

// score is the ranking heuristic: a technology match dominates, then lower
// latency and fewer recent failures win.
func (o *Orchestrator) score(p *provider.Provider, techHint string) float64 {
	var s float64

	if techHint != "" {
		for _, tech := range p.Capabilities().Technologies {
			if strings.EqualFold(tech, techHint) {
				s += 100
				break
			}
		}
	}

	s -= float64(p.AvgLatency().Milliseconds()) / 100

	o.mu.Lock()
	s -= float64(o.failures[p.Name()]) * 10
	o.mu.Unlock()

	return s
}

// merge concatenates responses in candidate rank order, drops duplicate URLs
// (first provider wins), caps the result list, and re-ranks sequentially.
func (o *Orchestrator) merge(responses []*model.SearchResults, maxResults int) *model.SearchResults {
	seen := make(map[string]bool)
	var out []model.SearchResult
	var contributors []string

	for _, res := range responses {
		if res == nil {
			continue
		}
		added := false
		for _, r := range res.Results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			out = append(out, r)
			added = true
		}
		if added && res.Provider != "" {
			contributors = append(contributors, res.Provider)
		}
	}

	truncated := len(out) > maxResults
	if truncated {
		out = out[:maxResults]
	}
	for i := range out {
		out[i].Rank = i + 1
	}

	return &model.SearchResults{
		Results:   out,
		Total:     len(out),
		Provider:  strings.Join(contributors, ","),
		Truncated: truncated,
	}
}

func (o *Orchestrator) fromCache(ctx context.Context, key string) *model.SearchResults {
	raw, ok := o.cache.Get(ctx, key)
	if !ok {
		return nil
	}
	var res model.SearchResults
	if err := json.Unmarshal(raw, &res); err != nil {
		o.log.Warn("discarding undecodable cache entry", "key", key, "err", err)
		return nil
	}
	return &res
}

func (o *Orchestrator) store(ctx context.Context, key string, res *model.SearchResults) {
	raw, err := json.Marshal(res)
	if err != nil {
		o.log.Warn("failed to encode results for cache", "err", err)
		return
	}
	o.cache.Set(ctx, key, raw, o.cfg.CacheTTL)
}

// allow reports whether the orchestrator breaker admits the provider,
// clearing an expired cooldown as a side effect.
func (o *Orchestrator) allow(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	until, open := o.openUntil[name]
	if !open {
		return true
	}
	if o.now().Before(until) {
		return false
	}
	delete(o.openUntil, name)
	o.failures[name] = 0
	return true
}

func (o *Orchestrator) noteFailure(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.failures[name]++
	if o.failures[name] >= o.cfg.BreakerThreshold {
		o.openUntil[name] = o.now().Add(o.cfg.BreakerCooldown)
		o.log.Warn("benching provider",
			"provider", name,
			"failures", o.failures[name],
			"cooldown", o.cfg.BreakerCooldown,
		)
	}
}

func (o *Orchestrator) noteSuccess(name string) {
	o.mu.Lock()
	o.failures[name] = 0
	o.mu.Unlock()
}

// Metrics is a point-in-time snapshot of orchestrator counters.
type Metrics struct {
	Searches          int64            `json:"searches"`
	CacheHits         int64            `json:"cache_hits"`
	Hedges            int64            `json:"hedged_requests"`
	BreakerRejections int64            `json:"breaker_rejections"`
	TotalFailures     int64            `json:"total_failures"`
	ProviderCalls     map[string]int64 `json:"provider_calls"`
}

func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	calls := make(map[string]int64, len(o.providerCalls))
	for k, v := range o.providerCalls {
		calls[k] = v
	}
	return Metrics{
		Searches:          o.searches,
		CacheHits:         o.cacheHits,
		Hedges:            o.hedges,
		BreakerRejections: o.breakerRejections,
		TotalFailures:     o.totalFailures,
		ProviderCalls:     calls,
	}
}

func (o *Orchestrator) count(field *int64) {
	o.mu.Lock()
	*field++
	o.mu.Unlock()
}

func (o *Orchestrator) countProvider(name string) {
	o.mu.Lock()
	o.providerCalls[name]++
	o.mu.Unlock()
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
