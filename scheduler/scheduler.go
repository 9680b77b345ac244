package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"searchrelay/cache"
	"searchrelay/orchestrator"
)

// Scheduler runs the periodic background work: cache maintenance and a
// metrics report. Each task is single-flight; an overlapping tick is skipped
// rather than queued.
type Scheduler struct {
	cache           *cache.Tiered
	orch            *orchestrator.Orchestrator
	cleanupInterval time.Duration
	reportInterval  time.Duration
	log             *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	cancel  context.CancelFunc
}

func New(c *cache.Tiered, orch *orchestrator.Orchestrator, cleanupInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cache:           c,
		orch:            orch,
		cleanupInterval: cleanupInterval,
		reportInterval:  time.Hour,
		log:             logger,
		running:         make(map[string]bool),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx, "cache_maintenance", s.cleanupInterval, s.taskCacheMaintenance)
	go s.loop(ctx, "metrics_report", s.reportInterval, s.taskMetricsReport)

	s.log.Info("scheduler started",
		"cache_maintenance", s.cleanupInterval,
		"metrics_report", s.reportInterval,
	)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// TriggerMaintenance runs cache maintenance out of schedule, used by the
// admin API.
func (s *Scheduler) TriggerMaintenance(ctx context.Context) error {
	return s.runTask("cache_maintenance", func() error {
		return s.taskCacheMaintenance(ctx)
	})
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runTask(name, func() error { return task(ctx) }); err != nil {
				s.log.Error("scheduled task failed", "task", name, "err", err)
			}
		}
	}
}

func (s *Scheduler) runTask(name string, fn func() error) error {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Debug("task already running, skipping", "task", name)
		return nil
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if err != nil {
		s.log.Error("task failed", "task", name, "elapsed", elapsed, "err", err)
		return err
	}

	s.log.Debug("task completed", "task", name, "elapsed", elapsed)
	return nil
}

func (s *Scheduler) taskCacheMaintenance(ctx context.Context) error {
	s.cache.Maintain(ctx)
	return nil
}

func (s *Scheduler) taskMetricsReport(_ context.Context) error {
	m := s.orch.Metrics()
	s.log.Info("orchestrator metrics",
		"searches", m.Searches,
		"cache_hits", m.CacheHits,
		"hedged_requests", m.Hedges,
		"breaker_rejections", m.BreakerRejections,
		"total_failures", m.TotalFailures,
	)
	return nil
}
