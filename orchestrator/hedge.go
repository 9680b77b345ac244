package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"searchrelay/model"
	"searchrelay/provider"
)

// SearchFunc runs one provider call. The orchestrator passes its guarded call
// path here so hedged calls get the same timeout and accounting as direct
// ones.
type SearchFunc func(ctx context.Context, p *provider.Provider) (*model.SearchResults, error)

// Hedger races a backup call against a slow primary. The backup only starts
// once the primary has been running for the hedge delay (or has already
// failed); the first successful response wins and the loser is cancelled.
type Hedger struct {
	delay time.Duration
	log   *slog.Logger
}

func NewHedger(delay time.Duration, logger *slog.Logger) *Hedger {
	return &Hedger{delay: delay, log: logger}
}

type hedgeOutcome struct {
	res *model.SearchResults
	err error
}

// Do returns the winning response and whether the backup was started.
func (h *Hedger) Do(ctx context.Context, primary, backup *provider.Provider, call SearchFunc) (*model.SearchResults, bool, error) {
	pctx, pcancel := context.WithCancel(ctx)
	defer pcancel()

	primaryCh := make(chan hedgeOutcome, 1)
	go func() {
		res, err := call(pctx, primary)
		primaryCh <- hedgeOutcome{res, err}
	}()

	timer := time.NewTimer(h.delay)
	defer timer.Stop()

	var primaryErr error
	select {
	case out := <-primaryCh:
		if out.err == nil {
			return out.res, false, nil
		}
		primaryErr = out.err
		primaryCh = nil
	case <-timer.C:
		h.log.Debug("primary slow, hedging", "primary", primary.Name(), "backup", backup.Name())
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	bctx, bcancel := context.WithCancel(ctx)
	defer bcancel()

	backupCh := make(chan hedgeOutcome, 1)
	go func() {
		res, err := call(bctx, backup)
		backupCh <- hedgeOutcome{res, err}
	}()

	var backupErr error
	for primaryCh != nil || backupCh != nil {
		select {
		case out := <-primaryCh:
			primaryCh = nil
			if out.err == nil {
				bcancel()
				return out.res, true, nil
			}
			primaryErr = out.err
		case out := <-backupCh:
			backupCh = nil
			if out.err == nil {
				pcancel()
				return out.res, true, nil
			}
			backupErr = out.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	return nil, true, fmt.Errorf("primary %s: %v; hedge %s: %v",
		primary.Name(), primaryErr, backup.Name(), backupErr)
}
