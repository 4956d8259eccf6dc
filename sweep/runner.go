// Package sweep runs the background deadline expiry job.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
	"disputeflow/logging"
	"disputeflow/metrics"
)

// Sweeper expires one case's window if it is overdue.
type Sweeper interface {
	SweepCase(ctx context.Context, caseID string) (bool, error)
}

// Lister enumerates cases that still have an open window.
type Lister interface {
	ListOpenWindowCases(ctx context.Context, limit int) ([]string, error)
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

type Runner struct {
	sweeper Sweeper
	lister  Lister
	lease   Lease
	cfg     Config
	log     logging.Logger
	metrics *metrics.Metrics
}

// NewRunner builds a runner. lease may be nil.
func NewRunner(sweeper Sweeper, lister Lister, lease Lease, cfg Config, log logging.Logger, m *metrics.Metrics) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Runner{
		sweeper: sweeper,
		lister:  lister,
		lease:   lease,
		cfg:     cfg,
		log:     log.Named("sweep"),
		metrics: m,
	}
}

// Result summarises one tick.
type Result struct {
	Skipped   bool
	Scanned   int
	Expired   int
	Conflicts int
	Failed    int
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("sweep started",
		logging.Duration("interval", r.cfg.Interval),
		logging.Int("batch_size", r.cfg.BatchSize),
		logging.Int("concurrency", r.cfg.Concurrency),
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("sweep tick failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("sweep stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one pass. Per-case conflicts and failures are counted, not
// returned; only listing and lease errors fail the tick.
func (r *Runner) Tick(ctx context.Context) (Result, error) {
	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx)
		if err != nil {
			return Result{Skipped: true}, err
		}
		if !ok {
			r.log.Debug("lease held elsewhere, skipping tick")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := r.lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("release lease", logging.Err(err))
			}
		}()
	}

	start := time.Now()
	ids, err := r.lister.ListOpenWindowCases(ctx, r.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("sweep: list open windows: %w", err)
	}

	var expired, conflicts, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			changed, err := r.sweeper.SweepCase(gctx, id)
			switch {
			case err == nil:
				if changed {
					expired.Add(1)
				}
			case errors.Is(err, dispute.ErrConcurrentModification):
				conflicts.Add(1)
				r.log.Debug("sweep lost to concurrent update", logging.String("case_id", id))
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				r.log.Error("sweep case failed", logging.String("case_id", id), logging.Err(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Scanned:   len(ids),
		Expired:   int(expired.Load()),
		Conflicts: int(conflicts.Load()),
		Failed:    int(failed.Load()),
	}
	took := time.Since(start)
	r.metrics.ObserveSweep(took, len(ids))
	r.log.Info("sweep tick",
		logging.Int("scanned", res.Scanned),
		logging.Int("expired", res.Expired),
		logging.Int("conflicts", res.Conflicts),
		logging.Int("failed", res.Failed),
		logging.Duration("took", took),
	)
	return res, nil
}
