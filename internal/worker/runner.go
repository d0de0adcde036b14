package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrLockLost  = errors.New("worker: evaluator lock lost")
	ErrNotLeader = errors.New("worker: evaluator lock not held by this process")
)

type LockPolicy string

const (
	// LockIdle keeps the process up (health, metrics) without evaluating.
	LockIdle LockPolicy = "idle"
	// LockExit returns from Run at once.
	LockExit LockPolicy = "exit"
)

type RunnerConfig struct {
	Interval time.Duration
	// TickTimeout bounds one whole tick, store calls included. Defaults to
	// Interval.
	TickTimeout time.Duration
	LockID      int64
	RunOnce     bool
	OnLockBusy  LockPolicy
}

// Runner owns the tick loop. The lock is taken once at start; if another
// process holds it the loop never runs in this process.
type Runner struct {
	cycle   *Cycle
	locker  Locker
	log     *slog.Logger
	cfg     RunnerConfig
	metrics *Metrics

	leader atomic.Bool
	tickMu sync.Mutex
}

func NewRunner(cycle *Cycle, locker Locker, log *slog.Logger, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.Interval
	}
	if cfg.OnLockBusy == "" {
		cfg.OnLockBusy = LockIdle
	}
	return &Runner{
		cycle:   cycle,
		locker:  locker,
		log:     log.With("component", "runner"),
		cfg:     cfg,
		metrics: cycle.metrics,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ok, err := r.locker.TryAcquire(ctx, r.cfg.LockID)
	if err != nil {
		return fmt.Errorf("acquire lock %d: %w", r.cfg.LockID, err)
	}
	if !ok {
		r.log.Warn("evaluator lock held elsewhere, alert loop disabled",
			"lock_id", r.cfg.LockID, "policy", string(r.cfg.OnLockBusy))
		if r.cfg.OnLockBusy == LockExit || r.cfg.RunOnce {
			return nil
		}
		<-ctx.Done()
		return nil
	}
	r.leader.Store(true)
	defer func() {
		// wait out an in-flight on-demand tick before giving the lock up
		r.tickMu.Lock()
		r.leader.Store(false)
		r.tickMu.Unlock()
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.locker.Release(relCtx); err != nil {
			r.log.Warn("lock release failed", "lock_id", r.cfg.LockID, "err", err)
		}
	}()

	r.log.Info("alerts loop start", "interval", r.cfg.Interval.String(), "lock_id", r.cfg.LockID)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		r.Tick(ctx)
		if r.cfg.RunOnce {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-r.locker.Lost():
			r.leader.Store(false)
			return ErrLockLost
		case <-ticker.C:
		}
	}
}

// Leader reports whether this process currently holds the evaluator lock.
func (r *Runner) Leader() bool {
	if !r.leader.Load() {
		return false
	}
	select {
	case <-r.locker.Lost():
		return false
	default:
		return true
	}
}

// TickNow runs one extra cycle on demand, serialized with the loop's ticks.
// Only the lock holder may run it.
func (r *Runner) TickNow(ctx context.Context) (Counters, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if !r.Leader() {
		return Counters{}, ErrNotLeader
	}
	return r.tickLocked(ctx)
}

// Tick runs one cycle and reports it. Failures are logged, never returned:
// the next tick starts from persisted state.
func (r *Runner) Tick(ctx context.Context) Counters {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	counters, _ := r.tickLocked(ctx)
	return counters
}

func (r *Runner) tickLocked(ctx context.Context) (Counters, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	counters, err := r.cycle.Run(ctx)
	elapsed := time.Since(start)
	r.metrics.Duration.Observe(elapsed.Seconds())

	if err != nil {
		r.metrics.Ticks.WithLabelValues("error").Inc()
		r.log.Error("alert_cycle_error",
			"ts", counters.At.Format(time.RFC3339),
			"err", err,
			"evaluated", counters.Evaluated,
			"triggered", counters.Triggered,
			"errors", counters.Errors,
			"downgraded", counters.Downgraded,
			"duration_ms", elapsed.Milliseconds(),
		)
		return counters, err
	}

	r.metrics.Ticks.WithLabelValues("ok").Inc()
	r.metrics.LastTick.Set(float64(counters.At.Unix()))
	r.log.Info("alert_cycle",
		"ts", counters.At.Format(time.RFC3339),
		"evaluated", counters.Evaluated,
		"triggered", counters.Triggered,
		"errors", counters.Errors,
		"downgraded", counters.Downgraded,
		"duration_ms", elapsed.Milliseconds(),
	)
	return counters, nil
}
