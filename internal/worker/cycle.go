package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/prices"
)

// Counters summarize one tick.
type Counters struct {
	At         time.Time `json:"ts"`
	Evaluated  int       `json:"evaluated"`
	Triggered  int       `json:"triggered"`
	Errors     int       `json:"errors"`
	Downgraded int       `json:"downgraded"`
}

type CycleConfig struct {
	// Concurrency bounds parallel price fetches within a tick.
	Concurrency int
	Now         func() time.Time
	Metrics     *Metrics
}

// Cycle runs one evaluation pass: expiry sweep, then every enabled alert.
// Prices are fetched in parallel; alert state is written back sequentially.
type Cycle struct {
	store       Store
	oracle      Oracle
	sink        Sink
	log         *slog.Logger
	concurrency int
	now         func() time.Time
	metrics     *Metrics
}

func NewCycle(store Store, oracle Oracle, sink Sink, log *slog.Logger, cfg CycleConfig) *Cycle {
	c := &Cycle{
		store:       store,
		oracle:      oracle,
		sink:        sink,
		log:         log.With("component", "cycle"),
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		metrics:     cfg.Metrics,
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// Run executes one tick. A returned error means the tick was abandoned
// (store unreachable, shutdown); per-alert failures only show in Counters.
func (c *Cycle) Run(ctx context.Context) (Counters, error) {
	now := c.now()
	counters := Counters{At: now}

	sess, err := c.store.Session(ctx)
	if err != nil {
		return counters, fmt.Errorf("open session: %w", err)
	}
	defer sess.Release()

	n, err := Sweep(ctx, sess, now, c.log)
	counters.Downgraded = n
	c.metrics.Downgraded.Add(float64(n))
	if err != nil {
		return counters, fmt.Errorf("expiry sweep: %w", err)
	}

	list, err := sess.EnabledAlerts(ctx, now)
	if err != nil {
		return counters, fmt.Errorf("list alerts: %w", err)
	}

	symbols := make(map[int64]string, len(list))
	for _, a := range list {
		sym, err := c.oracle.Resolve(a.Symbol)
		if err != nil {
			continue
		}
		symbols[a.ID] = sym
	}
	quotes := c.fetchQuotes(ctx, symbols)

	for _, a := range list {
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		counters.Evaluated++
		c.metrics.Evaluated.Inc()

		sym, ok := symbols[a.ID]
		if !ok {
			counters.Errors++
			c.metrics.Errors.WithLabelValues("symbol").Inc()
			c.log.Warn("unknown symbol", "alert_id", a.ID, "symbol", a.Symbol)
			continue
		}
		q := quotes[sym]
		if !q.Available {
			counters.Errors++
			c.metrics.Errors.WithLabelValues("price").Inc()
			c.log.Warn("price unavailable", "alert_id", a.ID, "symbol", sym, "reason", q.Reason)
			continue
		}

		if err := c.evaluate(ctx, sess, a, q, now, &counters); err != nil {
			return counters, err
		}
	}
	return counters, nil
}

// fetchQuotes fetches each distinct symbol once.
func (c *Cycle) fetchQuotes(ctx context.Context, symbols map[int64]string) map[string]prices.Quote {
	out := make(map[string]prices.Quote, len(symbols))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		g.Go(func() error {
			q := c.oracle.FetchPrice(ctx, sym)
			mu.Lock()
			out[sym] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Cycle) evaluate(ctx context.Context, sess Session, a alerts.Alert, q prices.Quote, now time.Time, counters *Counters) error {
	action := Decide(a, q.Price, now)
	c.metrics.Actions.WithLabelValues(action.String()).Inc()

	switch action {
	case ActionRearm:
		st := alerts.State{LastMet: alerts.MetFalse, LastFiredAt: a.LastFiredAt}
		return c.save(ctx, sess, a, st, counters)

	case ActionFire:
		res := c.sink.Send(ctx, a.Recipient, Message(a, q.Price))
		if !res.Delivered() {
			counters.Errors++
			c.metrics.Errors.WithLabelValues("send").Inc()
			c.log.Warn("notification failed", "alert_id", a.ID, "symbol", q.Symbol, "reason", res.Reason)
			return nil
		}
		fired := now
		st := alerts.State{LastMet: alerts.MetTrue, LastFiredAt: &fired}
		if err := c.save(ctx, sess, a, st, counters); err != nil {
			return err
		}
		counters.Triggered++
		c.metrics.Triggered.Inc()
		c.log.Info("alert fired", "alert_id", a.ID, "symbol", q.Symbol, "price", q.Price)
		return nil

	case ActionNone, ActionHold, ActionCooldown:
	}
	return nil
}

// save treats a vanished alert as a soft error; anything else is the store
// failing and abandons the tick.
func (c *Cycle) save(ctx context.Context, sess Session, a alerts.Alert, st alerts.State, counters *Counters) error {
	err := sess.SaveAlertState(ctx, a.ID, st)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, alerts.ErrNotFound):
		counters.Errors++
		c.metrics.Errors.WithLabelValues("store").Inc()
		c.log.Warn("alert vanished during tick", "alert_id", a.ID)
		return nil
	default:
		return fmt.Errorf("save alert %d: %w", a.ID, err)
	}
}

// Message is the plain-text notification body.
func Message(a alerts.Alert, price float64) string {
	return fmt.Sprintf("🔔 Alert #%d | %s %s %s | price=%.6f",
		a.ID, a.Symbol, a.Rule, strconv.FormatFloat(a.Value, 'f', -1, 64), price)
}
