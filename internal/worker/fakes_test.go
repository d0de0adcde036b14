package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/domain/subscriptions"
	"github.com/Spok95/price-alerts/internal/notify"
	"github.com/Spok95/price-alerts/internal/prices"
)

var errStoreDown = errors.New("store: connection refused")

type memStore struct {
	mu       sync.Mutex
	alerts   map[int64]alerts.Alert
	subs     []subscriptions.Subscription
	premium  map[int64]bool
	saves    int
	opened   int
	released int

	sessionErr   error
	listErr      error
	saveErr      error
	downgradeErr error
}

func newMemStore(list ...alerts.Alert) *memStore {
	s := &memStore{alerts: map[int64]alerts.Alert{}, premium: map[int64]bool{}}
	for _, a := range list {
		s.alerts[a.ID] = a
	}
	return s
}

func (s *memStore) alert(id int64) alerts.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id]
}

func (s *memStore) Session(context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	s.opened++
	return &memSession{s: s}, nil
}

type memSession struct{ s *memStore }

func (m *memSession) EnabledAlerts(_ context.Context, now time.Time) ([]alerts.Alert, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.listErr != nil {
		return nil, m.s.listErr
	}
	var out []alerts.Alert
	for _, a := range m.s.alerts {
		if !a.Enabled || (a.ExpiresAt != nil && !a.ExpiresAt.After(now)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSession) SaveAlertState(_ context.Context, id int64, st alerts.State) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.saveErr != nil {
		return m.s.saveErr
	}
	a, ok := m.s.alerts[id]
	if !ok {
		return alerts.ErrNotFound
	}
	a.LastMet = st.LastMet
	a.LastFiredAt = st.LastFiredAt
	m.s.alerts[id] = a
	m.s.saves++
	return nil
}

func (m *memSession) LatestSubscriptions(context.Context) ([]subscriptions.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	latest := map[int64]subscriptions.Subscription{}
	for _, sub := range m.s.subs {
		if cur, ok := latest[sub.UserID]; !ok || sub.ID > cur.ID {
			sub.IsPremium = m.s.premium[sub.UserID]
			latest[sub.UserID] = sub
		}
	}
	out := make([]subscriptions.Subscription, 0, len(latest))
	for _, sub := range latest {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memSession) Downgrade(_ context.Context, terminals []subscriptions.Subscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.downgradeErr != nil {
		return m.s.downgradeErr
	}
	for _, terminal := range terminals {
		m.s.premium[terminal.UserID] = false
		terminal.ID = int64(len(m.s.subs) + 1)
		m.s.subs = append(m.s.subs, terminal)
	}
	return nil
}

func (m *memSession) Release() {
	m.s.mu.Lock()
	m.s.released++
	m.s.mu.Unlock()
}

// hangingStore stands in for a database that accepts connections and then
// never answers.
type hangingStore struct {
	atSession bool
	released  atomic.Int32
}

func (h *hangingStore) Session(ctx context.Context) (Session, error) {
	if h.atSession {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &hangingSession{h: h}, nil
}

type hangingSession struct{ h *hangingStore }

func (s *hangingSession) EnabledAlerts(ctx context.Context, _ time.Time) ([]alerts.Alert, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *hangingSession) SaveAlertState(ctx context.Context, _ int64, _ alerts.State) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *hangingSession) LatestSubscriptions(context.Context) ([]subscriptions.Subscription, error) {
	return nil, nil
}

func (s *hangingSession) Downgrade(ctx context.Context, _ []subscriptions.Subscription) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *hangingSession) Release() { s.h.released.Add(1) }

type fakeOracle struct {
	mu      sync.Mutex
	price   map[string]float64
	down    map[string]bool
	fetches map[string]int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{price: map[string]float64{}, down: map[string]bool{}, fetches: map[string]int{}}
}

func (o *fakeOracle) set(symbol string, price float64) {
	o.mu.Lock()
	o.price[symbol] = price
	o.mu.Unlock()
}

func (o *fakeOracle) Resolve(s string) (string, error) { return prices.Resolve(s) }

func (o *fakeOracle) FetchPrice(_ context.Context, symbol string) prices.Quote {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches[symbol]++
	if o.down[symbol] {
		return prices.Quote{Symbol: symbol, Reason: "status 503"}
	}
	p, ok := o.price[symbol]
	if !ok {
		return prices.Quote{Symbol: symbol, Reason: "no price"}
	}
	return prices.Quote{Symbol: symbol, Price: p, Available: true}
}

type sent struct {
	recipient string
	text      string
}

type fakeSink struct {
	mu   sync.Mutex
	fail bool
	sent []sent
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSink) Send(_ context.Context, recipient, text string) notify.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || recipient == "" {
		return notify.Result{Status: notify.Failed, Reason: "status 502"}
	}
	s.sent = append(s.sent, sent{recipient: recipient, text: text})
	return notify.Result{Status: notify.Delivered}
}

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// sharedLock models the advisory lock: one holder across all lockers built
// from it.
type sharedLock struct {
	mu     sync.Mutex
	holder *fakeLocker
}

type fakeLocker struct {
	shared   *sharedLock
	tries    int
	acquired int
	released int
	lost     chan struct{}
	err      error
}

func (l *sharedLock) locker() *fakeLocker {
	return &fakeLocker{shared: l, lost: make(chan struct{})}
}

func (f *fakeLocker) TryAcquire(context.Context, int64) (bool, error) {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	f.tries++
	if f.err != nil {
		return false, f.err
	}
	if f.shared.holder != nil && f.shared.holder != f {
		return false, nil
	}
	f.shared.holder = f
	f.acquired++
	return true, nil
}

func (f *fakeLocker) Release(context.Context) error {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	if f.shared.holder == f {
		f.shared.holder = nil
		f.released++
	}
	return nil
}

func (f *fakeLocker) attempts() int {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	return f.tries
}

func (f *fakeLocker) Lost() <-chan struct{} { return f.lost }
