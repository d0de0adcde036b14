package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/infra/logger"
	"github.com/Spok95/price-alerts/internal/store"
	"github.com/Spok95/price-alerts/internal/worker"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeAdmin struct {
	stats store.Stats
	list  []alerts.Alert
	err   error
}

func (a fakeAdmin) Stats(context.Context, time.Time) (store.Stats, error) { return a.stats, a.err }

func (a fakeAdmin) AllAlerts(context.Context) ([]alerts.Alert, error) { return a.list, a.err }

type fakeCron struct {
	counters worker.Counters
	err      error
	calls    int
}

func (c *fakeCron) TickNow(context.Context) (worker.Counters, error) {
	c.calls++
	return c.counters, c.err
}

func newTestServer(opts Options) http.Handler {
	opts.Log = logger.Discard()
	opts.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return New(opts).Handler()
}

func do(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(Options{})
	rec := do(h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	rec := do(newTestServer(Options{Health: fakePinger{}}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(newTestServer(Options{Health: fakePinger{err: errors.New("db down")}}), "/healthz")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"db down"}`, rec.Body.String())
}

func TestStatsRequiresKey(t *testing.T) {
	admin := fakeAdmin{stats: store.Stats{Users: 3, PremiumUsers: 1, ActiveAlerts: 5, ActiveSubscriptions: 1}}
	h := newTestServer(Options{AdminKey: "s3cret", Admin: admin})

	assert.Equal(t, http.StatusForbidden, do(h, "/stats").Code)
	assert.Equal(t, http.StatusForbidden, do(h, "/stats?key=wrong").Code)

	rec := do(h, "/stats?key=s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, admin.stats, got)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-Admin-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	h := newTestServer(Options{Admin: fakeAdmin{}})
	assert.Equal(t, http.StatusNotFound, do(h, "/stats").Code)
	assert.Equal(t, http.StatusNotFound, do(h, "/admin/alerts.xlsx").Code)
}

func TestStatsError(t *testing.T) {
	h := newTestServer(Options{AdminKey: "k", Admin: fakeAdmin{err: errors.New("boom")}})
	assert.Equal(t, http.StatusInternalServerError, do(h, "/stats?key=k").Code)
}

func TestAlertsExport(t *testing.T) {
	admin := fakeAdmin{list: []alerts.Alert{
		{ID: 1, UserID: 2, Recipient: "42", Symbol: "BTCUSDT", Rule: alerts.RuleAbove, Value: 10, Enabled: true, CooldownSeconds: 900},
	}}
	h := newTestServer(Options{AdminKey: "k", Admin: admin})

	rec := do(h, "/admin/alerts.xlsx?key=k")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "alerts_20250102_030405.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTCUSDT", rows[1][3])
}

func TestMetricsToggle(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(newTestServer(Options{}), "/metrics").Code)
	assert.Equal(t, http.StatusOK, do(newTestServer(Options{ExposeMetrics: true}), "/metrics").Code)
}

func TestCronRunsTickInLeader(t *testing.T) {
	cron := &fakeCron{counters: worker.Counters{
		At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), Evaluated: 3, Triggered: 1, Errors: 1,
	}}
	h := newTestServer(Options{AdminKey: "k", Cron: cron})

	assert.Equal(t, http.StatusForbidden, do(h, "/cron").Code)
	assert.Zero(t, cron.calls)

	rec := do(h, "/cron?key=k")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cron.calls)
	assert.JSONEq(t,
		`{"ok":true,"counters":{"ts":"2025-01-02T03:04:05Z","evaluated":3,"triggered":1,"errors":1,"downgraded":0}}`,
		rec.Body.String())
}

func TestCronConflictWithoutLock(t *testing.T) {
	h := newTestServer(Options{AdminKey: "k", Cron: &fakeCron{err: worker.ErrNotLeader}})
	rec := do(h, "/cron?key=k")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCronTickFailure(t *testing.T) {
	h := newTestServer(Options{AdminKey: "k", Cron: &fakeCron{err: errors.New("store down")}})
	assert.Equal(t, http.StatusInternalServerError, do(h, "/cron?key=k").Code)
}

func TestCronDisabledWithoutKey(t *testing.T) {
	h := newTestServer(Options{Cron: &fakeCron{}})
	assert.Equal(t, http.StatusNotFound, do(h, "/cron").Code)
}
