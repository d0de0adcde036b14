package http

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/report"
	"github.com/Spok95/price-alerts/internal/store"
	"github.com/Spok95/price-alerts/internal/worker"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminSource backs the key-protected endpoints.
type AdminSource interface {
	Stats(ctx context.Context, now time.Time) (store.Stats, error)
	AllAlerts(ctx context.Context) ([]alerts.Alert, error)
}

// Cron runs one evaluation tick on demand.
type Cron interface {
	TickNow(ctx context.Context) (worker.Counters, error)
}

type Options struct {
	Addr          string
	ExposeMetrics bool
	AdminKey      string // admin endpoints are not mounted when empty
	Health        Pinger
	Admin         AdminSource
	Cron          Cron
	Log           *slog.Logger
	Now           func() time.Time
}

type Server struct {
	srv  *http.Server
	opts Options
}

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{opts: opts}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if opts.Health != nil {
		mux.HandleFunc("/healthz", s.healthz)
	}

	if opts.ExposeMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if opts.AdminKey != "" && opts.Admin != nil {
		mux.HandleFunc("/stats", s.requireKey(s.stats))
		mux.HandleFunc("/admin/alerts.xlsx", s.requireKey(s.alertsExport))
	}
	if opts.AdminKey != "" && opts.Cron != nil {
		mux.HandleFunc("/cron", s.requireKey(s.cron))
	}

	s.srv = &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.opts.Health.Ping(ctx); err != nil {
		s.opts.Log.Warn("healthz failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			key = r.Header.Get("X-Admin-Key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.AdminKey)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
			return
		}
		next(w, r)
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Admin.Stats(r.Context(), s.opts.Now())
	if err != nil {
		s.opts.Log.Error("stats failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) cron(w http.ResponseWriter, r *http.Request) {
	counters, err := s.opts.Cron.TickNow(r.Context())
	switch {
	case errors.Is(err, worker.ErrNotLeader):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "evaluator lock held by another process"})
	case err != nil:
		s.opts.Log.Error("cron tick failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "tick failed", "counters": counters})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "counters": counters})
	}
}

func (s *Server) alertsExport(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Admin.AllAlerts(r.Context())
	if err != nil {
		s.opts.Log.Error("alerts export failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "export unavailable"})
		return
	}

	buf := &bytes.Buffer{}
	if err := report.WriteAlerts(buf, list); err != nil {
		s.opts.Log.Error("alerts export failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "export unavailable"})
		return
	}

	name := fmt.Sprintf("alerts_%s.xlsx", s.opts.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
