package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Spok95/price-alerts/internal/config"
	"github.com/Spok95/price-alerts/internal/infra/db"
	httpx "github.com/Spok95/price-alerts/internal/infra/http"
	"github.com/Spok95/price-alerts/internal/infra/lock"
	"github.com/Spok95/price-alerts/internal/infra/logger"
	"github.com/Spok95/price-alerts/internal/notify"
	"github.com/Spok95/price-alerts/internal/prices"
	"github.com/Spok95/price-alerts/internal/store"
	"github.com/Spok95/price-alerts/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to YAML config (optional, env APP_* overrides)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.New("prod").Error("config load failed", "path", *cfgPath, "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	if err := run(cfg, log); err != nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("graceful shutdown complete")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	log.Info("migrations applied")

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("db connected")

	sink, err := notify.NewTelegram(notify.TelegramOptions{
		Token:         cfg.Telegram.Token,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		Timeout:       cfg.TelegramTimeout(),
		RatePerSecond: cfg.Telegram.RatePerSecond,
		FallbackChat:  cfg.Telegram.DefaultChatID,
	}, log)
	if err != nil {
		return err
	}
	log.Info("telegram authorized", "bot", sink.BotName())

	st := store.NewPostgres(pool)
	oracle := prices.NewBinance(cfg.Oracle.BaseURL, cfg.OracleTimeout())
	metrics := worker.NewMetrics(prometheus.DefaultRegisterer)

	cycle := worker.NewCycle(st, oracle, sink, log, worker.CycleConfig{
		Concurrency: cfg.Worker.Concurrency,
		Metrics:     metrics,
	})

	locker, closeLocker := newLocker(cfg, log)
	defer closeLocker()

	runner := worker.NewRunner(cycle, locker, log, worker.RunnerConfig{
		Interval:    cfg.Interval(),
		TickTimeout: cfg.TickTimeout(),
		LockID:      cfg.Worker.LockID,
		RunOnce:     cfg.Worker.RunOnce,
		OnLockBusy:  worker.LockPolicy(cfg.Worker.OnLockBusy),
	})

	srv := httpx.New(httpx.Options{
		Addr:          cfg.HTTP.Addr,
		ExposeMetrics: cfg.Metrics.Enabled,
		AdminKey:      cfg.Admin.Key,
		Health:        st,
		Admin:         st,
		Cron:          runner,
		Log:           log,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	runErr := runner.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return runErr
}

func newLocker(cfg config.Config, log *slog.Logger) (worker.Locker, func()) {
	if cfg.Lock.Backend == config.LockBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		log.Info("using redis lock", "addr", cfg.Redis.Addr)
		return lock.NewRedis(client, cfg.RedisLockTTL(), log), func() { _ = client.Close() }
	}
	log.Info("using postgres advisory lock", "lock_id", cfg.Worker.LockID)
	return lock.NewAdvisory(cfg.Postgres.DSN, log), func() {}
}
