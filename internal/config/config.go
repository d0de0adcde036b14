package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

var (
	ErrMissingToken = errors.New("config: telegram.token is required")
	ErrMissingDSN   = errors.New("config: postgres.dsn is required")
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	Telegram struct {
		Token          string
		DefaultChatID  string `mapstructure:"default_chat_id"`
		APIEndpoint    string `mapstructure:"api_endpoint"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		RatePerSecond  int    `mapstructure:"rate_per_second"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Admin struct {
		Key string
	} `mapstructure:"admin"`

	Worker struct {
		IntervalSeconds    int    `mapstructure:"interval_seconds"`
		TickTimeoutSeconds int    `mapstructure:"tick_timeout_seconds"`
		LockID             int64  `mapstructure:"lock_id"`
		RunOnce            bool   `mapstructure:"run_once"`
		Concurrency        int    `mapstructure:"concurrency"`
		OnLockBusy         string `mapstructure:"on_lock_busy"`
	} `mapstructure:"worker"`

	Lock struct {
		Backend string
	} `mapstructure:"lock"`

	Redis struct {
		Addr           string
		LockTTLSeconds int `mapstructure:"lock_ttl_seconds"`
	} `mapstructure:"redis"`

	Oracle struct {
		BaseURL        string `mapstructure:"base_url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"oracle"`
}

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"

	OnLockBusyIdle = "idle"
	OnLockBusyExit = "exit"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.default_chat_id", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.timeout_seconds", 20)
	v.SetDefault("telegram.rate_per_second", 25)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("admin.key", "")
	v.SetDefault("worker.interval_seconds", 60)
	v.SetDefault("worker.tick_timeout_seconds", 0)
	v.SetDefault("worker.lock_id", 727001)
	v.SetDefault("worker.run_once", false)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.on_lock_busy", OnLockBusyIdle)
	v.SetDefault("lock.backend", LockBackendPostgres)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_ttl_seconds", 30)
	v.SetDefault("oracle.base_url", "https://api.binance.com")
	v.SetDefault("oracle.timeout_seconds", 8)
}

// Load reads the optional YAML file at path, then applies APP_* environment
// overrides (APP_WORKER_INTERVAL_SECONDS -> worker.interval_seconds).
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return c, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return c, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return ErrMissingDSN
	}
	if c.Worker.IntervalSeconds <= 0 {
		return fmt.Errorf("config: worker.interval_seconds must be positive, got %d", c.Worker.IntervalSeconds)
	}
	if c.Worker.TickTimeoutSeconds < 0 {
		return fmt.Errorf("config: worker.tick_timeout_seconds must not be negative, got %d", c.Worker.TickTimeoutSeconds)
	}
	switch c.Lock.Backend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("config: unknown lock.backend %q", c.Lock.Backend)
	}
	switch c.Worker.OnLockBusy {
	case OnLockBusyIdle, OnLockBusyExit:
	default:
		return fmt.Errorf("config: unknown worker.on_lock_busy %q", c.Worker.OnLockBusy)
	}
	return nil
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

// TickTimeout is the deadline for one evaluation tick; 0 means the interval.
func (c Config) TickTimeout() time.Duration {
	if c.Worker.TickTimeoutSeconds <= 0 {
		return c.Interval()
	}
	return time.Duration(c.Worker.TickTimeoutSeconds) * time.Second
}

func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

func (c Config) TelegramTimeout() time.Duration {
	return time.Duration(c.Telegram.TimeoutSeconds) * time.Second
}

func (c Config) RedisLockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}
