package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// renew extends the lease only if we still own it.
// KEYS[1]: lock key, ARGV[1]: owner token, ARGV[2]: ttl in ms
const luaRenew = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`

// KEYS[1]: lock key, ARGV[1]: owner token
const luaRelease = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// Redis is a lease-based lock for deployments sharing a Redis instead of
// relying on Postgres advisory locks. The lease is renewed at ttl/3.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger

	mu    sync.Mutex
	key   string
	token string
	stop  chan struct{}
	done  chan struct{}
	lost  chan struct{}
}

func NewRedis(client *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		log:    log.With("component", "redis_lock"),
		lost:   make(chan struct{}),
	}
}

func lockKey(id int64) string {
	return fmt.Sprintf("price-alerts:lock:%d", id)
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (r *Redis) TryAcquire(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" {
		return r.key == lockKey(id), nil
	}

	token, err := newToken()
	if err != nil {
		return false, err
	}
	key := lockKey(id)
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return false, nil
	}

	r.key, r.token = key, token
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.renew(key, token, r.stop, r.done)
	return true, nil
}

func (r *Redis) renew(key, token string, stop, done chan struct{}) {
	r.watch(key, stop, done, func(ctx context.Context) (int64, error) {
		return r.client.Eval(ctx, luaRenew, []string{key}, token, r.ttl.Milliseconds()).Int64()
	})
}

// watch extends the lease every ttl/3. The lease counts as lost when a renew
// finds another owner, or when no renew has succeeded for a whole ttl: by
// then the key may have expired and been taken elsewhere.
func (r *Redis) watch(key string, stop, done chan struct{}, extend func(ctx context.Context) (int64, error)) {
	defer close(done)
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := extend(ctx)
			cancel()
			switch {
			case err != nil && time.Since(lastOK) >= r.ttl:
				r.log.Error("lease expired while redis unreachable", "key", key, "err", err)
				close(r.lost)
				return
			case err != nil:
				r.log.Warn("lease renew failed", "key", key, "err", err)
			case n == 0:
				r.log.Error("lease lost", "key", key)
				close(r.lost)
				return
			default:
				lastOK = time.Now()
			}
		}
	}
}

func (r *Redis) Lost() <-chan struct{} { return r.lost }

func (r *Redis) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == "" {
		return ErrNotHeld
	}
	close(r.stop)
	<-r.done

	n, err := r.client.Eval(ctx, luaRelease, []string{r.key}, r.token).Int64()
	r.key, r.token = "", ""
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
