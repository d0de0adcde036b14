package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrNotHeld = errors.New("lock: not held")

// Advisory is a Postgres session-level advisory lock. The lock lives as long
// as the dedicated connection that took it, so that connection is kept out of
// the shared pool and pinged until Release.
type Advisory struct {
	dsn          string
	pingInterval time.Duration
	log          *slog.Logger

	mu   sync.Mutex
	conn *pgx.Conn
	id   int64
	stop chan struct{}
	done chan struct{}
	lost chan struct{}
}

func NewAdvisory(dsn string, log *slog.Logger) *Advisory {
	return &Advisory{
		dsn:          dsn,
		pingInterval: 30 * time.Second,
		log:          log.With("component", "advisory_lock"),
		lost:         make(chan struct{}),
	}
}

// TryAcquire never blocks waiting for another holder.
func (a *Advisory) TryAcquire(ctx context.Context, id int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.id == id, nil
	}

	conn, err := pgx.Connect(ctx, a.dsn)
	if err != nil {
		return false, fmt.Errorf("lock connect: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		_ = conn.Close(ctx)
		return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		_ = conn.Close(ctx)
		return false, nil
	}

	a.conn = conn
	a.id = id
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.keepalive(conn, a.stop, a.done)
	return true, nil
}

func (a *Advisory) keepalive(conn *pgx.Conn, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(a.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				a.log.Error("lock connection lost", "lock_id", a.id, "err", err)
				close(a.lost)
				return
			}
		}
	}
}

// Lost is closed if the lock connection dies while held.
func (a *Advisory) Lost() <-chan struct{} { return a.lost }

func (a *Advisory) Release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotHeld
	}
	close(a.stop)
	<-a.done

	var released bool
	err := a.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, a.id).Scan(&released)
	closeErr := a.conn.Close(ctx)
	a.conn = nil
	if err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	if !released {
		return ErrNotHeld
	}
	return closeErr
}
