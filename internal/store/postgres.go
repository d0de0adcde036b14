package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/domain/subscriptions"
	"github.com/Spok95/price-alerts/internal/domain/users"
	"github.com/Spok95/price-alerts/internal/worker"
)

// Postgres is the alert store backed by the shared pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// Session pins one pooled connection for the duration of a tick.
func (p *Postgres) Session(ctx context.Context) (worker.Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &session{
		conn:   conn,
		alerts: alerts.NewRepo(conn),
		subs:   subscriptions.NewRepo(conn),
	}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

type session struct {
	conn   *pgxpool.Conn
	alerts *alerts.Repo
	subs   *subscriptions.Repo
}

func (s *session) EnabledAlerts(ctx context.Context, now time.Time) ([]alerts.Alert, error) {
	return s.alerts.ListEnabled(ctx, now)
}

func (s *session) SaveAlertState(ctx context.Context, id int64, st alerts.State) error {
	return s.alerts.SaveState(ctx, id, st)
}

func (s *session) LatestSubscriptions(ctx context.Context) ([]subscriptions.Subscription, error) {
	return s.subs.LatestPerUser(ctx)
}

func (s *session) Downgrade(ctx context.Context, terminals []subscriptions.Subscription) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		usersRepo, subsRepo := users.NewRepo(tx), subscriptions.NewRepo(tx)
		for _, terminal := range terminals {
			if err := usersRepo.SetPremium(ctx, terminal.UserID, false); err != nil {
				return fmt.Errorf("clear premium for user %d: %w", terminal.UserID, err)
			}
			if _, err := subsRepo.Append(ctx, terminal); err != nil {
				return fmt.Errorf("append terminal subscription for user %d: %w", terminal.UserID, err)
			}
		}
		return nil
	})
}

// Release hands the connection back; pgxpool destroys it instead if it
// broke during the tick.
func (s *session) Release() {
	s.conn.Release()
}

type Stats struct {
	Users               int64 `json:"users"`
	PremiumUsers        int64 `json:"premium_users"`
	ActiveAlerts        int64 `json:"active_alerts"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
}

func (p *Postgres) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	var err error
	if st.Users, st.PremiumUsers, err = users.NewRepo(p.pool).Counts(ctx); err != nil {
		return st, fmt.Errorf("count users: %w", err)
	}
	if st.ActiveAlerts, err = alerts.NewRepo(p.pool).CountActive(ctx, now); err != nil {
		return st, fmt.Errorf("count alerts: %w", err)
	}
	if st.ActiveSubscriptions, err = subscriptions.NewRepo(p.pool).CountActive(ctx); err != nil {
		return st, fmt.Errorf("count subscriptions: %w", err)
	}
	return st, nil
}

func (p *Postgres) AllAlerts(ctx context.Context) ([]alerts.Alert, error) {
	return alerts.NewRepo(p.pool).ListAll(ctx)
}
