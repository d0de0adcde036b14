package subscriptions

import (
	"context"

	"github.com/Spok95/price-alerts/internal/infra/db"
)

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

// LatestPerUser returns the authoritative (newest) subscription of every user
// that has one.
func (r *Repo) LatestPerUser(ctx context.Context) ([]Subscription, error) {
	const q = `SELECT DISTINCT ON (s.user_id)
	                  s.id, s.user_id, u.is_premium, s.provider, s.provider_status, s.status_internal,
	                  s.provider_ref, s.current_period_end, s.created_at
	           FROM subscriptions s
	           JOIN users u ON u.id = s.user_id
	           ORDER BY s.user_id, s.id DESC`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			s      Subscription
			status string
		)
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.IsPremium,
			&s.Provider,
			&s.ProviderStatus,
			&status,
			&s.ProviderRef,
			&s.CurrentPeriodEnd,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		s.StatusInternal = Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) Append(ctx context.Context, s Subscription) (int64, error) {
	const q = `
INSERT INTO subscriptions (user_id, provider, provider_status, status_internal, provider_ref, current_period_end)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q,
		s.UserID, s.Provider, s.ProviderStatus, string(s.StatusInternal), s.ProviderRef, s.CurrentPeriodEnd,
	).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status_internal IN ('ACTIVE', 'CANCEL_AT_PERIOD_END')`,
	).Scan(&n)
	return n, err
}
