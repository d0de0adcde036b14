package users

import (
	"context"
	"errors"

	"github.com/Spok95/price-alerts/internal/infra/db"
)

var ErrNotFound = errors.New("users: not found")

// Repo covers the user columns the worker writes: the premium flag cleared by
// the expiry sweep, and the counts behind /stats.
type Repo struct {
	db db.Querier
}

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

func (r *Repo) SetPremium(ctx context.Context, id int64, premium bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_premium = $2, updated_at = NOW() WHERE id = $1`, id, premium)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Counts(ctx context.Context) (total, premium int64, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_premium) FROM users`,
	).Scan(&total, &premium)
	return total, premium, err
}
