package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/Spok95/price-alerts/internal/infra/db"
)

var ErrNotFound = errors.New("alerts: not found")

type Repo struct {
	db db.Querier
}

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

const selectCols = `a.id, a.user_id, COALESCE(u.telegram_id, ''), a.symbol, a.rule, a.value, a.enabled,
	a.cooldown_seconds, a.last_fired_at, a.last_met, a.expires_at, a.created_at, a.updated_at`

// ListEnabled returns enabled, unexpired alerts in id order.
func (r *Repo) ListEnabled(ctx context.Context, now time.Time) ([]Alert, error) {
	const q = `SELECT ` + selectCols + `
	           FROM alerts a
	           JOIN users u ON u.id = a.user_id
	           WHERE a.enabled AND (a.expires_at IS NULL OR a.expires_at > $1)
	           ORDER BY a.id`
	return r.list(ctx, q, now)
}

func (r *Repo) ListAll(ctx context.Context) ([]Alert, error) {
	const q = `SELECT ` + selectCols + `
	           FROM alerts a
	           JOIN users u ON u.id = a.user_id
	           ORDER BY a.id`
	return r.list(ctx, q)
}

func (r *Repo) list(ctx context.Context, q string, args ...any) ([]Alert, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var (
			a       Alert
			rule    string
			lastMet *bool
		)
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Recipient,
			&a.Symbol,
			&rule,
			&a.Value,
			&a.Enabled,
			&a.CooldownSeconds,
			&a.LastFiredAt,
			&lastMet,
			&a.ExpiresAt,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Rule = Rule(rule)
		a.LastMet = MetStateOf(lastMet)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveState writes the trigger-state pair of one alert. A single-row UPDATE
// is atomic on its own; no surrounding transaction is needed.
func (r *Repo) SaveState(ctx context.Context, id int64, st State) error {
	const q = `
UPDATE alerts
SET last_met = $2,
    last_fired_at = $3,
    updated_at = NOW()
WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id, st.LastMet.Nullable(), st.LastFiredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE enabled AND (expires_at IS NULL OR expires_at > $1)`, now,
	).Scan(&n)
	return n, err
}
