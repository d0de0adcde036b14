package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Spok95/price-alerts/internal/domain/subscriptions"
)

// Sweep downgrades every user whose authoritative subscription has lapsed.
// History is never edited: a terminal row is appended instead. The batch is
// all or nothing, so on error no downgrade happened.
func Sweep(ctx context.Context, sess Session, now time.Time, log *slog.Logger) (int, error) {
	subs, err := sess.LatestSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest subscriptions: %w", err)
	}

	var lapsed []subscriptions.Subscription
	for _, s := range subs {
		if s.Lapsed(now) {
			lapsed = append(lapsed, s)
		}
	}
	if len(lapsed) == 0 {
		return 0, nil
	}

	terminals := make([]subscriptions.Subscription, len(lapsed))
	for i, s := range lapsed {
		terminals[i] = s.Terminal()
	}
	if err := sess.Downgrade(ctx, terminals); err != nil {
		return 0, fmt.Errorf("downgrade %d users: %w", len(terminals), err)
	}

	for _, s := range lapsed {
		log.Info("premium expired", "user_id", s.UserID, "subscription_id", s.ID,
			"period_end", s.CurrentPeriodEnd, "was_premium", s.IsPremium)
	}
	return len(lapsed), nil
}
