package worker

import (
	"context"
	"time"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
	"github.com/Spok95/price-alerts/internal/domain/subscriptions"
	"github.com/Spok95/price-alerts/internal/notify"
	"github.com/Spok95/price-alerts/internal/prices"
)

// Store hands out one Session per tick. The session's connection is given
// back by Release whatever the tick's outcome.
type Store interface {
	Session(ctx context.Context) (Session, error)
}

type Session interface {
	EnabledAlerts(ctx context.Context, now time.Time) ([]alerts.Alert, error)
	SaveAlertState(ctx context.Context, id int64, st alerts.State) error

	LatestSubscriptions(ctx context.Context) ([]subscriptions.Subscription, error)
	// Downgrade clears each owner's premium flag and appends the terminal
	// rows, all in one transaction.
	Downgrade(ctx context.Context, terminals []subscriptions.Subscription) error

	Release()
}

type Oracle interface {
	Resolve(userSymbol string) (string, error)
	FetchPrice(ctx context.Context, symbol string) prices.Quote
}

type Sink interface {
	Send(ctx context.Context, recipient, text string) notify.Result
}

// Locker elects the single evaluator process.
type Locker interface {
	TryAcquire(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context) error
	Lost() <-chan struct{}
}
