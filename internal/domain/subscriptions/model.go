package subscriptions

import "time"

type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusCancelAtPeriodEnd Status = "CANCEL_AT_PERIOD_END"
	StatusCancelled         Status = "CANCELLED"
	StatusExpired           Status = "EXPIRED"
)

// Subscription rows are append-only; the newest row per user (by id) is the
// authoritative one.
type Subscription struct {
	ID               int64
	UserID           int64
	IsPremium        bool // owner's premium flag, filled by LatestPerUser
	Provider         string
	ProviderStatus   string
	StatusInternal   Status
	ProviderRef      *string
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
}

// Lapsed reports whether s still grants access on paper but its paid period
// ended before now.
func (s Subscription) Lapsed(now time.Time) bool {
	if s.StatusInternal != StatusActive && s.StatusInternal != StatusCancelAtPeriodEnd {
		return false
	}
	return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(now)
}

// Terminal builds the closing row appended when s lapses.
func (s Subscription) Terminal() Subscription {
	return Subscription{
		UserID:           s.UserID,
		Provider:         s.Provider,
		ProviderStatus:   string(StatusExpired),
		StatusInternal:   StatusCancelled,
		ProviderRef:      s.ProviderRef,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
	}
}
