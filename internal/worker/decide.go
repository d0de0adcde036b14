package worker

import (
	"time"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
)

type Action int

const (
	// ActionNone: condition false and already recorded as false.
	ActionNone Action = iota
	// ActionRearm: condition false, last_met must become false.
	ActionRearm
	// ActionHold: condition still true since a fired crossing.
	ActionHold
	// ActionCooldown: fresh crossing, but the cooldown window is still open.
	// The edge is not consumed, so it is retried next tick.
	ActionCooldown
	// ActionFire: fresh crossing outside cooldown, notify.
	ActionFire
)

func (a Action) String() string {
	switch a {
	case ActionRearm:
		return "rearm"
	case ActionHold:
		return "hold"
	case ActionCooldown:
		return "cooldown"
	case ActionFire:
		return "fire"
	}
	return "none"
}

// Decide is the per-alert edge-trigger state machine.
func Decide(a alerts.Alert, price float64, now time.Time) Action {
	if !a.Rule.Met(a.Value, price) {
		if a.LastMet == alerts.MetFalse {
			return ActionNone
		}
		return ActionRearm
	}

	if a.LastMet == alerts.MetTrue {
		return ActionHold
	}
	// MetFalse or MetUnknown: a fresh crossing.

	if a.LastFiredAt != nil && now.Before(a.LastFiredAt.Add(a.Cooldown())) {
		return ActionCooldown
	}
	return ActionFire
}
