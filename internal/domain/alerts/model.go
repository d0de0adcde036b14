package alerts

import "time"

type Rule string

const (
	RuleAbove Rule = "price_above"
	RuleBelow Rule = "price_below"
)

// Met reports whether price satisfies the rule against threshold. Both
// comparisons are strict.
func (r Rule) Met(threshold, price float64) bool {
	switch r {
	case RuleAbove:
		return price > threshold
	case RuleBelow:
		return price < threshold
	}
	return false
}

// MetState is the hysteresis memory: whether the condition held at the
// previous evaluation. Stored as a nullable boolean.
type MetState int8

const (
	MetUnknown MetState = iota
	MetTrue
	MetFalse
)

func MetStateOf(v *bool) MetState {
	switch {
	case v == nil:
		return MetUnknown
	case *v:
		return MetTrue
	default:
		return MetFalse
	}
}

func (m MetState) Nullable() *bool {
	var v bool
	switch m {
	case MetTrue:
		v = true
	case MetFalse:
		v = false
	default:
		return nil
	}
	return &v
}

func (m MetState) String() string {
	switch m {
	case MetTrue:
		return "true"
	case MetFalse:
		return "false"
	}
	return "unknown"
}

type Alert struct {
	ID              int64
	UserID          int64
	Recipient       string // owner's telegram_id, empty if unlinked
	Symbol          string
	Rule            Rule
	Value           float64
	Enabled         bool
	CooldownSeconds int
	LastFiredAt     *time.Time
	LastMet         MetState
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Alert) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// State is the part of an alert the evaluation cycle writes back.
type State struct {
	LastMet     MetState
	LastFiredAt *time.Time
}
