// Package refresh owns the refresh state machine and the poll loop that
// drives it. All mutation of the state, the usage snapshot and the
// in-flight cycle happens under one owner; readers get copies.
package refresh

// State is the closed set of refresh states. Exactly one is active at any
// instant.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePausedForSleep
	StateWakingUp
	StateNeedsManualRefresh
)

var allStates = []State{
	StateIdle,
	StateLoading,
	StatePausedForSleep,
	StateWakingUp,
	StateNeedsManualRefresh,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePausedForSleep:
		return "paused_for_sleep"
	case StateWakingUp:
		return "waking_up"
	case StateNeedsManualRefresh:
		return "needs_manual_refresh"
	default:
		return "unknown"
	}
}

// Trigger identifies what initiated a refresh cycle.
type Trigger string

const (
	TriggerAuto      Trigger = "auto"
	TriggerUser      Trigger = "user"
	TriggerWake      Trigger = "wake"
	TriggerBootstrap Trigger = "bootstrap"
)
