// Package playback drives one active playback per tenant.
package playback

// State represents the playback state of a tenant.
type State int

const (
	StateIdle        State = iota // Nothing playing
	StateResolving                // Resolving the next item
	StatePlaying                  // Audio is playing
	StatePaused                   // Audio is paused
	StateBackPending              // Back navigation is rebuilding the queue
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBackPending:
		return "back_pending"
	default:
		return "unknown"
	}
}
