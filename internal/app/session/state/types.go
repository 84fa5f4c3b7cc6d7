// Package state provides the single-writer store for the current jam session.
package state

// Phase represents where the local process is in the session lifecycle.
type Phase int

const (
	PhaseIdle        Phase = iota // No session
	PhaseConnecting               // Create/join in progress, transport not ready yet
	PhaseProvisional              // Joined, holding a local stub until the first state sync
	PhaseActive                   // Session reconciled (creator, or joiner after sync)
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseProvisional:
		return "provisional"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}
