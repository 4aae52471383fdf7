package domain

import "errors"

// SessionMode is the lifecycle state of a swarm session.
type SessionMode string

const (
	ModeAdding  SessionMode = "adding"  // Swarm join in flight, metadata not yet known.
	ModeActive  SessionMode = "active"  // Layout known, ranges can be served.
	ModeClosing SessionMode = "closing" // Removal started, waiters are being released.
	ModeClosed  SessionMode = "closed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[SessionMode][]SessionMode{
	ModeAdding:  {ModeActive, ModeClosing},
	ModeActive:  {ModeClosing},
	ModeClosing: {ModeClosed},
}

// CanTransition reports whether a transition from one mode to another is valid.
func CanTransition(from, to SessionMode) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Serving reports whether ranges may still be opened in this mode.
func (m SessionMode) Serving() bool {
	return m == ModeActive
}
