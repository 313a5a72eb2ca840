package model

import "time"

// TurnState is the per-adventure record of whose turn it is. Only the
// scheduler computes new values.
type TurnState struct {
	ActiveActor     string    `json:"active_actor"`
	TurnNumber      int       `json:"turn_number"`
	TurnStartedAt   time.Time `json:"turn_started_at"`
	TimeoutDeadline time.Time `json:"timeout_deadline"`
	ConsecutiveAI   int       `json:"consecutive_ai"`
	ChainPaused     bool      `json:"chain_paused,omitempty"`
}

// Due reports whether the deadline has passed at now.
func (t TurnState) Due(now time.Time) bool {
	return !t.TimeoutDeadline.IsZero() && !now.Before(t.TimeoutDeadline)
}
