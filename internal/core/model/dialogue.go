package model

import "time"

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionResolved  SessionStatus = "resolved"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

func (s SessionStatus) Terminal() bool {
	return s != SessionOpen
}

// Origin records who produced the input that opened a session. Autopilot is
// the AI playing a timed-out human's character.
type Origin string

const (
	OriginHuman     Origin = "human"
	OriginAI        Origin = "ai"
	OriginAutopilot Origin = "autopilot"
)

// Automated reports whether the session gets the reduced AI limits.
func (o Origin) Automated() bool {
	return o == OriginAI || o == OriginAutopilot
}

// Exchange is one clarification round.
type Exchange struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	AskedAt    time.Time `json:"asked_at"`
	AnsweredAt time.Time `json:"answered_at,omitempty"`
}

func (e Exchange) Answered() bool {
	return !e.AnsweredAt.IsZero()
}
