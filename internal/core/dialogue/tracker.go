package dialogue

import (
	"fmt"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracker holds the single session slot of one adventure. Callers hold the
// adventure lock.
type Tracker struct {
	limits  Limits
	current *Session
	logger  *zap.Logger
}

func NewTracker(limits Limits, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{limits: limits, logger: logger}
}

func (t *Tracker) Limits() Limits {
	return t.limits
}

// Open starts a session for initiator. A second open session is a conflict.
func (t *Tracker) Open(initiator string, origin model.Origin, text string, now time.Time) (*Session, error) {
	if t.current != nil {
		return nil, fmt.Errorf("%w: a dialogue session is already open", model.ErrConflict)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Initiator: initiator,
		Origin:    origin,
		Text:      text,
		Status:    model.SessionOpen,
		OpenedAt:  now,
		Max:       t.limits.MaxFor(origin),
	}
	t.current = s
	return s, nil
}

// Current returns the open session or nil.
func (t *Tracker) Current() *Session {
	return t.current
}

// Cancel closes the open session on behalf of its initiator.
func (t *Tracker) Cancel(actorID string) (*Session, error) {
	s := t.current
	if s == nil {
		return nil, model.ErrNoSession
	}
	if s.Initiator != actorID {
		return nil, model.ErrNotInitiator
	}
	t.Close(model.SessionCancelled)
	return s, nil
}

// Close moves the open session to a terminal status and frees the slot.
func (t *Tracker) Close(status model.SessionStatus) {
	s := t.current
	if s == nil {
		return
	}
	if !s.Status.Terminal() {
		s.Status = status
	}
	t.current = nil

	fields := []zap.Field{
		zap.String("session", s.ID),
		zap.String("initiator", s.Initiator),
		zap.String("origin", string(s.Origin)),
		zap.Int("exchanges", s.ExchangeCount()),
	}
	switch s.Status {
	case model.SessionExpired:
		t.logger.Warn("dialogue session expired", fields...)
	case model.SessionCancelled:
		t.logger.Info("dialogue session cancelled", fields...)
	default:
		t.logger.Debug("dialogue session closed", append(fields, zap.String("status", string(s.Status)))...)
	}
}

// ExpireIfStale expires an automated session past the ceiling.
func (t *Tracker) ExpireIfStale(now time.Time) bool {
	s := t.current
	if s == nil || !s.ExpiredAt(now, t.limits.AISessionCeiling) {
		return false
	}
	t.Close(model.SessionExpired)
	return true
}
