package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
)

// Limits bounds clarification per initiator kind.
type Limits struct {
	HumanMaxExchanges int
	AIMaxExchanges    int
	AISessionCeiling  time.Duration
}

func (l Limits) MaxFor(origin model.Origin) int {
	if origin.Automated() {
		return l.AIMaxExchanges
	}
	return l.HumanMaxExchanges
}

// Session is the clarification protocol for one pending action.
type Session struct {
	ID        string
	Initiator string
	Origin    model.Origin
	Text      string
	Exchanges []model.Exchange
	Status    model.SessionStatus
	OpenedAt  time.Time
	Max       int

	handedOff bool
}

func (s *Session) ExchangeCount() int {
	return len(s.Exchanges)
}

// AtLimit reports whether the DM may no longer ask questions.
func (s *Session) AtLimit() bool {
	return len(s.Exchanges) >= s.Max
}

// PendingQuestion returns the question awaiting an answer, if any.
func (s *Session) PendingQuestion() (string, bool) {
	if len(s.Exchanges) == 0 {
		return "", false
	}
	last := s.Exchanges[len(s.Exchanges)-1]
	if last.Answered() {
		return "", false
	}
	return last.Question, true
}

func (s *Session) Ask(question string, now time.Time) error {
	if s.Status.Terminal() {
		return model.ErrSessionClosed
	}
	if _, pending := s.PendingQuestion(); pending {
		return fmt.Errorf("previous question is unanswered")
	}
	if s.AtLimit() {
		return model.ErrExchangeLimitExceeded
	}
	s.Exchanges = append(s.Exchanges, model.Exchange{Question: question, AskedAt: now})
	return nil
}

func (s *Session) Answer(text string, now time.Time) error {
	if s.Status.Terminal() {
		return model.ErrSessionClosed
	}
	if _, pending := s.PendingQuestion(); !pending {
		return fmt.Errorf("no question is awaiting an answer")
	}
	last := &s.Exchanges[len(s.Exchanges)-1]
	last.Answer = strings.TrimSpace(text)
	last.AnsweredAt = now
	return nil
}

// RetractAnswer reopens the last question after the DM failed to consume the
// answer, so the player can send it again.
func (s *Session) RetractAnswer() {
	if len(s.Exchanges) == 0 || s.Status.Terminal() {
		return
	}
	last := &s.Exchanges[len(s.Exchanges)-1]
	last.Answer = ""
	last.AnsweredAt = time.Time{}
}

// Intent is the original text plus every answer given so far.
func (s *Session) Intent() string {
	var answers []string
	for _, ex := range s.Exchanges {
		if ex.Answered() && ex.Answer != "" {
			answers = append(answers, ex.Answer)
		}
	}
	if len(answers) == 0 {
		return s.Text
	}
	return fmt.Sprintf("%s (%s)", s.Text, strings.Join(answers, "; "))
}

// Resolve closes the session and hands the action off. It succeeds once.
func (s *Session) Resolve(action model.Action) (model.Action, error) {
	if s.handedOff {
		return model.Action{}, fmt.Errorf("%w: action already handed off", model.ErrSessionClosed)
	}
	if s.Status.Terminal() {
		return model.Action{}, model.ErrSessionClosed
	}
	s.Status = model.SessionResolved
	s.handedOff = true
	action.SessionID = s.ID
	action.ActorID = s.Initiator
	action.Origin = s.Origin
	action.Original = s.Text
	action.Exchanges = append([]model.Exchange(nil), s.Exchanges...)
	return action, nil
}

// ExpiredAt reports whether an automated session outlived the ceiling.
func (s *Session) ExpiredAt(now time.Time, ceiling time.Duration) bool {
	return s.Origin.Automated() && ceiling > 0 && now.Sub(s.OpenedAt) > ceiling
}
