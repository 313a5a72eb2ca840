package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

// Scene is the read-only context the DM sees while clarifying.
type Scene struct {
	Actor  model.Actor
	Party  model.Party
	Memory model.MemoryState
	Recent []model.ResolvedEvent
}

// Step is the result of one DM turn: a question, or the final action.
type Step struct {
	Question string
	Action   *model.Action
}

// Machine drives a session through DM clarification turns.
type Machine struct {
	dm       model.DungeonMaster
	fallback string
	ceiling  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewMachine(dm model.DungeonMaster, fallback string, ceiling time.Duration, now func() time.Time, logger *zap.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == "" {
		fallback = config.FallbackNarrativeOnly
	}
	return &Machine{dm: dm, fallback: fallback, ceiling: ceiling, now: now, logger: logger}
}

// Advance runs one DM clarification turn on s. An open session stays open on
// error; the caller decides whether to close it. A human session whose DM
// still asks at the limit is forced; an automated one returns
// model.ErrExchangeLimitExceeded.
func (m *Machine) Advance(ctx context.Context, s *Session, scene Scene) (Step, error) {
	if s.Status.Terminal() {
		return Step{}, model.ErrSessionClosed
	}
	if s.ExpiredAt(m.now(), m.ceiling) {
		return Step{}, model.ErrSessionExpired
	}

	force := s.AtLimit()
	clar, err := m.dm.Clarify(ctx, model.ClarifyRequest{
		Actor:     scene.Actor,
		Party:     scene.Party,
		Memory:    scene.Memory,
		Recent:    scene.Recent,
		Text:      s.Text,
		Exchanges: append([]model.Exchange(nil), s.Exchanges...),
		Force:     force,
	})
	if err != nil {
		return Step{}, fmt.Errorf("clarify: %w", err)
	}
	// the DM can be slow; an automated session may have run out meanwhile
	if s.ExpiredAt(m.now(), m.ceiling) {
		return Step{}, model.ErrSessionExpired
	}

	if !clar.Resolved() {
		err := s.Ask(clar.Question, m.now())
		if err == nil {
			return Step{Question: clar.Question}, nil
		}
		if !errors.Is(err, model.ErrExchangeLimitExceeded) {
			return Step{}, err
		}
		if s.Origin.Automated() {
			// a confused automated actor takes the safe action instead
			m.logger.Info("dm kept asking an automated actor at the exchange limit",
				zap.String("session", s.ID),
				zap.Int("exchanges", s.ExchangeCount()))
			return Step{}, err
		}
		return m.forced(s)
	}

	action := model.Action{
		Text:     clar.Action,
		Category: model.ParseCategory(string(clar.Category)),
		Forced:   force,
	}
	if action.Text == "" {
		action.Text = s.Intent()
	}
	resolved, err := s.Resolve(action)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: &resolved}, nil
}

// Direct resolves s without consulting the DM. Used for fallback actions
// that must not stall on clarification.
func (m *Machine) Direct(s *Session, category model.Category) (Step, error) {
	resolved, err := s.Resolve(model.Action{Text: s.Text, Category: category})
	if err != nil {
		return Step{}, err
	}
	return Step{Action: &resolved}, nil
}

func (m *Machine) forced(s *Session) (Step, error) {
	narrativeOnly := m.fallback == config.FallbackNarrativeOnly
	m.logger.Warn("dm kept asking at the exchange limit, forcing resolution",
		zap.String("session", s.ID),
		zap.Int("exchanges", s.ExchangeCount()),
		zap.Bool("narrative_only", narrativeOnly))

	action := model.Action{
		Text:          s.Intent(),
		Category:      model.CategoryNarrative,
		Forced:        true,
		NarrativeOnly: narrativeOnly,
	}
	if !narrativeOnly {
		action.Category = model.CategoryPhysical
	}
	resolved, err := s.Resolve(action)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: &resolved}, nil
}
