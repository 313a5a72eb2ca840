package scheduler

import (
	"context"
	"time"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

type Policy struct {
	HumanTimeout     time.Duration
	AIPacingDelay    time.Duration
	AIRetryDelay     time.Duration
	MaxConsecutiveAI int
	TimeoutPolicy    string
}

func PolicyFromConfig(cfg config.TurnsConfig) Policy {
	return Policy{
		HumanTimeout:     cfg.HumanTimeout.Duration,
		AIPacingDelay:    cfg.AIPacingDelay.Duration,
		AIRetryDelay:     cfg.AIRetryDelay.Duration,
		MaxConsecutiveAI: cfg.MaxConsecutiveAI,
		TimeoutPolicy:    cfg.TimeoutPolicy,
	}
}

type Decision int

const (
	// DecisionNone means the deadline has not passed.
	DecisionNone Decision = iota
	// DecisionAutopilot plays a silent human's turn from their own sheet.
	DecisionAutopilot
	// DecisionSkip advances without a narrative action.
	DecisionSkip
	// DecisionDriveAI runs the active AI actor's turn.
	DecisionDriveAI
)

func (d Decision) String() string {
	switch d {
	case DecisionAutopilot:
		return "autopilot"
	case DecisionSkip:
		return "skip"
	case DecisionDriveAI:
		return "drive_ai"
	}
	return "none"
}

// Scheduler computes every TurnState of one adventure and runs its timer.
type Scheduler struct {
	policy Policy
	now    func() time.Time
	wake   chan struct{}
	logger *zap.Logger
}

func New(policy Policy, now func() time.Time, logger *zap.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxConsecutiveAI <= 0 {
		policy.MaxConsecutiveAI = 1
	}
	return &Scheduler{policy: policy, now: now, wake: make(chan struct{}, 1), logger: logger}
}

// Start gives the first turn to the first active member.
func (s *Scheduler) Start(party model.Party) (model.TurnState, error) {
	first, err := party.First()
	if err != nil {
		return model.TurnState{}, err
	}
	now := s.now()
	st := model.TurnState{ActiveActor: first.ID, TurnNumber: 1, TurnStartedAt: now}
	st.TimeoutDeadline = now.Add(s.delayFor(first))
	return st, nil
}

// Next advances from current to the next active member in cyclic order.
func (s *Scheduler) Next(current model.TurnState, party model.Party) (model.TurnState, error) {
	next, err := party.Next(current.ActiveActor)
	if err != nil {
		return model.TurnState{}, err
	}
	resolved, _ := party.Find(current.ActiveActor)

	consecutive := 0
	if resolved.IsAI() {
		if current.ChainPaused {
			consecutive = 1
		} else {
			consecutive = current.ConsecutiveAI + 1
		}
	}

	now := s.now()
	st := model.TurnState{
		ActiveActor:   next.ID,
		TurnNumber:    current.TurnNumber + 1,
		TurnStartedAt: now,
		ConsecutiveAI: consecutive,
	}
	if next.IsAI() && consecutive >= s.policy.MaxConsecutiveAI {
		st.TimeoutDeadline = now.Add(s.policy.HumanTimeout)
		st.ChainPaused = true
		s.logger.Info("ai chain paused",
			zap.Int("consecutive_ai", consecutive),
			zap.String("next_actor", next.ID),
			zap.Time("resume_at", st.TimeoutDeadline))
		return st, nil
	}
	st.TimeoutDeadline = now.Add(s.delayFor(next))
	return st, nil
}

// Skip advances without an event, for a timed-out human under the skip policy.
func (s *Scheduler) Skip(current model.TurnState, party model.Party) (model.TurnState, error) {
	s.logger.Info("turn skipped", zap.String("actor", current.ActiveActor), zap.Int("turn", current.TurnNumber))
	return s.Next(current, party)
}

// Touch refreshes a human's deadline after they act inside their turn.
func (s *Scheduler) Touch(current model.TurnState) model.TurnState {
	if deadline := s.now().Add(s.policy.HumanTimeout); deadline.After(current.TimeoutDeadline) {
		current.TimeoutDeadline = deadline
	}
	return current
}

// RetryLater re-arms the deadline after a failed automated turn.
func (s *Scheduler) RetryLater(current model.TurnState) model.TurnState {
	current.TimeoutDeadline = s.now().Add(s.policy.AIRetryDelay)
	return current
}

// Decide is read-only; callers re-check it under the adventure lock.
func (s *Scheduler) Decide(current model.TurnState, party model.Party) Decision {
	if !current.Due(s.now()) {
		return DecisionNone
	}
	actor, ok := party.Find(current.ActiveActor)
	if !ok || actor.Inactive {
		return DecisionSkip
	}
	if actor.IsAI() {
		return DecisionDriveAI
	}
	if s.policy.TimeoutPolicy == config.PolicySkip {
		return DecisionSkip
	}
	return DecisionAutopilot
}

// Advanced wakes the timer loop so it sleeps until the new deadline.
func (s *Scheduler) Advanced(model.TurnState) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) delayFor(a model.Actor) time.Duration {
	if a.IsAI() {
		return s.policy.AIPacingDelay
	}
	return s.policy.HumanTimeout
}

// Target is what the timer loop drives.
type Target interface {
	NextDeadline() time.Time
	OnTimerTick(ctx context.Context) error
}

// Run sleeps until the target's next deadline, ticks it, and repeats. A call
// to Advanced re-computes the sleep. A failed tick holds the loop back for
// the retry delay. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context, target Target) error {
	var holdUntil time.Time
	for {
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if deadline := target.NextDeadline(); !deadline.IsZero() {
			if deadline.Before(holdUntil) {
				deadline = holdUntil
			}
			timer = time.NewTimer(max(deadline.Sub(s.now()), 0))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stop(timer)
			return nil
		case <-s.wake:
			stop(timer)
		case <-fire:
			holdUntil = time.Time{}
			if err := target.OnTimerTick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("timer tick failed", zap.Error(err))
				holdUntil = s.now().Add(s.policy.AIRetryDelay)
			}
		}
	}
}

func stop(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
