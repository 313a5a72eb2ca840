// Package core runs adventures: it owns the per-adventure lock and routes
// human input, timer ticks and AI turns through dialogue, resolution and
// scheduling.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenthands/tavern/internal/core/aiplayer"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/resolver"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/storage"
	"go.uber.org/zap"
)

var ErrEmptyAction = errors.New("action text is empty")

// Submission is one piece of player input. ID is optional; when set it
// identifies retries of the same submission.
type Submission struct {
	ID      string `json:"submission_id,omitempty"`
	ActorID string `json:"actor_id"`
	Text    string `json:"text"`
}

// Result is the outcome of a submission: a clarifying question, a resolved
// event, or a validator veto.
type Result struct {
	Question  string                       `json:"question,omitempty"`
	Event     *model.ResolvedEvent         `json:"event,omitempty"`
	Denied    *model.ValidationDeniedError `json:"-"`
	NextActor string                       `json:"next_actor,omitempty"`
	Duplicate bool                         `json:"duplicate,omitempty"`
}

// Status is a point-in-time view of an adventure, safe to read while a turn
// is resolving.
type Status struct {
	AdventureID   string    `json:"adventure_id"`
	ActiveActor   string    `json:"active_actor"`
	TurnNumber    int       `json:"turn_number"`
	Deadline      time.Time `json:"deadline"`
	ChainPaused   bool      `json:"chain_paused,omitempty"`
	SessionState  string    `json:"session_state"`
	Initiator     string    `json:"initiator,omitempty"`
	ExchangeCount int       `json:"exchange_count"`
	Question      string    `json:"question,omitempty"`
}

// Adventure serializes every transition of one adventure behind mu. Agent
// calls happen while mu is held, so one adventure never runs two at once.
type Adventure struct {
	id       string
	campaign string
	store    storage.Store
	resolver *resolver.Resolver
	machine  *dialogue.Machine
	driver   *aiplayer.Driver
	sched    *scheduler.Scheduler
	recent   int
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	tracker *dialogue.Tracker
	seen    *submissions

	status atomic.Pointer[Status]
}

func (a *Adventure) ID() string {
	return a.id
}

// Status never blocks on an in-flight turn.
func (a *Adventure) Status() Status {
	if s := a.status.Load(); s != nil {
		return *s
	}
	return Status{AdventureID: a.id, SessionState: "none"}
}

// NextDeadline is read by the timer loop without taking the lock.
func (a *Adventure) NextDeadline() time.Time {
	return a.Status().Deadline
}

// SubmitAction takes human input: a new action from the active actor, or the
// answer to the open session's question.
func (a *Adventure) SubmitAction(ctx context.Context, sub Submission) (Result, error) {
	sub.Text = strings.TrimSpace(sub.Text)
	if sub.Text == "" {
		return Result{}, ErrEmptyAction
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publish(ctx)

	now := a.now()
	a.tracker.ExpireIfStale(now)
	key := submissionKey(sub, sessionState(a.tracker.Current()))
	if cached, ok := a.seen.get(key, now); ok {
		a.logger.Info("duplicate submission", zap.String("actor", sub.ActorID))
		cached.Duplicate = true
		return cached, nil
	}

	res, err := a.submitLocked(ctx, sub.ActorID, sub.Text, model.OriginHuman)
	if denied, ok := model.IsDenied(err); ok {
		res, err = Result{Denied: denied}, nil
	}
	if err != nil {
		return Result{}, err
	}
	a.seen.put(key, res, now)
	return res, nil
}

// Cancel closes the open session on behalf of its initiator.
func (a *Adventure) Cancel(ctx context.Context, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publish(ctx)

	if _, err := a.tracker.Cancel(actorID); err != nil {
		return err
	}
	a.seen.forget()
	return nil
}

// AddMember recruits an actor at the end of turn order.
func (a *Adventure) AddMember(ctx context.Context, actor model.Actor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publish(ctx)

	party, err := a.store.LoadParty(ctx, a.id)
	if err != nil {
		return err
	}
	if err := party.Add(actor); err != nil {
		return err
	}
	if err := a.store.SaveParty(ctx, a.id, party); err != nil {
		return err
	}
	a.logger.Info("member joined", zap.String("actor", actor.ID), zap.String("kind", string(actor.Kind)))
	return nil
}

// RemoveMember takes an actor out of turn order. Their history stays. If it
// was their turn, the turn passes on.
func (a *Adventure) RemoveMember(ctx context.Context, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publish(ctx)

	party, err := a.store.LoadParty(ctx, a.id)
	if err != nil {
		return err
	}
	if err := party.Deactivate(actorID); err != nil {
		return err
	}
	if err := party.Validate(); err != nil {
		return fmt.Errorf("cannot remove the last member: %w", err)
	}
	turn, err := a.store.LoadTurn(ctx, a.id)
	if err != nil {
		return err
	}
	if err := a.store.SaveParty(ctx, a.id, party); err != nil {
		return err
	}
	if s := a.tracker.Current(); s != nil && s.Initiator == actorID {
		a.tracker.Close(model.SessionCancelled)
		a.seen.forget()
	}
	a.logger.Info("member left", zap.String("actor", actorID))

	if turn.ActiveActor != actorID {
		return nil
	}
	next, err := a.sched.Next(turn, party)
	if err != nil {
		return err
	}
	if err := a.store.SaveTurn(ctx, a.id, next); err != nil {
		return err
	}
	a.sched.Advanced(next)
	return nil
}

// OnTimerTick acts on a passed deadline. The decision is re-checked under
// the lock, so a tick that raced a resolution does nothing.
func (a *Adventure) OnTimerTick(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publish(ctx)

	a.tracker.ExpireIfStale(a.now())

	turn, err := a.store.LoadTurn(ctx, a.id)
	if err != nil {
		return err
	}
	party, err := a.store.LoadParty(ctx, a.id)
	if err != nil {
		return err
	}

	decision := a.sched.Decide(turn, party)
	if decision == scheduler.DecisionNone {
		return nil
	}
	log := a.logger.With(zap.String("actor", turn.ActiveActor), zap.Stringer("decision", decision))
	log.Info("turn deadline passed")

	if s := a.tracker.Current(); s != nil {
		// the deadline belongs to the initiator, who is the active actor
		a.tracker.Close(model.SessionCancelled)
		a.seen.forget()
	}

	switch decision {
	case scheduler.DecisionSkip:
		next, err := a.sched.Skip(turn, party)
		if err != nil {
			return err
		}
		if err := a.store.SaveTurn(ctx, a.id, next); err != nil {
			return err
		}
		a.sched.Advanced(next)
		return nil
	case scheduler.DecisionAutopilot:
		return a.drive(ctx, turn.ActiveActor, model.OriginAutopilot, log)
	default:
		return a.drive(ctx, turn.ActiveActor, model.OriginAI, log)
	}
}

func (a *Adventure) drive(ctx context.Context, actorID string, origin model.Origin, log *zap.Logger) error {
	scene, err := a.scene(ctx, actorID)
	if err == nil {
		err = a.driver.TakeTurn(ctx, scene, &drivenTurn{a: a, actorID: actorID, origin: origin})
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warn("automated turn failed, retrying later", zap.Error(err))

	turn, lerr := a.store.LoadTurn(ctx, a.id)
	if lerr != nil || turn.ActiveActor != actorID {
		return err
	}
	retry := a.sched.RetryLater(turn)
	if serr := a.store.SaveTurn(ctx, a.id, retry); serr != nil {
		log.Error("failed to re-arm turn", zap.Error(serr))
		return err
	}
	a.sched.Advanced(retry)
	return err
}

// submitLocked routes text from actorID: an answer if their session is open,
// otherwise a new action.
func (a *Adventure) submitLocked(ctx context.Context, actorID, text string, origin model.Origin) (Result, error) {
	now := a.now()
	a.tracker.ExpireIfStale(now)

	turn, err := a.store.LoadTurn(ctx, a.id)
	if err != nil {
		return Result{}, &model.RetryableError{Op: "load turn", Err: err}
	}

	if s := a.tracker.Current(); s != nil {
		if s.Initiator != actorID {
			return Result{}, fmt.Errorf("%w: a dialogue session is already open", model.ErrConflict)
		}
		if err := s.Answer(text, now); err != nil {
			return Result{}, err
		}
		if err := a.touch(ctx, turn, origin); err != nil {
			s.RetractAnswer()
			return Result{}, err
		}
		return a.advance(ctx, s, false)
	}

	if actorID != turn.ActiveActor {
		return Result{}, fmt.Errorf("%w: it is %s's turn", model.ErrStaleAction, turn.ActiveActor)
	}
	s, err := a.tracker.Open(actorID, origin, text, now)
	if err != nil {
		return Result{}, err
	}
	if err := a.touch(ctx, turn, origin); err != nil {
		a.tracker.Close(model.SessionCancelled)
		return Result{}, err
	}
	return a.advance(ctx, s, true)
}

// touch keeps a human's deadline ahead of their input.
func (a *Adventure) touch(ctx context.Context, turn model.TurnState, origin model.Origin) error {
	if origin != model.OriginHuman {
		return nil
	}
	touched := a.sched.Touch(turn)
	if touched.TimeoutDeadline.Equal(turn.TimeoutDeadline) {
		return nil
	}
	if err := a.store.SaveTurn(ctx, a.id, touched); err != nil {
		return &model.RetryableError{Op: "save turn", Err: err}
	}
	a.sched.Advanced(touched)
	return nil
}

// advance runs one DM clarify turn. A failure on the opening turn closes the
// session; a failure on an answer keeps it open for the answer to be resent.
func (a *Adventure) advance(ctx context.Context, s *dialogue.Session, opening bool) (Result, error) {
	fail := func(err error) (Result, error) {
		if opening {
			a.tracker.Close(model.SessionCancelled)
		} else {
			s.RetractAnswer()
		}
		return Result{}, err
	}

	scene, err := a.scene(ctx, s.Initiator)
	if err != nil {
		return fail(&model.RetryableError{Op: "load scene", Err: err})
	}
	step, err := a.machine.Advance(ctx, s, scene)
	switch {
	case errors.Is(err, model.ErrSessionExpired):
		a.tracker.Close(model.SessionExpired)
		return Result{}, err
	case errors.Is(err, model.ErrSessionClosed):
		return fail(err)
	case errors.Is(err, model.ErrExchangeLimitExceeded):
		a.tracker.Close(model.SessionCancelled)
		return Result{}, err
	case err != nil:
		if !errors.Is(err, model.ErrAgentUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrAgentUnavailable, err)
		}
		return fail(err)
	case step.Action == nil:
		return Result{Question: step.Question}, nil
	}
	return a.resolve(ctx, *step.Action)
}

// direct resolves text for actorID without clarification.
func (a *Adventure) direct(ctx context.Context, actorID, text string, origin model.Origin) error {
	turn, err := a.store.LoadTurn(ctx, a.id)
	if err != nil {
		return &model.RetryableError{Op: "load turn", Err: err}
	}
	if actorID != turn.ActiveActor {
		return fmt.Errorf("%w: it is %s's turn", model.ErrStaleAction, turn.ActiveActor)
	}
	s, err := a.tracker.Open(actorID, origin, text, a.now())
	if err != nil {
		return err
	}
	step, err := a.machine.Direct(s, model.CategoryNarrative)
	if err != nil {
		a.tracker.Close(model.SessionCancelled)
		return err
	}
	_, err = a.resolve(ctx, *step.Action)
	return err
}

// resolve frees the session slot and hands the action to the resolver.
func (a *Adventure) resolve(ctx context.Context, action model.Action) (Result, error) {
	a.tracker.Close(model.SessionResolved)
	res, err := a.resolver.Resolve(ctx, a.id, a.sched, action)
	if err != nil {
		a.logger.Info("resolution did not complete", zap.String("actor", action.ActorID), zap.Error(err))
		return Result{}, err
	}
	return Result{Event: &res.Event, NextActor: res.Turn.ActiveActor}, nil
}

func (a *Adventure) scene(ctx context.Context, actorID string) (dialogue.Scene, error) {
	party, err := a.store.LoadParty(ctx, a.id)
	if err != nil {
		return dialogue.Scene{}, err
	}
	actor, ok := party.Find(actorID)
	if !ok {
		return dialogue.Scene{}, fmt.Errorf("%w: %s", model.ErrUnknownActor, actorID)
	}
	mem, err := a.store.LoadMemory(ctx, a.id)
	if err != nil {
		return dialogue.Scene{}, err
	}
	recent, err := a.store.RecentEvents(ctx, a.id, a.recent)
	if err != nil {
		return dialogue.Scene{}, err
	}
	return dialogue.Scene{Actor: actor, Party: party, Memory: mem, Recent: recent}, nil
}

// publish refreshes the status snapshot. Callers hold the lock.
func (a *Adventure) publish(ctx context.Context) {
	turn, err := a.store.LoadTurn(context.WithoutCancel(ctx), a.id)
	if err != nil {
		a.logger.Warn("failed to refresh status", zap.Error(err))
		return
	}
	st := &Status{
		AdventureID:  a.id,
		ActiveActor:  turn.ActiveActor,
		TurnNumber:   turn.TurnNumber,
		Deadline:     turn.TimeoutDeadline,
		ChainPaused:  turn.ChainPaused,
		SessionState: "none",
	}
	if s := a.tracker.Current(); s != nil {
		st.SessionState = string(s.Status)
		st.Initiator = s.Initiator
		st.ExchangeCount = s.ExchangeCount()
		st.Question, _ = s.PendingQuestion()
	}
	a.status.Store(st)
}

// drivenTurn is the submission path of an automated turn. It runs inside
// OnTimerTick, which already holds the lock.
type drivenTurn struct {
	a       *Adventure
	actorID string
	origin  model.Origin
}

func (t *drivenTurn) Submit(ctx context.Context, text string) (string, error) {
	res, err := t.a.submitLocked(ctx, t.actorID, text, t.origin)
	if err != nil {
		return "", err
	}
	return res.Question, nil
}

func (t *drivenTurn) SubmitSafe(ctx context.Context, text string) error {
	return t.a.direct(ctx, t.actorID, text, t.origin)
}

func (t *drivenTurn) Abandon() {
	if s := t.a.tracker.Current(); s != nil && s.Initiator == t.actorID {
		t.a.tracker.Close(model.SessionCancelled)
	}
}
