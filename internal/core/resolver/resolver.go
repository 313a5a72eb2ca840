package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/core/validate"
	"github.com/agenthands/tavern/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the slice of storage a resolution reads and commits.
type Store interface {
	LoadTurn(ctx context.Context, adventureID string) (model.TurnState, error)
	LoadParty(ctx context.Context, adventureID string) (model.Party, error)
	LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error)
	RecentEvents(ctx context.Context, adventureID string, limit int) ([]model.ResolvedEvent, error)
	CommitResolution(ctx context.Context, adventureID string, c storage.Commit) error
}

// Turns computes the next turn and is told once it is committed.
type Turns interface {
	Next(current model.TurnState, party model.Party) (model.TurnState, error)
	Advanced(next model.TurnState)
}

type Compactor interface {
	Compact(ctx context.Context, adventureID string, event model.ResolvedEvent, notes map[string]string) model.MemoryState
}

type Options struct {
	MaxToolRounds int
	EnforceDice   bool
	RecentEvents  int
}

type Resolver struct {
	store      Store
	dm         model.DungeonMaster
	validators validate.Selector
	toolbox    *tools.Toolbox
	compactor  Compactor
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

func New(store Store, dm model.DungeonMaster, validators validate.Selector, toolbox *tools.Toolbox, compactor Compactor, opts Options, now func() time.Time, logger *zap.Logger) *Resolver {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 1
	}
	if opts.RecentEvents <= 0 {
		opts.RecentEvents = 15
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:      store,
		dm:         dm,
		validators: validators,
		toolbox:    toolbox,
		compactor:  compactor,
		opts:       opts,
		now:        now,
		logger:     logger,
	}
}

type Result struct {
	Event  model.ResolvedEvent
	Party  model.Party
	Turn   model.TurnState
	Memory model.MemoryState
}

// Resolve turns one final action into exactly one committed event and an
// advanced turn, or into an error with nothing persisted.
func (r *Resolver) Resolve(ctx context.Context, adventureID string, turns Turns, action model.Action) (Result, error) {
	log := r.logger.With(zap.String("adventure", adventureID), zap.String("actor", action.ActorID))

	turn, err := r.store.LoadTurn(ctx, adventureID)
	if err != nil {
		return Result{}, &model.RetryableError{Op: "load turn", Err: err}
	}
	if action.ActorID != turn.ActiveActor {
		return Result{}, fmt.Errorf("%w: %s is not %s", model.ErrStaleAction, action.ActorID, turn.ActiveActor)
	}
	party, err := r.store.LoadParty(ctx, adventureID)
	if err != nil {
		return Result{}, &model.RetryableError{Op: "load party", Err: err}
	}
	actor, ok := party.Find(action.ActorID)
	if !ok || actor.Inactive {
		return Result{}, fmt.Errorf("%w: %s has left the party", model.ErrStaleAction, action.ActorID)
	}
	memory, err := r.store.LoadMemory(ctx, adventureID)
	if err != nil {
		return Result{}, &model.RetryableError{Op: "load memory", Err: err}
	}
	recent, err := r.store.RecentEvents(ctx, adventureID, r.opts.RecentEvents)
	if err != nil {
		return Result{}, &model.RetryableError{Op: "load history", Err: err}
	}

	action, err = r.validate(ctx, action, actor)
	if err != nil {
		return Result{}, err
	}

	ledger := r.toolbox.NewTurn(tools.TurnInput{
		AdventureID:   adventureID,
		Actor:         actor,
		Party:         party,
		Memory:        memory,
		Recent:        recent,
		NarrativeOnly: action.NarrativeOnly,
	})
	req := model.ResolveRequest{
		Action: action,
		Actor:  actor,
		Party:  party,
		Memory: memory,
		Recent: recent,
		Tools:  r.toolbox.Specs(),
	}

	outcome, err := r.runDM(ctx, req, ledger, log)
	if err != nil {
		return Result{}, err
	}
	if r.opts.EnforceDice && ledger.NeedsDiceRetry() {
		log.Info("damage applied without a dice roll, resolving again")
		ledger.Reset()
		req.EnforceDice = true
		outcome, err = r.runDM(ctx, req, ledger, log)
		if err != nil {
			return Result{}, err
		}
	}

	if err := applyOutcomeEffects(ledger, outcome, action.NarrativeOnly); err != nil {
		return Result{}, &model.RetryableError{Op: "apply effects", Err: err}
	}

	now := r.now()
	finalParty := ledger.Party()
	if a, ok := finalParty.Find(actor.ID); ok {
		a.LastActive = now
		_ = finalParty.Update(a)
	}
	event := model.ResolvedEvent{
		ID:            uuid.NewString(),
		AdventureID:   adventureID,
		TurnNumber:    turn.TurnNumber,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		Action:        action.Text,
		Outcome:       strings.TrimSpace(outcome.Narrative),
		Effects:       ledger.Effects(),
		Forced:        action.Forced,
		NarrativeOnly: action.NarrativeOnly,
		Origin:        action.Origin,
		Timestamp:     now,
	}

	next, err := turns.Next(turn, finalParty)
	if err != nil {
		return Result{}, fmt.Errorf("advance turn: %w", err)
	}
	if err := r.store.CommitResolution(ctx, adventureID, storage.Commit{Event: event, Party: finalParty, Turn: next}); err != nil {
		return Result{}, &model.RetryableError{Op: "commit resolution", Err: err}
	}
	log.Info("turn resolved",
		zap.Int("turn", event.TurnNumber),
		zap.Int("effects", len(event.Effects)),
		zap.String("origin", string(event.Origin)),
		zap.String("next_actor", next.ActiveActor))

	mem := memory
	if r.compactor != nil {
		mem = r.compactor.Compact(ctx, adventureID, event, ledger.Notes())
	}
	turns.Advanced(next)

	return Result{Event: event, Party: finalParty, Turn: next, Memory: mem}, nil
}

func (r *Resolver) validate(ctx context.Context, action model.Action, actor model.Actor) (model.Action, error) {
	if action.NarrativeOnly {
		return action, nil
	}
	validator, name := r.validators.For(action.Category)
	if validator == nil {
		return action, nil
	}
	verdict, err := validator.Validate(ctx, action, actor)
	if err != nil {
		if errors.Is(err, model.ErrAgentUnavailable) {
			return action, err
		}
		return action, fmt.Errorf("%w: %s: %v", model.ErrAgentUnavailable, name, err)
	}
	switch verdict.Kind {
	case model.VerdictDeny:
		return action, &model.ValidationDeniedError{Validator: name, Reason: verdict.Reason}
	case model.VerdictRewrite:
		r.logger.Info("action rewritten",
			zap.String("validator", name),
			zap.String("from", action.Text),
			zap.String("to", verdict.Action))
		action.Text = verdict.Action
	}
	return action, nil
}

// runDM is the bounded tool protocol: each round the DM either requests tool
// calls, which run against the ledger, or returns the outcome. The last round
// forbids tools.
func (r *Resolver) runDM(ctx context.Context, req model.ResolveRequest, ledger *tools.Turn, log *zap.Logger) (model.Outcome, error) {
	req.Transcript = nil
	for round := 0; round < r.opts.MaxToolRounds; round++ {
		req.FinalRound = round == r.opts.MaxToolRounds-1
		req.Party = ledger.Party()

		turn, err := r.dm.Resolve(ctx, req)
		if err != nil {
			if errors.Is(err, model.ErrAgentUnavailable) {
				return model.Outcome{}, err
			}
			return model.Outcome{}, fmt.Errorf("%w: dm: %v", model.ErrAgentUnavailable, err)
		}
		if turn.Outcome != nil {
			return *turn.Outcome, nil
		}
		if len(turn.ToolCalls) == 0 {
			return model.Outcome{}, fmt.Errorf("%w: dm returned neither tool calls nor an outcome", model.ErrAgentUnavailable)
		}
		if req.FinalRound {
			break
		}

		results := make([]model.ToolResult, len(turn.ToolCalls))
		for i, call := range turn.ToolCalls {
			results[i] = ledger.Execute(ctx, call)
		}
		req.Transcript = append(req.Transcript, model.ToolRound{Calls: turn.ToolCalls, Results: results})
	}

	log.Warn("dm exhausted its tool rounds, narrating from tool results", zap.Int("rounds", r.opts.MaxToolRounds))
	return model.Outcome{Narrative: narrateTranscript(req.Transcript)}, nil
}

// applyOutcomeEffects stages the effects the DM declared in its outcome. HP
// effects are skipped when apply_damage already staged HP changes, so the
// same wound is never counted twice.
func applyOutcomeEffects(ledger *tools.Turn, outcome model.Outcome, narrativeOnly bool) error {
	if narrativeOnly {
		return nil
	}
	hpStaged := false
	for _, e := range ledger.Effects() {
		if e.Kind == model.EffectHP {
			hpStaged = true
			break
		}
	}
	for _, e := range outcome.Effects {
		if e.Kind == model.EffectHP && hpStaged {
			continue
		}
		if err := ledger.ApplyEffect(e); err != nil {
			return err
		}
	}
	return nil
}

func narrateTranscript(rounds []model.ToolRound) string {
	var lines []string
	for _, round := range rounds {
		for _, res := range round.Results {
			if !res.IsError && res.Output != "" {
				lines = append(lines, res.Output)
			}
		}
	}
	if len(lines) == 0 {
		return "The moment passes without a clear outcome."
	}
	return strings.Join(lines, "\n")
}
