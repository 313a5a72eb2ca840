package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/agenttest"
	"github.com/agenthands/tavern/internal/core/memory"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/core/validate"
	"github.com/agenthands/tavern/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const adventureID = "adv-1"

type fixedRoller struct{ v int }

func (f fixedRoller) IntN(n int) int { return f.v % n }

type fixture struct {
	store   *storage.Memory
	dm      *agenttest.ScriptedDM
	lawyer  *agenttest.StaticValidator
	spells  *agenttest.StaticValidator
	summary *agenttest.MockLLM
	clock   *agenttest.Clock
	turns   *scheduler.Scheduler
	res     *Resolver
}

func arin() model.Actor {
	return model.Actor{ID: "arin", Name: "Arin", Kind: model.ActorHuman, Class: "warrior",
		Sheet: model.CharacterSheet{HP: 12, MaxHP: 12, Level: 1, Inventory: []model.Item{{Name: "Longsword", Quantity: 1}}}}
}

func lyra() model.Actor {
	return model.Actor{ID: "lyra", Name: "Lyra", Kind: model.ActorAI, Class: "mage",
		Sheet: model.CharacterSheet{HP: 7, MaxHP: 7, Level: 1}}
}

func newFixture(t *testing.T, members ...model.Actor) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemory(),
		dm:      &agenttest.ScriptedDM{},
		lawyer:  &agenttest.StaticValidator{},
		spells:  &agenttest.StaticValidator{},
		summary: &agenttest.MockLLM{Response: `{"summary": "Arin fought a goblin."}`},
		clock:   agenttest.NewClock(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)),
	}
	logger := zaptest.NewLogger(t)
	f.turns = scheduler.New(scheduler.Policy{
		HumanTimeout:     24 * time.Hour,
		AIPacingDelay:    5 * time.Second,
		AIRetryDelay:     time.Minute,
		MaxConsecutiveAI: 8,
		TimeoutPolicy:    config.PolicyAutopilot,
	}, f.clock.Now, logger)

	party, err := model.NewParty(members...)
	require.NoError(t, err)
	turn, err := f.turns.Start(party)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAdventure(context.Background(), storage.Adventure{ID: adventureID}, party, turn))
	require.NoError(t, f.store.SaveMemory(context.Background(), adventureID, model.MemoryState{StorySummary: "The party entered the caves."}))

	summarizer, err := memory.NewSummarizer(f.summary, config.DefaultPrompts().Summary)
	require.NoError(t, err)
	compactor := memory.NewCompactor(f.store, summarizer, 4000, f.clock.Now, logger)

	f.res = New(f.store, f.dm,
		validate.Selector{Physical: f.lawyer, Spell: f.spells},
		tools.NewToolbox(fixedRoller{v: 14}, nil, logger),
		compactor,
		Options{MaxToolRounds: 4, EnforceDice: true, RecentEvents: 15},
		f.clock.Now, logger)
	return f
}

func (f *fixture) resolve(actorID, text string, category model.Category) (Result, error) {
	f.clock.Advance(time.Minute)
	return f.res.Resolve(context.Background(), adventureID, f.turns, model.Action{
		ActorID: actorID, Text: text, Category: category, Origin: model.OriginHuman,
	})
}

func (f *fixture) events(t *testing.T) []model.ResolvedEvent {
	events, err := f.store.RecentEvents(context.Background(), adventureID, 100)
	require.NoError(t, err)
	return events
}

func (f *fixture) turn(t *testing.T) model.TurnState {
	turn, err := f.store.LoadTurn(context.Background(), adventureID)
	require.NoError(t, err)
	return turn
}

func TestResolveSoleActorGoblin(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.Turns = []model.DMTurn{agenttest.Narrate("Arin's blade cuts the goblin down.")}
	before := f.turn(t)

	result, err := f.resolve("arin", "I attack the goblin", model.CategoryPhysical)

	require.NoError(t, err)
	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "I attack the goblin", events[0].Action)
	assert.Equal(t, "Arin's blade cuts the goblin down.", events[0].Outcome)
	assert.Equal(t, 1, events[0].TurnNumber)

	turn := f.turn(t)
	assert.Equal(t, "arin", turn.ActiveActor)
	assert.Equal(t, 2, turn.TurnNumber)
	assert.True(t, turn.TimeoutDeadline.After(f.clock.Now()))
	assert.True(t, turn.TimeoutDeadline.After(before.TimeoutDeadline))
	assert.Equal(t, turn, result.Turn)

	mem, err := f.store.LoadMemory(context.Background(), adventureID)
	require.NoError(t, err)
	assert.Equal(t, "Arin fought a goblin.", mem.StorySummary)
	assert.Contains(t, f.summary.LastPrompt(), "The party entered the caves.")
	assert.Len(t, f.lawyer.Calls, 1)
}

func TestResolveAdvancesCyclically(t *testing.T) {
	f := newFixture(t, arin(), lyra())

	_, err := f.resolve("arin", "I open the door", model.CategoryPhysical)
	require.NoError(t, err)
	turn := f.turn(t)
	assert.Equal(t, "lyra", turn.ActiveActor)
	assert.Equal(t, f.clock.Now().Add(5*time.Second), turn.TimeoutDeadline)
}

func TestResolveRejectsStaleActor(t *testing.T) {
	f := newFixture(t, arin(), lyra())

	_, err := f.resolve("lyra", "I cast a spell", model.CategorySpell)

	assert.ErrorIs(t, err, model.ErrStaleAction)
	assert.Empty(t, f.events(t))
	assert.Equal(t, 0, f.dm.ResolveCount())
}

func TestResolveRunsToolsAgainstStagedParty(t *testing.T) {
	f := newFixture(t, arin(), lyra())
	f.dm.Turns = []model.DMTurn{
		agenttest.Call(tools.RollDiceTool, map[string]any{"notation": "1d20+3"}),
		agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": float64(-4), "reason": "goblin dagger"}),
		agenttest.Narrate("The goblin's dagger grazes Arin."),
	}

	result, err := f.resolve("arin", "I charge the goblin", model.CategoryPhysical)

	require.NoError(t, err)
	require.Equal(t, 3, f.dm.ResolveCount())
	last := f.dm.ResolveCalls[2]
	require.Len(t, last.Transcript, 2)
	assert.Equal(t, "Rolled 1d20+3: [15] + 3 = 18", last.Transcript[0].Results[0].Output)
	staged, _ := last.Party.Find("arin")
	assert.Equal(t, 8, staged.Sheet.HP)

	require.Len(t, result.Event.Effects, 1)
	assert.Equal(t, -4, result.Event.Effects[0].Amount)
	party, _ := f.store.LoadParty(context.Background(), adventureID)
	stored, _ := party.Find("arin")
	assert.Equal(t, 8, stored.Sheet.HP)
	assert.Equal(t, f.clock.Now(), stored.LastActive)
}

func TestResolveDiceEnforcementRetry(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.ResolveFunc = func(req model.ResolveRequest) (model.DMTurn, error) {
		rounds := len(req.Transcript)
		switch {
		case !req.EnforceDice && rounds == 0:
			return agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": -6}), nil
		case !req.EnforceDice:
			return agenttest.Narrate("Ouch."), nil
		case rounds == 0:
			return agenttest.Call(tools.RollDiceTool, map[string]any{"notation": "1d6"}), nil
		case rounds == 1:
			return agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": -3}), nil
		default:
			return agenttest.Narrate("The trap bites for 3."), nil
		}
	}

	result, err := f.resolve("arin", "I search the chest", model.CategoryPhysical)

	require.NoError(t, err)
	assert.Equal(t, "The trap bites for 3.", result.Event.Outcome)
	require.Len(t, result.Event.Effects, 1)
	assert.Equal(t, -3, result.Event.Effects[0].Amount)
	a, _ := result.Party.Find("arin")
	assert.Equal(t, 9, a.Sheet.HP)
	assert.Len(t, f.events(t), 1)
}

func TestResolveValidatorDenies(t *testing.T) {
	f := newFixture(t, arin(), lyra())
	f.lawyer.Verdict = model.Verdict{Kind: model.VerdictDeny, Reason: "Arin has no spear"}
	before := f.turn(t)

	_, err := f.resolve("arin", "I throw my spear", model.CategoryPhysical)

	denied, ok := model.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, validate.RulesLawyerName, denied.Validator)
	assert.Equal(t, "Arin has no spear", denied.Reason)
	assert.Equal(t, 0, f.dm.ResolveCount())
	assert.Empty(t, f.events(t))
	assert.Equal(t, before, f.turn(t))
}

func TestResolveSpellRewrite(t *testing.T) {
	f := newFixture(t, arin())
	f.spells.Verdict = model.Verdict{Kind: model.VerdictRewrite, Action: "I cast Fire Bolt at the goblin"}

	result, err := f.resolve("arin", "I cast Fireball", model.CategorySpell)

	require.NoError(t, err)
	assert.Equal(t, "I cast Fire Bolt at the goblin", result.Event.Action)
	assert.Equal(t, "I cast Fire Bolt at the goblin", f.dm.ResolveCalls[0].Action.Text)
	assert.Len(t, f.spells.Calls, 1)
	assert.Empty(t, f.lawyer.Calls)
}

func TestResolveNarrativeSkipsValidation(t *testing.T) {
	f := newFixture(t, arin())

	_, err := f.resolve("arin", "I greet the innkeeper", model.CategoryNarrative)

	require.NoError(t, err)
	assert.Empty(t, f.lawyer.Calls)
	assert.Empty(t, f.spells.Calls)
}

func TestResolveAgentUnavailable(t *testing.T) {
	f := newFixture(t, arin())
	f.lawyer.Err = errors.New("connection refused")

	_, err := f.resolve("arin", "I attack", model.CategoryPhysical)
	assert.ErrorIs(t, err, model.ErrAgentUnavailable)

	f.lawyer.Err = nil
	f.dm.ResolveErr = errors.New("overloaded")
	_, err = f.resolve("arin", "I attack", model.CategoryPhysical)
	assert.ErrorIs(t, err, model.ErrAgentUnavailable)
	assert.Empty(t, f.events(t))
}

func TestResolveCommitFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, arin(), lyra())
	f.dm.Turns = []model.DMTurn{
		agenttest.Call(tools.RollDiceTool, map[string]any{"notation": "1d8"}),
		agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": -5}),
		agenttest.Narrate("Arin is hurt."),
	}
	f.store.FailCommits(errors.New("disk full"))
	before := f.turn(t)

	_, err := f.resolve("arin", "I jump the pit", model.CategoryPhysical)

	var retryable *model.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, "commit resolution", retryable.Op)
	assert.Empty(t, f.events(t))
	assert.Equal(t, before, f.turn(t))
	party, _ := f.store.LoadParty(context.Background(), adventureID)
	a, _ := party.Find("arin")
	assert.Equal(t, 12, a.Sheet.HP)
	assert.Equal(t, 0, f.summary.Calls())
}

func TestResolveCompactorFailureStillAdvances(t *testing.T) {
	f := newFixture(t, arin(), lyra())
	f.summary.Err = errors.New("model offline")

	_, err := f.resolve("arin", "I light a torch", model.CategoryPhysical)

	require.NoError(t, err)
	assert.Len(t, f.events(t), 1)
	assert.Equal(t, "lyra", f.turn(t).ActiveActor)
	mem, _ := f.store.LoadMemory(context.Background(), adventureID)
	assert.Equal(t, "The party entered the caves.", mem.StorySummary)
}

func TestResolveCapsToolRounds(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.ResolveFunc = func(req model.ResolveRequest) (model.DMTurn, error) {
		return agenttest.Call(tools.RollDiceTool, map[string]any{"notation": "1d4"}), nil
	}

	result, err := f.resolve("arin", "I keep rolling", model.CategoryPhysical)

	require.NoError(t, err)
	assert.Equal(t, 4, f.dm.ResolveCount())
	assert.True(t, f.dm.ResolveCalls[3].FinalRound)
	assert.False(t, f.dm.ResolveCalls[2].FinalRound)
	assert.Contains(t, result.Event.Outcome, "Rolled 1d4")
}

func TestResolveOutcomeEffects(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.Turns = []model.DMTurn{
		agenttest.Call(tools.RollDiceTool, map[string]any{"notation": "1d6"}),
		agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": -2}),
		agenttest.Narrate("Arin grabs the key but scrapes a hand.",
			model.Effect{Kind: model.EffectHP, Target: "Arin", Amount: -2},
			model.Effect{Kind: model.EffectItem, Target: "Arin", Item: "Iron Key", Amount: 1}),
	}

	result, err := f.resolve("arin", "I grab the key", model.CategoryPhysical)

	require.NoError(t, err)
	a, _ := result.Party.Find("arin")
	assert.Equal(t, 10, a.Sheet.HP, "the outcome's HP effect duplicates the tool call")
	assert.Len(t, a.Sheet.Inventory, 2)
	assert.Len(t, result.Event.Effects, 2)
}

func TestResolveBadOutcomeEffectAborts(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.Turns = []model.DMTurn{agenttest.Narrate("Arin drinks the potion.",
		model.Effect{Kind: model.EffectItem, Target: "Arin", Item: "Healing Potion", Amount: -1})}

	_, err := f.resolve("arin", "I drink a potion", model.CategoryPhysical)

	var retryable *model.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, "apply effects", retryable.Op)
	assert.Empty(t, f.events(t))
	assert.Equal(t, 1, f.turn(t).TurnNumber)
}

func TestResolveNarrativeOnlyAppliesNoEffects(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.Turns = []model.DMTurn{
		agenttest.Call(tools.ApplyDamageTool, map[string]any{"player_name": "Arin", "amount": -5}),
		agenttest.Narrate("Arin hesitates.", model.Effect{Kind: model.EffectItem, Target: "Arin", Item: "Longsword", Amount: -1}),
	}

	result, err := f.res.Resolve(context.Background(), adventureID, f.turns, model.Action{
		ActorID: "arin", Text: "I attack it", Category: model.CategoryNarrative,
		Origin: model.OriginHuman, Forced: true, NarrativeOnly: true,
	})

	require.NoError(t, err)
	assert.Empty(t, result.Event.Effects)
	assert.True(t, result.Event.Forced)
	assert.True(t, result.Event.NarrativeOnly)
	assert.True(t, f.dm.ResolveCalls[1].Transcript[0].Results[0].IsError)
	a, _ := result.Party.Find("arin")
	assert.Equal(t, 12, a.Sheet.HP)
	assert.Len(t, a.Sheet.Inventory, 1)
}

func TestResolveRejectsEmptyDMTurn(t *testing.T) {
	f := newFixture(t, arin())
	f.dm.Turns = []model.DMTurn{{}}

	_, err := f.resolve("arin", "I wait", model.CategoryPhysical)

	assert.ErrorIs(t, err, model.ErrAgentUnavailable)
}
