package aiplayer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/agenttest"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lyraScene() dialogue.Scene {
	lyra := model.Actor{ID: "lyra", Name: "Lyra", Kind: model.ActorAI, Class: "mage",
		Sheet: model.CharacterSheet{HP: 5, MaxHP: 7, Level: 1,
			Attributes: map[string]int{"int": 16},
			Inventory:  []model.Item{{Name: "Staff", Quantity: 1, Equipped: true}}}}
	party, _ := model.NewParty(lyra)
	return dialogue.Scene{
		Actor:  lyra,
		Party:  party,
		Memory: model.MemoryState{StorySummary: "The party found a locked door."},
		Recent: []model.ResolvedEvent{{TurnNumber: 3, ActorName: "Arin", Action: "I kick the door", Outcome: "It holds."}},
	}
}

func TestPlayerProposeAction(t *testing.T) {
	llm := &agenttest.MockLLM{Response: "\"I cast Fire Bolt at the lock.\"\nThis should work because..."}
	p, err := NewPlayer(llm, config.DefaultPrompts())
	require.NoError(t, err)

	action, err := p.ProposeAction(context.Background(), lyraScene())

	require.NoError(t, err)
	assert.Equal(t, "I cast Fire Bolt at the lock.", action)
	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, "You are Lyra, a mage")
	assert.Contains(t, prompt, "HP: 5/7")
	assert.Contains(t, prompt, "INT 16")
	assert.Contains(t, prompt, "Staff (equipped)")
	assert.Contains(t, prompt, "The party found a locked door.")
	assert.Contains(t, prompt, `[TURN 3] Arin: "I kick the door" -> It holds.`)
}

func TestPlayerAnswer(t *testing.T) {
	llm := &agenttest.MockLLM{Response: "The left one!"}
	p, err := NewPlayer(llm, config.DefaultPrompts())
	require.NoError(t, err)

	answer, err := p.Answer(context.Background(), lyraScene().Actor, "I attack", "Which goblin?")

	require.NoError(t, err)
	assert.Equal(t, "The left one!", answer)
	assert.Contains(t, llm.LastPrompt(), `The Dungeon Master asks you: "Which goblin?"`)
}

func TestPlayerRejectsEmptyLine(t *testing.T) {
	p, err := NewPlayer(&agenttest.MockLLM{Response: "  \n "}, config.DefaultPrompts())
	require.NoError(t, err)
	_, err = p.ProposeAction(context.Background(), lyraScene())
	assert.Error(t, err)
}

type scriptedAgent struct {
	action    string
	actionErr error
	answers   []string
	answerErr error
	questions []string
}

func (a *scriptedAgent) ProposeAction(ctx context.Context, scene dialogue.Scene) (string, error) {
	return a.action, a.actionErr
}

func (a *scriptedAgent) Answer(ctx context.Context, actor model.Actor, action, question string) (string, error) {
	a.questions = append(a.questions, question)
	if a.answerErr != nil {
		return "", a.answerErr
	}
	if len(a.answers) == 0 {
		return "no idea", nil
	}
	ans := a.answers[0]
	a.answers = a.answers[1:]
	return ans, nil
}

type step struct {
	question string
	err      error
}

type fakeTurn struct {
	steps     []step
	submitted []string
	safe      []string
	safeErr   error
	abandoned int
}

func (f *fakeTurn) Submit(ctx context.Context, text string) (string, error) {
	f.submitted = append(f.submitted, text)
	if len(f.steps) == 0 {
		return "", nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.question, s.err
}

func (f *fakeTurn) SubmitSafe(ctx context.Context, text string) error {
	f.safe = append(f.safe, text)
	return f.safeErr
}

func (f *fakeTurn) Abandon() { f.abandoned++ }

const safe = "I wait and observe my surroundings."

func TestTakeTurnWithClarification(t *testing.T) {
	agent := &scriptedAgent{action: "I attack", answers: []string{"the left one"}}
	turn := &fakeTurn{steps: []step{{question: "Which goblin?"}, {}}}

	err := NewDriver(agent, safe, nil).TakeTurn(context.Background(), lyraScene(), turn)

	require.NoError(t, err)
	assert.Equal(t, []string{"I attack", "the left one"}, turn.submitted)
	assert.Equal(t, []string{"Which goblin?"}, agent.questions)
	assert.Empty(t, turn.safe)
}

func TestTakeTurnFallsBack(t *testing.T) {
	cases := map[string]struct {
		agent *scriptedAgent
		steps []step
	}{
		"agent fails":    {agent: &scriptedAgent{actionErr: errors.New("timeout")}},
		"answer fails":   {agent: &scriptedAgent{action: "I attack", answerErr: errors.New("timeout")}, steps: []step{{question: "Which?"}}},
		"denied":         {agent: &scriptedAgent{action: "I cast Wish"}, steps: []step{{err: &model.ValidationDeniedError{Validator: "spell checker", Reason: "no slot"}}}},
		"expired":        {agent: &scriptedAgent{action: "I attack"}, steps: []step{{err: model.ErrSessionExpired}}},
		"dm unavailable": {agent: &scriptedAgent{action: "I attack"}, steps: []step{{err: fmt.Errorf("%w: dm", model.ErrAgentUnavailable)}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			turn := &fakeTurn{steps: tc.steps}

			err := NewDriver(tc.agent, safe, nil).TakeTurn(context.Background(), lyraScene(), turn)

			require.NoError(t, err)
			assert.Equal(t, []string{safe}, turn.safe)
			assert.Equal(t, 1, turn.abandoned)
		})
	}
}

func TestTakeTurnDoesNotFallBackTwice(t *testing.T) {
	agent := &scriptedAgent{actionErr: errors.New("down")}
	turn := &fakeTurn{safeErr: fmt.Errorf("%w: dm", model.ErrAgentUnavailable)}

	err := NewDriver(agent, safe, nil).TakeTurn(context.Background(), lyraScene(), turn)

	assert.ErrorIs(t, err, model.ErrAgentUnavailable)
	assert.Len(t, turn.safe, 1)
}

func TestTakeTurnPassesThroughHardErrors(t *testing.T) {
	for _, hard := range []error{model.ErrStaleAction, &model.RetryableError{Op: "commit resolution", Err: errors.New("disk")}} {
		turn := &fakeTurn{steps: []step{{err: hard}}}

		err := NewDriver(&scriptedAgent{action: "I attack"}, safe, nil).TakeTurn(context.Background(), lyraScene(), turn)

		assert.Equal(t, hard, err)
		assert.Empty(t, turn.safe)
	}
}

func TestTakeTurnStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	turn := &fakeTurn{}

	err := NewDriver(&scriptedAgent{actionErr: context.Canceled}, safe, nil).TakeTurn(ctx, lyraScene(), turn)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, turn.safe)
}
