package dm

import (
	"context"
	"errors"
	"testing"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/agenttest"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDM(t *testing.T, llm *agenttest.MockLLM) *DM {
	t.Helper()
	d, err := New(llm, config.DefaultPrompts())
	require.NoError(t, err)
	return d
}

func clarifyReq() model.ClarifyRequest {
	arin := model.Actor{ID: "arin", Name: "Arin", Kind: model.ActorHuman, Class: "warrior",
		Sheet: model.CharacterSheet{HP: 12, MaxHP: 12, Level: 1}}
	party, _ := model.NewParty(arin)
	return model.ClarifyRequest{
		Actor:  arin,
		Party:  party,
		Memory: model.MemoryState{StorySummary: "Two goblins block the tunnel.", Notes: map[string]string{"npc:grik": "goblin chief"}},
		Text:   "I attack",
	}
}

func TestClarifyAsksQuestion(t *testing.T) {
	llm := &agenttest.MockLLM{Response: "```json\n{\"question\": \"Which goblin do you attack?\"}\n```"}
	d := newDM(t, llm)

	clar, err := d.Clarify(context.Background(), clarifyReq())

	require.NoError(t, err)
	assert.False(t, clar.Resolved())
	assert.Equal(t, "Which goblin do you attack?", clar.Question)

	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, "Two goblins block the tunnel.")
	assert.Contains(t, prompt, "- npc:grik: goblin chief")
	assert.Contains(t, prompt, `Arin the warrior attempts: "I attack"`)
	assert.NotContains(t, prompt, "You MUST commit")
}

func TestClarifyResolvesWithExchanges(t *testing.T) {
	llm := &agenttest.MockLLM{Response: `{"action": "I attack the goblin on the left", "category": "Physical"}`}
	d := newDM(t, llm)
	req := clarifyReq()
	req.Exchanges = []model.Exchange{{Question: "Which goblin?", Answer: "the left one"}}
	req.Force = true

	clar, err := d.Clarify(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, clar.Resolved())
	assert.Equal(t, "I attack the goblin on the left", clar.Action)
	assert.Equal(t, model.CategoryPhysical, clar.Category)
	assert.Contains(t, llm.LastPrompt(), `They answered: "the left one"`)
	assert.Contains(t, llm.LastPrompt(), "You MUST commit")
}

func TestClarifyPlainText(t *testing.T) {
	d := newDM(t, &agenttest.MockLLM{Response: "Which goblin?"})
	clar, err := d.Clarify(context.Background(), clarifyReq())
	require.NoError(t, err)
	assert.Equal(t, "Which goblin?", clar.Question)

	d = newDM(t, &agenttest.MockLLM{Response: "Sounds good."})
	clar, err = d.Clarify(context.Background(), clarifyReq())
	require.NoError(t, err)
	assert.Equal(t, "I attack", clar.Action)

	// no questions once forced, even in prose
	req := clarifyReq()
	req.Force = true
	d = newDM(t, &agenttest.MockLLM{Response: "Which goblin?"})
	clar, err = d.Clarify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, clar.Resolved())
}

func TestClarifyError(t *testing.T) {
	d := newDM(t, &agenttest.MockLLM{Err: errors.New("boom")})
	_, err := d.Clarify(context.Background(), clarifyReq())
	assert.ErrorContains(t, err, "boom")
}

func resolveReq() model.ResolveRequest {
	c := clarifyReq()
	return model.ResolveRequest{
		Action: model.Action{ActorID: "arin", Text: "I attack the goblin", Category: model.CategoryPhysical},
		Actor:  c.Actor,
		Party:  c.Party,
		Memory: c.Memory,
		Tools:  []model.ToolSpec{{Name: "roll_dice", Description: "Roll dice.", Params: map[string]string{"notation": "1d20"}}},
	}
}

func TestResolveToolCalls(t *testing.T) {
	llm := &agenttest.MockLLM{Response: `{"tool_calls": [{"name": "roll_dice", "args": {"notation": "1d20+3"}}, {"name": " "}]}`}
	d := newDM(t, llm)

	turn, err := d.Resolve(context.Background(), resolveReq())

	require.NoError(t, err)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "roll_dice", turn.ToolCalls[0].Name)
	assert.Equal(t, "1d20+3", turn.ToolCalls[0].Args["notation"])
	assert.Nil(t, turn.Outcome)
	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, "- roll_dice: Roll dice. [notation: 1d20]")
	assert.Contains(t, prompt, "None yet.")
}

func TestResolveOutcome(t *testing.T) {
	llm := &agenttest.MockLLM{Response: `{"outcome": {"narrative": "The goblin falls.", "effects": [{"kind": "item", "target": "Arin", "item": "Goblin Ear", "amount": 1}]}}`}
	d := newDM(t, llm)
	req := resolveReq()
	req.Transcript = []model.ToolRound{{
		Calls:   []model.ToolCall{{Name: "roll_dice", Args: map[string]any{"notation": "1d20"}}},
		Results: []model.ToolResult{{Name: "roll_dice", Output: "Rolled 1d20: [17] = 17"}},
	}}
	req.FinalRound = true
	req.EnforceDice = true

	turn, err := d.Resolve(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)
	assert.Equal(t, "The goblin falls.", turn.Outcome.Narrative)
	require.Len(t, turn.Outcome.Effects, 1)
	assert.Equal(t, "Goblin Ear", turn.Outcome.Effects[0].Item)

	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, `- roll_dice {"notation":"1d20"}`)
	assert.Contains(t, prompt, "-> Rolled 1d20: [17] = 17")
	assert.Contains(t, prompt, "No more tool calls are available.")
	assert.Contains(t, prompt, "You MUST call roll_dice")
}

func TestResolveProseIsNarrative(t *testing.T) {
	d := newDM(t, &agenttest.MockLLM{Response: "Arin swings and the goblin yelps."})

	turn, err := d.Resolve(context.Background(), resolveReq())

	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)
	assert.Equal(t, "Arin swings and the goblin yelps.", turn.Outcome.Narrative)
}

func TestResolveRejectsEmptyResponses(t *testing.T) {
	d := newDM(t, &agenttest.MockLLM{Response: "  "})
	_, err := d.Resolve(context.Background(), resolveReq())
	assert.Error(t, err)

	d = newDM(t, &agenttest.MockLLM{Response: `{"outcome": {"narrative": ""}}`})
	_, err = d.Resolve(context.Background(), resolveReq())
	assert.Error(t, err)
}

func TestNotesText(t *testing.T) {
	assert.Equal(t, "No notes yet.", NotesText(model.MemoryState{}))
	mem := model.MemoryState{Notes: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "- a: one\n- b: two", NotesText(mem))
}
