package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/core/common"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/llm"
)

const (
	RulesLawyerName  = "rules lawyer"
	SpellCheckerName = "spell checker"
)

// Agent is an LLM-backed validator. The rules lawyer and the spell checker
// differ only in name and prompt.
type Agent struct {
	LLM    llm.LLMClient
	name   string
	prompt *common.Prompt
}

func NewRulesLawyer(client llm.LLMClient, prompt string) (*Agent, error) {
	return newAgent(RulesLawyerName, client, prompt)
}

func NewSpellChecker(client llm.LLMClient, prompt string) (*Agent, error) {
	return newAgent(SpellCheckerName, client, prompt)
}

func newAgent(name string, client llm.LLMClient, src string) (*Agent, error) {
	p, err := common.NewPrompt(name, src)
	if err != nil {
		return nil, err
	}
	return &Agent{LLM: client, name: name, prompt: p}, nil
}

func (a *Agent) Name() string {
	return a.name
}

type promptData struct {
	Actor      model.Actor
	Action     string
	Attributes string
	Inventory  string
	SpellSlots string
}

func (a *Agent) Validate(ctx context.Context, action model.Action, actor model.Actor) (model.Verdict, error) {
	prompt, err := a.prompt.Render(promptData{
		Actor:      actor,
		Action:     action.Text,
		Attributes: actor.Sheet.AttributesLine(),
		Inventory:  actor.Sheet.InventoryLine(),
		SpellSlots: actor.Sheet.SpellSlotsLine(),
	})
	if err != nil {
		return model.Verdict{}, err
	}

	response, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("failed to generate %s verdict: %w", a.name, err)
	}

	verdict, err := common.ParseJSON[model.Verdict](response)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("failed to parse %s verdict: %w", a.name, err)
	}
	return normalize(verdict), nil
}

// normalize makes a loose verdict usable: unknown kinds and empty rewrites
// allow the action.
func normalize(v model.Verdict) model.Verdict {
	v.Kind = model.VerdictKind(strings.ToLower(strings.TrimSpace(string(v.Kind))))
	v.Action = strings.TrimSpace(v.Action)
	switch v.Kind {
	case model.VerdictDeny:
		if strings.TrimSpace(v.Reason) == "" {
			v.Reason = "that is not possible right now"
		}
	case model.VerdictRewrite:
		if v.Action == "" {
			v.Kind = model.VerdictAllow
		}
	default:
		v.Kind = model.VerdictAllow
	}
	return v
}

// Selector picks the validator for an action category. Narrative actions
// are not validated.
type Selector struct {
	Physical model.Validator
	Spell    model.Validator
}

func (s Selector) For(category model.Category) (model.Validator, string) {
	switch category {
	case model.CategorySpell:
		if s.Spell != nil {
			return s.Spell, SpellCheckerName
		}
	case model.CategoryPhysical:
		if s.Physical != nil {
			return s.Physical, RulesLawyerName
		}
	}
	return nil, ""
}
