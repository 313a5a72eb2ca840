// Package dm is the LLM-backed Dungeon Master: it clarifies pending actions
// and resolves them through the bounded tool protocol.
package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/common"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/llm"
)

type DM struct {
	LLM     llm.LLMClient
	clarify *common.Prompt
	resolve *common.Prompt
}

func New(client llm.LLMClient, prompts config.PromptsConfig) (*DM, error) {
	clarify, err := common.NewPrompt("dm clarify", prompts.DMClarify)
	if err != nil {
		return nil, err
	}
	resolve, err := common.NewPrompt("dm resolve", prompts.DMResolve)
	if err != nil {
		return nil, err
	}
	return &DM{LLM: client, clarify: clarify, resolve: resolve}, nil
}

type sceneData struct {
	Summary     string
	Notes       string
	PartyStatus string
	History     string
	Actor       model.Actor
}

func scene(actor model.Actor, party model.Party, mem model.MemoryState, recent []model.ResolvedEvent) sceneData {
	return sceneData{
		Summary:     common.OrDefault(mem.StorySummary, "The adventure has just begun."),
		Notes:       NotesText(mem),
		PartyStatus: tools.PartyStatus(party),
		History:     tools.History(recent, 0),
		Actor:       actor,
	}
}

type clarifyResponse struct {
	Question string `json:"question"`
	Action   string `json:"action"`
	Category string `json:"category"`
}

// Clarify asks the DM whether req is clear enough to resolve. A reply that is
// not JSON counts as a question when it ends in one, and as acceptance of the
// action otherwise.
func (d *DM) Clarify(ctx context.Context, req model.ClarifyRequest) (model.Clarification, error) {
	prompt, err := d.clarify.Render(struct {
		sceneData
		Action    string
		Exchanges []model.Exchange
		Force     bool
	}{
		sceneData: scene(req.Actor, req.Party, req.Memory, req.Recent),
		Action:    req.Text,
		Exchanges: req.Exchanges,
		Force:     req.Force,
	})
	if err != nil {
		return model.Clarification{}, err
	}

	response, err := d.LLM.Generate(ctx, prompt)
	if err != nil {
		return model.Clarification{}, fmt.Errorf("failed to generate clarification: %w", err)
	}

	parsed, err := common.ParseJSON[clarifyResponse](response)
	if err != nil {
		text := common.Unquote(response)
		if !req.Force && strings.HasSuffix(text, "?") {
			return model.Clarification{Question: text}, nil
		}
		return model.Clarification{Action: req.Text, Category: model.CategoryPhysical}, nil
	}

	if q := strings.TrimSpace(parsed.Question); q != "" && strings.TrimSpace(parsed.Action) == "" {
		return model.Clarification{Question: q}, nil
	}
	return model.Clarification{
		Action:   strings.TrimSpace(parsed.Action),
		Category: model.ParseCategory(parsed.Category),
	}, nil
}

type resolveResponse struct {
	ToolCalls []model.ToolCall `json:"tool_calls"`
	Outcome   *model.Outcome   `json:"outcome"`
	Narrative string           `json:"narrative"`
}

// Resolve runs one round of the tool protocol. Prose without JSON is taken
// as the outcome narrative.
func (d *DM) Resolve(ctx context.Context, req model.ResolveRequest) (model.DMTurn, error) {
	prompt, err := d.resolve.Render(struct {
		sceneData
		Category      model.Category
		Action        string
		Tools         []model.ToolSpec
		Transcript    string
		NarrativeOnly bool
		EnforceDice   bool
		FinalRound    bool
	}{
		sceneData:     scene(req.Actor, req.Party, req.Memory, req.Recent),
		Category:      req.Action.Category,
		Action:        req.Action.Text,
		Tools:         req.Tools,
		Transcript:    Transcript(req.Transcript),
		NarrativeOnly: req.Action.NarrativeOnly,
		EnforceDice:   req.EnforceDice,
		FinalRound:    req.FinalRound,
	})
	if err != nil {
		return model.DMTurn{}, err
	}

	response, err := d.LLM.Generate(ctx, prompt)
	if err != nil {
		return model.DMTurn{}, fmt.Errorf("failed to generate resolution: %w", err)
	}

	parsed, err := common.ParseJSON[resolveResponse](response)
	if err != nil {
		text := strings.TrimSpace(response)
		if text == "" {
			return model.DMTurn{}, fmt.Errorf("empty resolution")
		}
		return model.DMTurn{Outcome: &model.Outcome{Narrative: text}}, nil
	}

	switch {
	case parsed.Outcome != nil && strings.TrimSpace(parsed.Outcome.Narrative) != "":
		return model.DMTurn{Outcome: parsed.Outcome}, nil
	case len(parsed.ToolCalls) > 0 && !req.FinalRound:
		calls := parsed.ToolCalls[:0]
		for _, c := range parsed.ToolCalls {
			if c.Name = strings.TrimSpace(c.Name); c.Name != "" {
				calls = append(calls, c)
			}
		}
		if len(calls) > 0 {
			return model.DMTurn{ToolCalls: calls}, nil
		}
	case strings.TrimSpace(parsed.Narrative) != "":
		return model.DMTurn{Outcome: &model.Outcome{Narrative: parsed.Narrative}}, nil
	}
	if len(parsed.ToolCalls) > 0 {
		// tools on the final round: hand them back so the resolver narrates
		// from what it already has
		return model.DMTurn{ToolCalls: parsed.ToolCalls}, nil
	}
	return model.DMTurn{}, fmt.Errorf("resolution has neither tool calls nor an outcome")
}

// NotesText renders notes one per line in topic order.
func NotesText(mem model.MemoryState) string {
	topics := mem.Topics()
	if len(topics) == 0 {
		return "No notes yet."
	}
	lines := make([]string, len(topics))
	for i, topic := range topics {
		lines[i] = fmt.Sprintf("- %s: %s", topic, mem.Notes[topic])
	}
	return strings.Join(lines, "\n")
}

// Transcript renders earlier tool rounds for the next prompt.
func Transcript(rounds []model.ToolRound) string {
	if len(rounds) == 0 {
		return "None yet."
	}
	var b strings.Builder
	for i, round := range rounds {
		fmt.Fprintf(&b, "Round %d:\n", i+1)
		for j, call := range round.Calls {
			args, _ := json.Marshal(call.Args)
			fmt.Fprintf(&b, "- %s %s\n", call.Name, args)
			if j < len(round.Results) {
				fmt.Fprintf(&b, "  -> %s\n", round.Results[j].Output)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
