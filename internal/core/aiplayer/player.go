// Package aiplayer plays AI party members and timed-out humans.
package aiplayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core/common"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/llm"
)

// historyLimit is how many recent events the player agent sees.
const historyLimit = 15

// Player is the LLM player agent.
type Player struct {
	LLM    llm.LLMClient
	action *common.Prompt
	answer *common.Prompt
}

func NewPlayer(client llm.LLMClient, prompts config.PromptsConfig) (*Player, error) {
	action, err := common.NewPrompt("player action", prompts.PlayerAction)
	if err != nil {
		return nil, err
	}
	answer, err := common.NewPrompt("player answer", prompts.PlayerAnswer)
	if err != nil {
		return nil, err
	}
	return &Player{LLM: client, action: action, answer: answer}, nil
}

// ProposeAction decides what the scene's actor does on their turn.
func (p *Player) ProposeAction(ctx context.Context, scene dialogue.Scene) (string, error) {
	prompt, err := p.action.Render(struct {
		Actor       model.Actor
		Attributes  string
		Inventory   string
		Summary     string
		History     string
		PartyStatus string
	}{
		Actor:       scene.Actor,
		Attributes:  scene.Actor.Sheet.AttributesLine(),
		Inventory:   scene.Actor.Sheet.InventoryLine(),
		Summary:     common.OrDefault(scene.Memory.StorySummary, "The adventure has just begun."),
		History:     tools.History(scene.Recent, historyLimit),
		PartyStatus: tools.PartyStatus(scene.Party),
	})
	if err != nil {
		return "", err
	}
	return p.generate(ctx, prompt)
}

// Answer replies in character to a DM question about action.
func (p *Player) Answer(ctx context.Context, actor model.Actor, action, question string) (string, error) {
	prompt, err := p.answer.Render(struct {
		Actor    model.Actor
		Action   string
		Question string
	}{Actor: actor, Action: action, Question: question})
	if err != nil {
		return "", err
	}
	return p.generate(ctx, prompt)
}

func (p *Player) generate(ctx context.Context, prompt string) (string, error) {
	response, err := p.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate player line: %w", err)
	}
	line := common.Unquote(firstLine(response))
	if line == "" {
		return "", fmt.Errorf("player agent returned an empty line")
	}
	return line, nil
}

// firstLine drops the commentary some models add after the answer.
func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
