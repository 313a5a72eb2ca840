package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/core/common"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/llm"
)

// Summarizer is the compactor agent: prior summary plus one event in, new
// summary out.
type Summarizer struct {
	LLM    llm.LLMClient
	prompt *common.Prompt
}

func NewSummarizer(llmClient llm.LLMClient, prompt string) (*Summarizer, error) {
	p, err := common.NewPrompt("summary", prompt)
	if err != nil {
		return nil, err
	}
	return &Summarizer{LLM: llmClient, prompt: p}, nil
}

type storySummary struct {
	Summary string `json:"summary"`
}

func (s *Summarizer) Summarize(ctx context.Context, prior string, event model.ResolvedEvent) (string, error) {
	if prior == "" {
		prior = "The adventure has just begun."
	}
	prompt, err := s.prompt.Render(struct {
		Prior string
		Event string
	}{Prior: prior, Event: DescribeEvent(event)})
	if err != nil {
		return "", err
	}

	response, err := s.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	result, err := common.ParseJSON[storySummary](response)
	if err == nil && strings.TrimSpace(result.Summary) != "" {
		return strings.TrimSpace(result.Summary), nil
	}
	// models often answer with the bare summary
	if text := strings.TrimSpace(response); text != "" && !strings.HasPrefix(text, "{") {
		return text, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse summary result: %w", err)
	}
	return "", fmt.Errorf("empty summary")
}

// DescribeEvent renders the event for the summarizer, effects included.
func DescribeEvent(e model.ResolvedEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d, %s: %s\n%s", e.TurnNumber, e.ActorName, e.Action, e.Outcome)
	for _, eff := range e.Effects {
		fmt.Fprintf(&b, "\n- %s", eff.String())
	}
	return b.String()
}
