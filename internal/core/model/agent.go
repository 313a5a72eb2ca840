package model

import "context"

// ClarifyRequest asks the DM whether an action is clear enough to resolve.
type ClarifyRequest struct {
	Actor     Actor
	Party     Party
	Memory    MemoryState
	Recent    []ResolvedEvent
	Text      string
	Exchanges []Exchange
	// Force forbids further questions; the DM must commit to an action.
	Force bool
}

// Clarification is either a question for the player or the final action.
type Clarification struct {
	Question string   `json:"question,omitempty"`
	Action   string   `json:"action,omitempty"`
	Category Category `json:"category,omitempty"`
}

func (c Clarification) Resolved() bool {
	return c.Question == ""
}

type ToolSpec struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Params      map[string]string `json:"params,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolRound pairs the calls of one DM turn with their results.
type ToolRound struct {
	Calls   []ToolCall
	Results []ToolResult
}

type ResolveRequest struct {
	Action     Action
	Actor      Actor
	Party      Party
	Memory     MemoryState
	Recent     []ResolvedEvent
	Tools      []ToolSpec
	Transcript []ToolRound
	// FinalRound asks for an outcome without further tool calls.
	FinalRound bool
	// EnforceDice is set on the retry after damage was applied without a roll.
	EnforceDice bool
}

type Outcome struct {
	Narrative string   `json:"narrative"`
	Effects   []Effect `json:"effects,omitempty"`
}

// DMTurn is one DM response during resolution: tool calls to run, or the outcome.
type DMTurn struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Outcome   *Outcome   `json:"outcome,omitempty"`
}

type DungeonMaster interface {
	Clarify(ctx context.Context, req ClarifyRequest) (Clarification, error)
	Resolve(ctx context.Context, req ResolveRequest) (DMTurn, error)
}

type VerdictKind string

const (
	VerdictAllow   VerdictKind = "allow"
	VerdictDeny    VerdictKind = "deny"
	VerdictRewrite VerdictKind = "rewrite"
)

type Verdict struct {
	Kind   VerdictKind `json:"verdict"`
	Reason string      `json:"reason,omitempty"`
	Action string      `json:"action,omitempty"`
}

type Validator interface {
	Validate(ctx context.Context, action Action, actor Actor) (Verdict, error)
}
