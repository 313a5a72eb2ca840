// Package agenttest provides scripted agents for tests of the turn engine.
package agenttest

import (
	"context"
	"sync"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
)

// ScriptedDM answers Clarify and Resolve from queues. An empty clarify queue
// resolves the action as submitted; an empty resolve queue narrates a plain
// success.
type ScriptedDM struct {
	mu sync.Mutex

	Clarifications []model.Clarification
	Turns          []model.DMTurn
	ClarifyErr     error
	ResolveErr     error

	ClarifyFunc func(req model.ClarifyRequest) (model.Clarification, error)
	ResolveFunc func(req model.ResolveRequest) (model.DMTurn, error)

	ClarifyCalls []model.ClarifyRequest
	ResolveCalls []model.ResolveRequest
}

func (d *ScriptedDM) Clarify(ctx context.Context, req model.ClarifyRequest) (model.Clarification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClarifyCalls = append(d.ClarifyCalls, req)
	if d.ClarifyFunc != nil {
		return d.ClarifyFunc(req)
	}
	if d.ClarifyErr != nil {
		return model.Clarification{}, d.ClarifyErr
	}
	if len(d.Clarifications) > 0 {
		c := d.Clarifications[0]
		d.Clarifications = d.Clarifications[1:]
		return c, nil
	}
	return model.Clarification{Action: req.Text, Category: model.CategoryPhysical}, nil
}

func (d *ScriptedDM) Resolve(ctx context.Context, req model.ResolveRequest) (model.DMTurn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResolveCalls = append(d.ResolveCalls, req)
	if d.ResolveFunc != nil {
		return d.ResolveFunc(req)
	}
	if d.ResolveErr != nil {
		return model.DMTurn{}, d.ResolveErr
	}
	if len(d.Turns) > 0 {
		t := d.Turns[0]
		d.Turns = d.Turns[1:]
		return t, nil
	}
	return model.DMTurn{Outcome: &model.Outcome{Narrative: "The action succeeds."}}, nil
}

func (d *ScriptedDM) ClarifyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ClarifyCalls)
}

func (d *ScriptedDM) ResolveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ResolveCalls)
}

// Ask is a clarification that asks q.
func Ask(q string) model.Clarification {
	return model.Clarification{Question: q}
}

// Resolved is a clarification that settles on action.
func Resolved(action string, category model.Category) model.Clarification {
	return model.Clarification{Action: action, Category: category}
}

// Narrate is a DM turn that ends resolution.
func Narrate(narrative string, effects ...model.Effect) model.DMTurn {
	return model.DMTurn{Outcome: &model.Outcome{Narrative: narrative, Effects: effects}}
}

// Call is a DM turn that requests one tool call.
func Call(name string, args map[string]any) model.DMTurn {
	return model.DMTurn{ToolCalls: []model.ToolCall{{Name: name, Args: args}}}
}

// StaticValidator returns the same verdict for every action.
type StaticValidator struct {
	mu      sync.Mutex
	Verdict model.Verdict
	Err     error
	Calls   []model.Action
}

func (v *StaticValidator) Validate(ctx context.Context, action model.Action, actor model.Actor) (model.Verdict, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, action)
	if v.Err != nil {
		return model.Verdict{}, v.Err
	}
	if v.Verdict.Kind == "" {
		return model.Verdict{Kind: model.VerdictAllow}, nil
	}
	return v.Verdict, nil
}

// MockLLM replays ResponseQueue, then Response. Err fails every call.
type MockLLM struct {
	mu            sync.Mutex
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

func (m *MockLLM) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Prompts) == 0 {
		return ""
	}
	return m.Prompts[len(m.Prompts)-1]
}

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
