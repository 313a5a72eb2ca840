package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

// TurnInput is the state a resolution starts from.
type TurnInput struct {
	AdventureID   string
	Actor         model.Actor
	Party         model.Party
	Memory        model.MemoryState
	Recent        []model.ResolvedEvent
	NarrativeOnly bool
}

// Turn stages every mutation of one resolution. Nothing it holds is
// persisted unless the resolver commits it.
type Turn struct {
	box     *Toolbox
	input   TurnInput
	party   model.Party
	effects []model.Effect
	notes   map[string]string
	used    map[string]int
}

// Reset discards everything staged so far.
func (t *Turn) Reset() {
	t.party = t.input.Party.Clone()
	t.effects = nil
	t.notes = make(map[string]string)
	t.used = make(map[string]int)
}

func (t *Turn) Party() model.Party {
	return t.party
}

func (t *Turn) Effects() []model.Effect {
	return append([]model.Effect(nil), t.effects...)
}

// Notes returns the notes written during this turn.
func (t *Turn) Notes() map[string]string {
	out := make(map[string]string, len(t.notes))
	for k, v := range t.notes {
		out[k] = v
	}
	return out
}

func (t *Turn) Used(tool string) int {
	return t.used[tool]
}

// NeedsDiceRetry reports HP staged without a single roll. Refused
// apply_damage calls do not count.
func (t *Turn) NeedsDiceRetry() bool {
	if t.used[RollDiceTool] > 0 {
		return false
	}
	for _, e := range t.effects {
		if e.Kind == model.EffectHP {
			return true
		}
	}
	return false
}

// Execute runs one tool call against the staged state. Tool failures come
// back as error results for the DM to read, never as Go errors.
func (t *Turn) Execute(ctx context.Context, call model.ToolCall) model.ToolResult {
	t.used[call.Name]++
	out, err := t.run(ctx, call)
	res := model.ToolResult{CallID: call.ID, Name: call.Name, Output: out}
	if err != nil {
		res.Output = "Error: " + err.Error()
		res.IsError = true
	}
	t.box.logger.Debug("tool call",
		zap.String("adventure", t.input.AdventureID),
		zap.String("tool", call.Name),
		zap.Bool("error", res.IsError))
	return res
}

func (t *Turn) run(ctx context.Context, call model.ToolCall) (string, error) {
	switch call.Name {
	case RollDiceTool:
		roll, err := RollDice(t.box.roller, argString(call.Args, "notation", "dice"))
		if err != nil {
			return "", err
		}
		return roll.String(), nil

	case ApplyDamageTool:
		if t.input.NarrativeOnly {
			return "", fmt.Errorf("this action resolves as narrative only, no HP changes")
		}
		amount, ok, err := argInt(call.Args, "amount")
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("amount is required")
		}
		return t.applyHP(model.Effect{
			Kind:   model.EffectHP,
			Target: argString(call.Args, "player_name", "target"),
			Amount: amount,
			Reason: argString(call.Args, "reason"),
		})

	case PartyStatusTool:
		return PartyStatus(t.party), nil

	case RecentHistoryTool:
		limit, _, err := argInt(call.Args, "limit")
		if err != nil {
			return "", err
		}
		return History(t.input.Recent, limit), nil

	case WriteNoteTool:
		topic := argString(call.Args, "topic")
		note := argString(call.Args, "note", "text")
		if topic == "" || note == "" {
			return "", fmt.Errorf("topic and note are required")
		}
		t.notes[topic] = note
		return fmt.Sprintf("Noted under %q.", topic), nil

	case ReadNotesTool:
		return t.readNotes(argString(call.Args, "topic")), nil

	case LookupCampaignTool:
		return t.lookupCampaign(ctx, argString(call.Args, "query"))
	}
	return "", fmt.Errorf("unknown tool %q", call.Name)
}

// ApplyEffect stages an outcome effect the DM declared without a tool call.
func (t *Turn) ApplyEffect(e model.Effect) error {
	switch e.Kind {
	case model.EffectHP:
		_, err := t.applyHP(e)
		return err
	case model.EffectItem:
		return t.applyItem(e)
	}
	return fmt.Errorf("unknown effect kind %q", e.Kind)
}

func (t *Turn) applyHP(e model.Effect) (string, error) {
	target, ok := t.party.FindByName(e.Target)
	if !ok {
		return "", fmt.Errorf("no player named %q, available players: %s", e.Target, strings.Join(t.party.Names(), ", "))
	}
	before := target.Sheet.HP
	after := max(0, min(target.Sheet.MaxHP, before+e.Amount))
	target.Sheet.HP = after
	if err := t.party.Update(target); err != nil {
		return "", err
	}

	e.Target = target.Name
	t.effects = append(t.effects, e)
	if e.Amount < 0 {
		return fmt.Sprintf("%s takes %d damage (%s). HP: %d -> %d", target.Name, -e.Amount, e.Reason, before, after), nil
	}
	return fmt.Sprintf("%s heals %d HP (%s). HP: %d -> %d", target.Name, e.Amount, e.Reason, before, after), nil
}

func (t *Turn) applyItem(e model.Effect) error {
	target, ok := t.party.FindByName(e.Target)
	if !ok {
		return fmt.Errorf("no player named %q", e.Target)
	}
	if e.Item == "" || e.Amount == 0 {
		return fmt.Errorf("item effect on %s needs an item and a non-zero amount", target.Name)
	}

	inv := target.Sheet.Inventory
	idx := -1
	for i, it := range inv {
		if strings.EqualFold(it.Name, e.Item) {
			idx = i
			break
		}
	}
	switch {
	case idx < 0 && e.Amount < 0:
		return fmt.Errorf("%s has no %s to lose", target.Name, e.Item)
	case idx < 0:
		inv = append(inv, model.Item{Name: e.Item, Quantity: e.Amount})
	case inv[idx].Quantity+e.Amount < 0:
		return fmt.Errorf("%s has only %d x %s", target.Name, inv[idx].Quantity, e.Item)
	case inv[idx].Quantity+e.Amount == 0:
		inv = append(inv[:idx:idx], inv[idx+1:]...)
	default:
		inv[idx].Quantity += e.Amount
	}
	target.Sheet.Inventory = inv
	if err := t.party.Update(target); err != nil {
		return err
	}
	e.Target = target.Name
	t.effects = append(t.effects, e)
	return nil
}

func (t *Turn) readNotes(topic string) string {
	notes := t.input.Memory.Clone().Notes
	for k, v := range t.notes {
		notes[k] = v
	}
	if topic != "" {
		if note, ok := notes[topic]; ok {
			return fmt.Sprintf("%s: %s", topic, note)
		}
		return fmt.Sprintf("No note on %q.", topic)
	}
	if len(notes) == 0 {
		return "No notes yet."
	}
	merged := model.MemoryState{Notes: notes}
	lines := make([]string, 0, len(notes))
	for _, k := range merged.Topics() {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, notes[k]))
	}
	return strings.Join(lines, "\n")
}

func (t *Turn) lookupCampaign(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if t.box.lookup == nil {
		return "No campaign book is loaded.", nil
	}
	sections, err := t.box.lookup.Lookup(ctx, t.input.AdventureID, query, defaultLookupResults)
	if err != nil {
		return "", fmt.Errorf("campaign lookup failed: %w", err)
	}
	if len(sections) == 0 {
		return fmt.Sprintf("Nothing in the campaign book matches %q.", query), nil
	}
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", s.Title, s.Content)
	}
	return b.String(), nil
}

// PartyStatus renders one line per active member.
func PartyStatus(p model.Party) string {
	active := p.Active()
	if len(active) == 0 {
		return "No players in the party."
	}
	lines := make([]string, 0, len(active)+1)
	lines = append(lines, "Party status:")
	for _, m := range active {
		lines = append(lines, "- "+m.StatusLine())
	}
	return strings.Join(lines, "\n")
}

// History renders the last limit events, oldest first.
func History(events []model.ResolvedEvent, limit int) string {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if len(events) == 0 {
		return "No events yet, this is the start of the adventure."
	}
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.HistoryLine()
	}
	return strings.Join(lines, "\n")
}
