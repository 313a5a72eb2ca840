package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ActorKind string

const (
	ActorHuman ActorKind = "human"
	ActorAI    ActorKind = "ai"
)

func (k ActorKind) Valid() bool {
	return k == ActorHuman || k == ActorAI
}

type Item struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type"`
	Quantity int    `json:"quantity" yaml:"quantity"`
	Equipped bool   `json:"equipped,omitempty" yaml:"equipped"`
}

// CharacterSheet is the mechanical state the DM tools read and mutate.
type CharacterSheet struct {
	HP         int            `json:"hp" yaml:"hp"`
	MaxHP      int            `json:"max_hp" yaml:"max_hp"`
	Level      int            `json:"level" yaml:"level"`
	Attributes map[string]int `json:"attributes,omitempty" yaml:"attributes"`
	Inventory  []Item         `json:"inventory,omitempty" yaml:"inventory"`
	SpellSlots map[int]int    `json:"spell_slots,omitempty" yaml:"spell_slots"`
}

// Clone returns a deep copy so staged tool mutations never alias stored state.
func (s CharacterSheet) Clone() CharacterSheet {
	out := s
	if s.Attributes != nil {
		out.Attributes = make(map[string]int, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	if s.Inventory != nil {
		out.Inventory = append([]Item(nil), s.Inventory...)
	}
	if s.SpellSlots != nil {
		out.SpellSlots = make(map[int]int, len(s.SpellSlots))
		for k, v := range s.SpellSlots {
			out.SpellSlots[k] = v
		}
	}
	return out
}

func (s CharacterSheet) Down() bool {
	return s.HP <= 0
}

// AttributesLine renders attributes as "CHA 8, DEX 12, ..." in name order.
func (s CharacterSheet) AttributesLine() string {
	if len(s.Attributes) == 0 {
		return "none"
	}
	names := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s %d", strings.ToUpper(k), s.Attributes[k])
	}
	return strings.Join(parts, ", ")
}

func (s CharacterSheet) InventoryLine() string {
	if len(s.Inventory) == 0 {
		return "nothing"
	}
	parts := make([]string, len(s.Inventory))
	for i, it := range s.Inventory {
		part := it.Name
		if it.Quantity > 1 {
			part = fmt.Sprintf("%s x%d", it.Name, it.Quantity)
		}
		if it.Equipped {
			part += " (equipped)"
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func (s CharacterSheet) SpellSlotsLine() string {
	if len(s.SpellSlots) == 0 {
		return "none"
	}
	levels := make([]int, 0, len(s.SpellSlots))
	for lvl := range s.SpellSlots {
		levels = append(levels, lvl)
	}
	sort.Ints(levels)
	parts := make([]string, len(levels))
	for i, lvl := range levels {
		parts[i] = fmt.Sprintf("level %d: %d", lvl, s.SpellSlots[lvl])
	}
	return strings.Join(parts, ", ")
}

type Actor struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       ActorKind      `json:"kind"`
	Class      string         `json:"class"`
	Position   int            `json:"position"`
	Sheet      CharacterSheet `json:"sheet"`
	LastActive time.Time      `json:"last_active"`
	Inactive   bool           `json:"inactive,omitempty"`
}

func (a Actor) IsAI() bool {
	return a.Kind == ActorAI
}

func (a Actor) Clone() Actor {
	out := a
	out.Sheet = a.Sheet.Clone()
	return out
}

// StatusLine renders the actor the way party-status prompts expect it.
func (a Actor) StatusLine() string {
	status := fmt.Sprintf("%d/%d HP", a.Sheet.HP, a.Sheet.MaxHP)
	if a.Sheet.Down() {
		status = "DOWN"
	}
	return fmt.Sprintf("%s (%s) [%s] Level %d", a.Name, titleCase(a.Class), status, a.Sheet.Level)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
