package model

import "strings"

type Category string

const (
	CategoryPhysical  Category = "physical"
	CategorySpell     Category = "spell"
	CategoryNarrative Category = "narrative"
)

// ParseCategory maps free-form agent output onto a category, defaulting to
// physical so unrecognised actions still pass through the rules check.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spell", "magic", "spellcasting":
		return CategorySpell
	case "narrative", "social", "dialogue", "roleplay":
		return CategoryNarrative
	default:
		return CategoryPhysical
	}
}

// Action is the final payload a dialogue session hands to the resolver.
type Action struct {
	SessionID     string     `json:"session_id"`
	ActorID       string     `json:"actor_id"`
	Text          string     `json:"text"`
	Original      string     `json:"original"`
	Category      Category   `json:"category"`
	Origin        Origin     `json:"origin"`
	Exchanges     []Exchange `json:"exchanges,omitempty"`
	Forced        bool       `json:"forced,omitempty"`
	NarrativeOnly bool       `json:"narrative_only,omitempty"`
}
