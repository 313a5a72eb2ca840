package model

import (
	"fmt"
	"time"
)

type EffectKind string

const (
	// EffectHP changes hit points: negative is damage, positive is healing.
	EffectHP   EffectKind = "hp"
	EffectItem EffectKind = "item"
)

type Effect struct {
	Kind   EffectKind `json:"kind"`
	Target string     `json:"target"`
	Amount int        `json:"amount,omitempty"`
	Item   string     `json:"item,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

func (e Effect) String() string {
	switch e.Kind {
	case EffectHP:
		if e.Amount < 0 {
			return fmt.Sprintf("%s takes %d damage (%s)", e.Target, -e.Amount, e.Reason)
		}
		return fmt.Sprintf("%s heals %d HP (%s)", e.Target, e.Amount, e.Reason)
	case EffectItem:
		if e.Amount < 0 {
			return fmt.Sprintf("%s loses %d x %s (%s)", e.Target, -e.Amount, e.Item, e.Reason)
		}
		return fmt.Sprintf("%s gains %d x %s (%s)", e.Target, e.Amount, e.Item, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Target)
}

// ResolvedEvent is the immutable, append-only record of one resolved turn.
type ResolvedEvent struct {
	ID            string    `json:"id"`
	AdventureID   string    `json:"adventure_id"`
	TurnNumber    int       `json:"turn_number"`
	ActorID       string    `json:"actor_id"`
	ActorName     string    `json:"actor_name"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"`
	Effects       []Effect  `json:"effects,omitempty"`
	Forced        bool      `json:"forced,omitempty"`
	NarrativeOnly bool      `json:"narrative_only,omitempty"`
	Origin        Origin    `json:"origin"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryLine is the one-line form used in prompts and history tools.
func (e ResolvedEvent) HistoryLine() string {
	return fmt.Sprintf("[TURN %d] %s: %q -> %s", e.TurnNumber, e.ActorName, e.Action, e.Outcome)
}
