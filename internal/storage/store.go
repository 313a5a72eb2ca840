package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
)

// ErrNotFound matches model.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("adventure %w", model.ErrNotFound)

// Adventure is the registry row for one adventure.
type Adventure struct {
	ID        string    `json:"id"`
	Campaign  string    `json:"campaign,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Commit is everything one successful resolution writes. Backends apply it
// atomically or not at all.
type Commit struct {
	Event model.ResolvedEvent
	Party model.Party
	Turn  model.TurnState
}

// Store persists adventures. Reads after writes within one adventure are
// linearizable.
type Store interface {
	CreateAdventure(ctx context.Context, adv Adventure, party model.Party, turn model.TurnState) error
	ListAdventures(ctx context.Context) ([]Adventure, error)

	LoadParty(ctx context.Context, adventureID string) (model.Party, error)
	SaveParty(ctx context.Context, adventureID string, party model.Party) error
	LoadTurn(ctx context.Context, adventureID string) (model.TurnState, error)
	SaveTurn(ctx context.Context, adventureID string, turn model.TurnState) error

	CommitResolution(ctx context.Context, adventureID string, c Commit) error
	// RecentEvents returns up to limit events, oldest first.
	RecentEvents(ctx context.Context, adventureID string, limit int) ([]model.ResolvedEvent, error)

	LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error)
	SaveMemory(ctx context.Context, adventureID string, m model.MemoryState) error

	SaveCampaign(ctx context.Context, adventureID string, sections []model.CampaignSection) error
	CampaignSections(ctx context.Context, adventureID string) ([]model.CampaignSection, error)

	Close(ctx context.Context) error
}
