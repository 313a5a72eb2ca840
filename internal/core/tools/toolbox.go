package tools

import (
	"context"

	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

const (
	RollDiceTool         = "roll_dice"
	ApplyDamageTool      = "apply_damage"
	PartyStatusTool      = "get_party_status"
	RecentHistoryTool    = "get_recent_history"
	WriteNoteTool        = "write_note"
	ReadNotesTool        = "read_notes"
	LookupCampaignTool   = "lookup_campaign"
	defaultHistoryLimit  = 20
	defaultLookupResults = 3
)

// CampaignLookup finds campaign sections relevant to a query.
type CampaignLookup interface {
	Lookup(ctx context.Context, adventureID, query string, limit int) ([]model.CampaignSection, error)
}

// Toolbox holds the collaborators shared by every resolution. Each resolution
// gets its own Turn.
type Toolbox struct {
	roller Roller
	lookup CampaignLookup
	logger *zap.Logger
}

// NewToolbox builds a toolbox. A nil roller uses math/rand; a nil lookup
// reports that no campaign is loaded.
func NewToolbox(roller Roller, lookup CampaignLookup, logger *zap.Logger) *Toolbox {
	if roller == nil {
		roller = randRoller{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolbox{roller: roller, lookup: lookup, logger: logger}
}

// Specs describes the tools for the DM prompt.
func (b *Toolbox) Specs() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        RollDiceTool,
			Description: "Roll dice in D&D notation for checks, attacks, saves and damage.",
			Params:      map[string]string{"notation": "e.g. 1d20, 2d6+3, 1d8-1"},
		},
		{
			Name:        ApplyDamageTool,
			Description: "Change a character's HP. Negative amounts are damage, positive are healing.",
			Params: map[string]string{
				"player_name": "character name",
				"amount":      "HP change, e.g. -5 or 3",
				"reason":      "what caused it",
			},
		},
		{
			Name:        PartyStatusTool,
			Description: "Name, class, HP and level of every party member.",
		},
		{
			Name:        RecentHistoryTool,
			Description: "The most recent resolved turns.",
			Params:      map[string]string{"limit": "maximum events, default 20"},
		},
		{
			Name:        WriteNoteTool,
			Description: "Remember a fact under a topic, replacing any earlier note on that topic.",
			Params:      map[string]string{"topic": "short key, e.g. npc:grik", "note": "text to remember"},
		},
		{
			Name:        ReadNotesTool,
			Description: "Read your notes, all of them or one topic.",
			Params:      map[string]string{"topic": "optional topic"},
		},
		{
			Name:        LookupCampaignTool,
			Description: "Search the campaign book for locations, NPCs and encounters.",
			Params:      map[string]string{"query": "what to look up"},
		},
	}
}

// NewTurn starts a ledger over a working copy of the party.
func (b *Toolbox) NewTurn(in TurnInput) *Turn {
	t := &Turn{
		box:   b,
		input: in,
	}
	t.Reset()
	return t
}
