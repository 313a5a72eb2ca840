package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/driver"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// allEvents stands in for "no limit" in Cypher LIMIT clauses.
const allEvents = 1 << 30

// Graph is a Store over a Memgraph or Neo4j database.
type Graph struct {
	driver driver.GraphDriver
}

func NewGraph(ctx context.Context, d driver.GraphDriver) (*Graph, error) {
	if err := d.BuildIndices(ctx); err != nil {
		return nil, fmt.Errorf("failed to build indices: %w", err)
	}
	return &Graph{driver: d}, nil
}

func (g *Graph) CreateAdventure(ctx context.Context, adv Adventure, party model.Party, turn model.TurnState) error {
	partyJSON, err := encode(party)
	if err != nil {
		return err
	}
	turnJSON, err := encode(turn)
	if err != nil {
		return err
	}
	memJSON, err := encode(model.MemoryState{Notes: map[string]string{}})
	if err != nil {
		return err
	}
	_, err = g.driver.ExecuteQuery(ctx, driver.CreateAdventureQuery, map[string]interface{}{
		"id":         adv.ID,
		"campaign":   adv.Campaign,
		"created_at": adv.CreatedAt.UnixNano(),
		"party":      partyJSON,
		"turn":       turnJSON,
		"memory":     memJSON,
	})
	if err != nil {
		if constraintViolation(err) {
			return fmt.Errorf("%w: adventure %s already exists", model.ErrConflict, adv.ID)
		}
		return fmt.Errorf("failed to create adventure %s: %w", adv.ID, err)
	}
	return nil
}

// constraintViolation reports a unique constraint failure from Neo4j or Memgraph.
func constraintViolation(err error) bool {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && strings.Contains(nerr.Code, "ConstraintValidationFailed") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint violation")
}

func (g *Graph) ListAdventures(ctx context.Context) ([]Adventure, error) {
	res, err := g.driver.ExecuteQuery(ctx, driver.ListAdventuresQuery, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Adventure, 0, len(res.Records))
	for _, rec := range res.Records {
		a := Adventure{ID: recordString(rec, "id"), Campaign: recordString(rec, "campaign")}
		if v, ok := rec.Get("created_at"); ok {
			if ns, ok := v.(int64); ok {
				a.CreatedAt = time.Unix(0, ns).UTC()
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func (g *Graph) load(ctx context.Context, adventureID, key string, dst any) error {
	res, err := g.driver.ExecuteQuery(ctx, driver.LoadAdventureQuery, map[string]interface{}{"id": adventureID})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	raw := recordString(res.Records[0], key)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (g *Graph) save(ctx context.Context, adventureID string, props map[string]any) error {
	res, err := g.driver.ExecuteQuery(ctx, driver.SaveAdventureQuery, map[string]interface{}{
		"id":    adventureID,
		"props": props,
	})
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	return nil
}

func (g *Graph) saveJSON(ctx context.Context, adventureID, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	if err := g.save(ctx, adventureID, map[string]any{key: raw}); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (g *Graph) LoadParty(ctx context.Context, adventureID string) (model.Party, error) {
	var p model.Party
	err := g.load(ctx, adventureID, "party", &p)
	return p, err
}

func (g *Graph) SaveParty(ctx context.Context, adventureID string, party model.Party) error {
	return g.saveJSON(ctx, adventureID, "party", party)
}

func (g *Graph) LoadTurn(ctx context.Context, adventureID string) (model.TurnState, error) {
	var t model.TurnState
	err := g.load(ctx, adventureID, "turn", &t)
	return t, err
}

func (g *Graph) SaveTurn(ctx context.Context, adventureID string, turn model.TurnState) error {
	return g.saveJSON(ctx, adventureID, "turn", turn)
}

// CommitResolution is a single Cypher statement, so it runs in one
// transaction.
func (g *Graph) CommitResolution(ctx context.Context, adventureID string, c Commit) error {
	partyJSON, err := encode(c.Party)
	if err != nil {
		return err
	}
	turnJSON, err := encode(c.Turn)
	if err != nil {
		return err
	}
	body, err := encode(c.Event)
	if err != nil {
		return err
	}
	res, err := g.driver.ExecuteQuery(ctx, driver.CommitResolutionQuery, map[string]interface{}{
		"id":       adventureID,
		"party":    partyJSON,
		"turn":     turnJSON,
		"event_id": c.Event.ID,
		"body":     body,
	})
	if err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	return nil
}

func (g *Graph) RecentEvents(ctx context.Context, adventureID string, limit int) ([]model.ResolvedEvent, error) {
	// distinguishes an unknown adventure from one with no events
	var t model.TurnState
	if err := g.load(ctx, adventureID, "turn", &t); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = allEvents
	}
	res, err := g.driver.ExecuteQuery(ctx, driver.RecentEventsQuery, map[string]interface{}{
		"id":    adventureID,
		"limit": int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	out := make([]model.ResolvedEvent, 0, len(res.Records))
	for _, rec := range res.Records {
		var e model.ResolvedEvent
		if err := json.Unmarshal([]byte(recordString(rec, "body")), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, e)
	}
	// newest first from the query
	slices.Reverse(out)
	return out, nil
}

func (g *Graph) LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error) {
	var m model.MemoryState
	if err := g.load(ctx, adventureID, "memory", &m); err != nil {
		return model.MemoryState{}, err
	}
	if m.Notes == nil {
		m.Notes = map[string]string{}
	}
	return m, nil
}

func (g *Graph) SaveMemory(ctx context.Context, adventureID string, mem model.MemoryState) error {
	return g.saveJSON(ctx, adventureID, "memory", mem)
}

func (g *Graph) SaveCampaign(ctx context.Context, adventureID string, sections []model.CampaignSection) error {
	params := make([]map[string]any, len(sections))
	for i, s := range sections {
		params[i] = map[string]any{"position": int64(i), "title": s.Title, "content": s.Content}
	}
	res, err := g.driver.ExecuteQuery(ctx, driver.ReplaceSectionsQuery, map[string]interface{}{
		"id":       adventureID,
		"sections": params,
	})
	if err != nil {
		return fmt.Errorf("failed to save campaign sections: %w", err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	return nil
}

func (g *Graph) CampaignSections(ctx context.Context, adventureID string) ([]model.CampaignSection, error) {
	res, err := g.driver.ExecuteQuery(ctx, driver.CampaignSectionsQuery, map[string]interface{}{"id": adventureID})
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign sections: %w", err)
	}
	out := make([]model.CampaignSection, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, model.CampaignSection{
			Title:   recordString(rec, "title"),
			Content: recordString(rec, "content"),
		})
	}
	return out, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
