package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agenthands/tavern/internal/core/model"
)

type memAdventure struct {
	info     Adventure
	party    model.Party
	turn     model.TurnState
	events   []model.ResolvedEvent
	memory   model.MemoryState
	sections []model.CampaignSection
}

// Memory is a process-local Store. Every value is copied in and out.
type Memory struct {
	mu         sync.RWMutex
	adventures map[string]*memAdventure
	failCommit error
}

func NewMemory() *Memory {
	return &Memory{adventures: make(map[string]*memAdventure)}
}

// FailCommits makes every CommitResolution return err until called with nil.
func (m *Memory) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

func (m *Memory) get(id string) (*memAdventure, error) {
	a, ok := m.adventures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (m *Memory) CreateAdventure(ctx context.Context, adv Adventure, party model.Party, turn model.TurnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adventures[adv.ID]; ok {
		return fmt.Errorf("%w: adventure %s already exists", model.ErrConflict, adv.ID)
	}
	m.adventures[adv.ID] = &memAdventure{
		info:   adv,
		party:  party.Clone(),
		turn:   turn,
		memory: model.MemoryState{Notes: map[string]string{}},
	}
	return nil
}

func (m *Memory) ListAdventures(ctx context.Context) ([]Adventure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adventure, 0, len(m.adventures))
	for _, a := range m.adventures {
		out = append(out, a.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) LoadParty(ctx context.Context, adventureID string) (model.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.get(adventureID)
	if err != nil {
		return model.Party{}, err
	}
	return a.party.Clone(), nil
}

func (m *Memory) SaveParty(ctx context.Context, adventureID string, party model.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(adventureID)
	if err != nil {
		return err
	}
	a.party = party.Clone()
	return nil
}

func (m *Memory) LoadTurn(ctx context.Context, adventureID string) (model.TurnState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.get(adventureID)
	if err != nil {
		return model.TurnState{}, err
	}
	return a.turn, nil
}

func (m *Memory) SaveTurn(ctx context.Context, adventureID string, turn model.TurnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(adventureID)
	if err != nil {
		return err
	}
	a.turn = turn
	return nil
}

func (m *Memory) CommitResolution(ctx context.Context, adventureID string, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	a, err := m.get(adventureID)
	if err != nil {
		return err
	}
	a.events = append(a.events, c.Event)
	a.party = c.Party.Clone()
	a.turn = c.Turn
	return nil
}

func (m *Memory) RecentEvents(ctx context.Context, adventureID string, limit int) ([]model.ResolvedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.get(adventureID)
	if err != nil {
		return nil, err
	}
	events := a.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]model.ResolvedEvent(nil), events...), nil
}

func (m *Memory) LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.get(adventureID)
	if err != nil {
		return model.MemoryState{}, err
	}
	return a.memory.Clone(), nil
}

func (m *Memory) SaveMemory(ctx context.Context, adventureID string, mem model.MemoryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(adventureID)
	if err != nil {
		return err
	}
	a.memory = mem.Clone()
	return nil
}

func (m *Memory) SaveCampaign(ctx context.Context, adventureID string, sections []model.CampaignSection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(adventureID)
	if err != nil {
		return err
	}
	a.sections = append([]model.CampaignSection(nil), sections...)
	return nil
}

func (m *Memory) CampaignSections(ctx context.Context, adventureID string) ([]model.CampaignSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.get(adventureID)
	if err != nil {
		return nil, err
	}
	return append([]model.CampaignSection(nil), a.sections...), nil
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}
