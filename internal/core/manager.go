package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/tavern/internal/campaign"
	"github.com/agenthands/tavern/internal/core/aiplayer"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/resolver"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are shared by every adventure of a Manager. The resolver, machine and
// driver are stateless; each adventure gets its own scheduler and tracker.
type Deps struct {
	Store        storage.Store
	Resolver     *resolver.Resolver
	Machine      *dialogue.Machine
	Driver       *aiplayer.Driver
	Campaigns    *campaign.Library
	Limits       dialogue.Limits
	Policy       scheduler.Policy
	RecentEvents int
	DedupeWindow time.Duration
	// DefaultCampaign is used when a create request names none.
	DefaultCampaign string
	Now             func() time.Time
	Logger          *zap.Logger
}

// Manager holds the live adventures and runs one timer loop per adventure.
type Manager struct {
	deps Deps

	mu         sync.RWMutex
	adventures map[string]*Adventure
	group      *errgroup.Group
	groupCtx   context.Context
}

func NewManager(deps Deps) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Campaigns == nil {
		deps.Campaigns = campaign.NewLibrary()
	}
	if deps.RecentEvents <= 0 {
		deps.RecentEvents = 15
	}
	return &Manager{deps: deps, adventures: make(map[string]*Adventure)}
}

// MemberSpec describes a party member to create from a class template.
type MemberSpec struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Kind  model.ActorKind `json:"kind"`
	Class string          `json:"class"`
}

type CreateRequest struct {
	ID       string       `json:"id,omitempty"`
	Campaign string       `json:"campaign,omitempty"`
	Members  []MemberSpec `json:"members"`
}

// Actor builds a party member from the campaign's sheet for its class.
func Actor(c *campaign.Campaign, spec MemberSpec) (model.Actor, error) {
	if spec.Kind == "" {
		spec.Kind = model.ActorHuman
	}
	if !spec.Kind.Valid() {
		return model.Actor{}, fmt.Errorf("member %q has invalid kind %q", spec.Name, spec.Kind)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return model.Actor{}, fmt.Errorf("member needs a name")
	}
	if spec.ID == "" {
		spec.ID = strings.ToLower(strings.Join(strings.Fields(spec.Name), "-"))
	}
	sheet, err := c.Sheet(spec.Class)
	if err != nil {
		return model.Actor{}, err
	}
	return model.Actor{
		ID:    spec.ID,
		Name:  spec.Name,
		Kind:  spec.Kind,
		Class: strings.ToLower(spec.Class),
		Sheet: sheet,
	}, nil
}

// Create starts a new adventure. The campaign's intro seeds the story
// summary and its sections feed the lookup tool.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Adventure, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Campaign == "" {
		req.Campaign = m.deps.DefaultCampaign
	}

	m.mu.RLock()
	_, exists := m.adventures[req.ID]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: adventure %s already exists", model.ErrConflict, req.ID)
	}

	book, err := m.deps.Campaigns.Get(req.Campaign)
	if err != nil {
		return nil, err
	}
	members := make([]model.Actor, 0, len(req.Members))
	for _, spec := range req.Members {
		actor, err := Actor(book, spec)
		if err != nil {
			return nil, err
		}
		members = append(members, actor)
	}
	party, err := model.NewParty(members...)
	if err != nil {
		return nil, err
	}

	sched := m.newScheduler(req.ID)
	turn, err := sched.Start(party)
	if err != nil {
		return nil, err
	}
	now := m.deps.Now()
	record := storage.Adventure{ID: req.ID, Campaign: book.Name, CreatedAt: now}
	if err := m.deps.Store.CreateAdventure(ctx, record, party, turn); err != nil {
		return nil, fmt.Errorf("failed to create adventure: %w", err)
	}
	if len(book.Sections) > 0 {
		if err := m.deps.Store.SaveCampaign(ctx, req.ID, book.Sections); err != nil {
			return nil, fmt.Errorf("failed to save campaign sections: %w", err)
		}
	}
	if intro := strings.TrimSpace(book.Intro); intro != "" {
		mem := model.MemoryState{StorySummary: intro, Notes: map[string]string{}, UpdatedAt: now}
		if err := m.deps.Store.SaveMemory(ctx, req.ID, mem); err != nil {
			return nil, fmt.Errorf("failed to save intro: %w", err)
		}
	}

	adv := m.register(ctx, req.ID, book.Name, sched)
	m.deps.Logger.Info("adventure created",
		zap.String("adventure", req.ID),
		zap.String("campaign", book.Name),
		zap.Int("members", len(members)),
		zap.String("first_actor", turn.ActiveActor))
	return adv, nil
}

// Get returns a live adventure.
func (m *Manager) Get(id string) (*Adventure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adv, ok := m.adventures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return adv, nil
}

// Recruit adds a member built from the adventure's campaign sheets. A
// campaign that is no longer loaded falls back to the default classes.
func (m *Manager) Recruit(ctx context.Context, id string, spec MemberSpec) (model.Actor, error) {
	adv, err := m.Get(id)
	if err != nil {
		return model.Actor{}, err
	}
	book, err := m.deps.Campaigns.Get(adv.campaign)
	if err != nil {
		m.deps.Logger.Warn("campaign not loaded, using default classes",
			zap.String("adventure", id), zap.String("campaign", adv.campaign))
		book = &campaign.Campaign{Name: adv.campaign}
	}
	actor, err := Actor(book, spec)
	if err != nil {
		return model.Actor{}, err
	}
	if err := adv.AddMember(ctx, actor); err != nil {
		return model.Actor{}, err
	}
	return actor, nil
}

// List returns the live adventure ids in order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.adventures))
	for id := range m.adventures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadAll brings every stored adventure back to life after a restart.
// Deadlines that passed while the process was down fire on the first tick.
func (m *Manager) LoadAll(ctx context.Context) error {
	records, err := m.deps.Store.ListAdventures(ctx)
	if err != nil {
		return fmt.Errorf("failed to list adventures: %w", err)
	}
	for _, rec := range records {
		m.mu.RLock()
		_, ok := m.adventures[rec.ID]
		m.mu.RUnlock()
		if ok {
			continue
		}
		m.register(ctx, rec.ID, rec.Campaign, m.newScheduler(rec.ID))
	}
	m.deps.Logger.Info("adventures loaded", zap.Int("count", len(records)))
	return nil
}

// Run drives the timer loop of every adventure, including ones created
// while it runs, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	m.mu.Lock()
	m.group, m.groupCtx = g, gctx
	for _, adv := range m.adventures {
		m.start(adv)
	}
	m.mu.Unlock()

	// keeps the group non-empty so adventures can join it later
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()

	m.mu.Lock()
	m.group, m.groupCtx = nil, nil
	m.mu.Unlock()
	return err
}

func (m *Manager) newScheduler(id string) *scheduler.Scheduler {
	return scheduler.New(m.deps.Policy, m.deps.Now, m.deps.Logger.With(zap.String("adventure", id)))
}

func (m *Manager) register(ctx context.Context, id, campaignName string, sched *scheduler.Scheduler) *Adventure {
	logger := m.deps.Logger.With(zap.String("adventure", id))
	adv := &Adventure{
		id:       id,
		campaign: campaignName,
		store:    m.deps.Store,
		resolver: m.deps.Resolver,
		machine:  m.deps.Machine,
		driver:   m.deps.Driver,
		sched:    sched,
		recent:   m.deps.RecentEvents,
		now:      m.deps.Now,
		logger:   logger,
		tracker:  dialogue.NewTracker(m.deps.Limits, logger),
		seen:     newSubmissions(m.deps.DedupeWindow),
	}
	adv.publish(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.adventures[id] = adv
	if m.group != nil {
		m.start(adv)
	}
	return adv
}

// start launches the timer loop of adv. Callers hold mu.
func (m *Manager) start(adv *Adventure) {
	ctx := m.groupCtx
	m.group.Go(func() error {
		return adv.sched.Run(ctx, adv)
	})
}
