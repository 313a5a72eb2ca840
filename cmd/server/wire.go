package main

import (
	"context"
	"fmt"
	"io"

	"github.com/agenthands/tavern/internal/campaign"
	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core"
	"github.com/agenthands/tavern/internal/core/aiplayer"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/dm"
	"github.com/agenthands/tavern/internal/core/memory"
	"github.com/agenthands/tavern/internal/core/resolver"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/core/validate"
	"github.com/agenthands/tavern/internal/driver"
	"github.com/agenthands/tavern/internal/llm"
	"github.com/agenthands/tavern/internal/storage"
	"go.uber.org/zap"
)

type engine struct {
	store   storage.Store
	manager *core.Manager
	closers []io.Closer
	logger  *zap.Logger
}

func (e *engine) close(ctx context.Context) {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("failed to close client", zap.Error(err))
		}
	}
	if err := e.store.Close(ctx); err != nil {
		e.logger.Warn("failed to close store", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage, adventures are lost on restart")
		return storage.NewMemory(), nil
	case config.BackendSQLite:
		return storage.OpenSQLite(ctx, cfg.SQLite.Path)
	case config.BackendMemgraph:
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to memgraph: %w", err)
		}
		return storage.NewGraph(ctx, d)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// agentClient builds the retrying generator for one role. The embedder is
// returned bare since lookups fall back to keywords on failure.
func (e *engine) agentClient(ctx context.Context, cfg *config.Config, role string) (llm.LLMClient, llm.EmbedderClient, error) {
	gen, emb, err := llm.NewClient(ctx, cfg.AgentLLM(role), e.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%s agent: %w", role, err)
	}
	if c, ok := gen.(io.Closer); ok {
		e.closers = append(e.closers, c)
	}
	return llm.WithRetry(role, gen, cfg.Resolver.RetryBackoff.Duration, e.logger), emb, nil
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	e := &engine{store: store, logger: logger}
	manager, err := e.wire(ctx, cfg)
	if err != nil {
		e.close(ctx)
		return nil, err
	}
	e.manager = manager
	return e, nil
}

func (e *engine) wire(ctx context.Context, cfg *config.Config) (*core.Manager, error) {
	prompts := cfg.PromptsWithDefaults()

	dmClient, embedder, err := e.agentClient(ctx, cfg, "dm")
	if err != nil {
		return nil, err
	}
	validatorClient, _, err := e.agentClient(ctx, cfg, "validator")
	if err != nil {
		return nil, err
	}
	compactorClient, _, err := e.agentClient(ctx, cfg, "compactor")
	if err != nil {
		return nil, err
	}
	playerClient, _, err := e.agentClient(ctx, cfg, "player")
	if err != nil {
		return nil, err
	}

	master, err := dm.New(dmClient, prompts)
	if err != nil {
		return nil, err
	}
	lawyer, err := validate.NewRulesLawyer(validatorClient, prompts.RulesLawyer)
	if err != nil {
		return nil, err
	}
	spells, err := validate.NewSpellChecker(validatorClient, prompts.SpellChecker)
	if err != nil {
		return nil, err
	}
	summarizer, err := memory.NewSummarizer(compactorClient, prompts.Summary)
	if err != nil {
		return nil, err
	}
	player, err := aiplayer.NewPlayer(playerClient, prompts)
	if err != nil {
		return nil, err
	}

	library, err := campaign.LoadDir(cfg.Campaigns.Dir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("campaigns loaded", zap.Strings("names", library.Names()))
	lookup := campaign.NewLookup(e.store, embedder, llm.NewSimpleLLMReranker(validatorClient), e.logger)

	res := resolver.New(e.store, master,
		validate.Selector{Physical: lawyer, Spell: spells},
		tools.NewToolbox(nil, lookup, e.logger),
		memory.NewCompactor(e.store, summarizer, cfg.Memory.MaxSummaryChars, nil, e.logger),
		resolver.Options{
			MaxToolRounds: cfg.Resolver.MaxToolRounds,
			EnforceDice:   cfg.Resolver.EnforceDice,
			RecentEvents:  cfg.Resolver.RecentEvents,
		},
		nil, e.logger)

	return core.NewManager(core.Deps{
		Store:     e.store,
		Resolver:  res,
		Machine:   dialogue.NewMachine(master, cfg.Dialogue.ForcedFallback, cfg.Dialogue.AISessionCeiling.Duration, nil, e.logger),
		Driver:    aiplayer.NewDriver(player, cfg.Dialogue.SafeAction, e.logger),
		Campaigns: library,
		Limits: dialogue.Limits{
			HumanMaxExchanges: cfg.Dialogue.HumanMaxExchanges,
			AIMaxExchanges:    cfg.Dialogue.AIMaxExchanges,
			AISessionCeiling:  cfg.Dialogue.AISessionCeiling.Duration,
		},
		Policy:          scheduler.PolicyFromConfig(cfg.Turns),
		RecentEvents:    cfg.Resolver.RecentEvents,
		DedupeWindow:    cfg.Dialogue.DedupeWindow.Duration,
		DefaultCampaign: cfg.Campaigns.Default,
		Logger:          e.logger,
	}), nil
}
