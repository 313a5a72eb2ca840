//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agenthands/tavern/internal/campaign"
	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core"
	"github.com/agenthands/tavern/internal/core/aiplayer"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/dm"
	"github.com/agenthands/tavern/internal/core/memory"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/resolver"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/core/validate"
	"github.com/agenthands/tavern/internal/driver"
	"github.com/agenthands/tavern/internal/llm"
	"github.com/agenthands/tavern/internal/storage"
)

func TestMemgraphStore(t *testing.T) {
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	d, err := driver.NewMemgraphDriver(ctx, uri, os.Getenv("MEMGRAPH_USER"), os.Getenv("MEMGRAPH_PASSWORD"), logger)
	require.NoError(t, err)
	store, err := storage.NewGraph(ctx, d)
	require.NoError(t, err)
	defer store.Close(ctx)

	id := "it-" + uuid.NewString()
	party, err := model.NewParty(
		model.Actor{ID: "arin", Name: "Arin", Kind: model.ActorHuman, Class: "warrior", Sheet: model.CharacterSheet{HP: 12, MaxHP: 12, Level: 1}},
		model.Actor{ID: "lyra", Name: "Lyra", Kind: model.ActorAI, Class: "mage", Sheet: model.CharacterSheet{HP: 7, MaxHP: 7, Level: 1}},
	)
	require.NoError(t, err)
	require.NoError(t, store.CreateAdventure(ctx, storage.Adventure{ID: id, Campaign: "goblin_caves", CreatedAt: time.Now()}, party, model.TurnState{ActiveActor: "arin", TurnNumber: 1}))

	for i := 1; i <= 3; i++ {
		ev := model.ResolvedEvent{ID: uuid.NewString(), AdventureID: id, TurnNumber: i, ActorID: "arin", ActorName: "Arin", Action: "I search", Outcome: "Nothing yet.", Origin: model.OriginHuman, Timestamp: time.Now()}
		require.NoError(t, store.CommitResolution(ctx, id, storage.Commit{Event: ev, Party: party, Turn: model.TurnState{ActiveActor: "lyra", TurnNumber: i + 1}}))
	}

	events, err := store.RecentEvents(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].TurnNumber)
	assert.Equal(t, 3, events[1].TurnNumber)

	turn, err := store.LoadTurn(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, turn.TurnNumber)

	sections := []model.CampaignSection{{Title: "Cave Mouth", Content: "Two goblins."}}
	require.NoError(t, store.SaveCampaign(ctx, id, sections))
	got, err := store.CampaignSections(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sections, got)
}

// TestFullFlow plays a human turn and an AI turn against a real model.
func TestFullFlow(t *testing.T) {
	_ = godotenv.Load("../../.env")

	if os.Getenv("TAVERN_LLM_PROVIDER") == "" {
		t.Skip("Skipping integration test: TAVERN_LLM_PROVIDER not set")
	}
	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv())
	cfg.Campaigns.Dir = "../../campaigns"
	cfg.Turns.AIPacingDelay = config.Duration{}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "tavern.db"))
	require.NoError(t, err)
	defer store.Close(ctx)

	gen, embedder, err := llm.NewClient(ctx, cfg.LLM, logger)
	require.NoError(t, err)
	client := llm.WithRetry("it", gen, time.Second, logger)
	prompts := cfg.PromptsWithDefaults()

	master, err := dm.New(client, prompts)
	require.NoError(t, err)
	lawyer, err := validate.NewRulesLawyer(client, prompts.RulesLawyer)
	require.NoError(t, err)
	spells, err := validate.NewSpellChecker(client, prompts.SpellChecker)
	require.NoError(t, err)
	summarizer, err := memory.NewSummarizer(client, prompts.Summary)
	require.NoError(t, err)
	player, err := aiplayer.NewPlayer(client, prompts)
	require.NoError(t, err)
	library, err := campaign.LoadDir(cfg.Campaigns.Dir)
	require.NoError(t, err)

	res := resolver.New(store, master,
		validate.Selector{Physical: lawyer, Spell: spells},
		tools.NewToolbox(nil, campaign.NewLookup(store, embedder, llm.NewSimpleLLMReranker(client), logger), logger),
		memory.NewCompactor(store, summarizer, cfg.Memory.MaxSummaryChars, nil, logger),
		resolver.Options{MaxToolRounds: cfg.Resolver.MaxToolRounds, EnforceDice: true, RecentEvents: cfg.Resolver.RecentEvents},
		nil, logger)
	mgr := core.NewManager(core.Deps{
		Store:     store,
		Resolver:  res,
		Machine:   dialogue.NewMachine(master, config.FallbackBestEffort, 2*time.Minute, nil, logger),
		Driver:    aiplayer.NewDriver(player, cfg.Dialogue.SafeAction, logger),
		Campaigns: library,
		Limits: dialogue.Limits{
			HumanMaxExchanges: 4,
			AIMaxExchanges:    2,
			AISessionCeiling:  2 * time.Minute,
		},
		Policy:          scheduler.PolicyFromConfig(cfg.Turns),
		RecentEvents:    cfg.Resolver.RecentEvents,
		DefaultCampaign: cfg.Campaigns.Default,
		Logger:          logger,
	})

	adv, err := mgr.Create(ctx, core.CreateRequest{Members: []core.MemberSpec{
		{Name: "Arin", Kind: model.ActorHuman, Class: "warrior"},
		{Name: "Lyra", Kind: model.ActorAI, Class: "mage"},
	}})
	require.NoError(t, err)

	answers := []string{"I walk into the cave mouth with my sword drawn.", "Straight ahead, carefully.", "Yes.", "Just that."}
	var result core.Result
	for _, text := range answers {
		result, err = adv.SubmitAction(ctx, core.Submission{ActorID: "arin", Text: text})
		require.NoError(t, err)
		if result.Event != nil || result.Denied != nil {
			break
		}
		t.Logf("DM asks: %s", result.Question)
	}
	if result.Denied != nil {
		t.Skipf("model denied the opening action: %s", result.Denied.Reason)
	}
	require.NotNil(t, result.Event, "exchange cap must force a resolution")
	t.Logf("Outcome: %s", result.Event.Outcome)
	assert.Equal(t, "lyra", adv.Status().ActiveActor)

	require.NoError(t, adv.OnTimerTick(ctx))
	events, err := store.RecentEvents(ctx, adv.ID(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2, "the AI turn falls back to the safe action when denied")
	assert.Equal(t, model.OriginAI, events[1].Origin)
	assert.Equal(t, "arin", adv.Status().ActiveActor)
}
