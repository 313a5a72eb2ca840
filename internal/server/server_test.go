package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/core"
	"github.com/agenthands/tavern/internal/core/agenttest"
	"github.com/agenthands/tavern/internal/core/aiplayer"
	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/memory"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/core/resolver"
	"github.com/agenthands/tavern/internal/core/scheduler"
	"github.com/agenthands/tavern/internal/core/tools"
	"github.com/agenthands/tavern/internal/core/validate"
	"github.com/agenthands/tavern/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	router *gin.Engine
	dm     *agenttest.ScriptedDM
	lawyer *agenttest.StaticValidator
	clock  *agenttest.Clock
	store  storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		dm:     &agenttest.ScriptedDM{},
		lawyer: &agenttest.StaticValidator{},
		clock:  agenttest.NewClock(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)),
	}
	logger := zaptest.NewLogger(t)
	store := storage.NewMemory()

	summarizer, err := memory.NewSummarizer(&agenttest.MockLLM{Response: `{"summary": "The story so far."}`}, config.DefaultPrompts().Summary)
	require.NoError(t, err)
	player, err := aiplayer.NewPlayer(&agenttest.MockLLM{Response: "I keep watch."}, config.DefaultPrompts())
	require.NoError(t, err)

	res := resolver.New(store, f.dm,
		validate.Selector{Physical: f.lawyer},
		tools.NewToolbox(nil, nil, logger),
		memory.NewCompactor(store, summarizer, 4000, f.clock.Now, logger),
		resolver.Options{MaxToolRounds: 4, EnforceDice: true, RecentEvents: 15},
		f.clock.Now, logger)

	mgr := core.NewManager(core.Deps{
		Store:    store,
		Resolver: res,
		Machine:  dialogue.NewMachine(f.dm, config.FallbackNarrativeOnly, 2*time.Minute, f.clock.Now, logger),
		Driver:   aiplayer.NewDriver(player, "I wait and observe.", logger),
		Limits:   dialogue.Limits{HumanMaxExchanges: 25, AIMaxExchanges: 3, AISessionCeiling: 2 * time.Minute},
		Policy: scheduler.Policy{
			HumanTimeout:     24 * time.Hour,
			AIPacingDelay:    5 * time.Second,
			AIRetryDelay:     time.Minute,
			MaxConsecutiveAI: 8,
			TimeoutPolicy:    config.PolicyAutopilot,
		},
		DedupeWindow: 30 * time.Second,
		Now:          f.clock.Now,
		Logger:       logger,
	})
	f.store = store
	f.router = NewServer(mgr, store, logger).SetupRouter()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (f *fixture) createParty(t *testing.T) {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/adventures", gin.H{
		"id": "adv-1",
		"members": []gin.H{
			{"name": "Arin", "kind": "human", "class": "warrior"},
			{"name": "Bryn", "kind": "human", "class": "rogue"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, body)
	assert.Equal(t, "arin", body["active_actor"])
}

func TestCreateAndStatus(t *testing.T) {
	f := newFixture(t)
	f.createParty(t)

	w, body := f.do(t, http.MethodGet, "/adventures/adv-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "arin", body["active_actor"])
	assert.Equal(t, float64(1), body["turn_number"])
	assert.Equal(t, "none", body["session_state"])

	w, _ = f.do(t, http.MethodPost, "/adventures", gin.H{"id": "adv-1", "members": []gin.H{{"name": "Cai", "class": "mage"}}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.do(t, http.MethodPost, "/adventures", gin.H{"members": []gin.H{{"name": "Cai", "class": "bard"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodGet, "/adventures/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, body = f.do(t, http.MethodGet, "/adventures", nil)
	assert.Equal(t, []any{"adv-1"}, body["adventures"])
}

func TestCreateTakenInStore(t *testing.T) {
	f := newFixture(t)
	arin := model.Actor{ID: "arin", Name: "Arin", Kind: model.ActorHuman, Class: "warrior"}
	party, err := model.NewParty(arin)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAdventure(context.Background(), storage.Adventure{ID: "adv-9"}, party, model.TurnState{ActiveActor: "arin", TurnNumber: 1}))

	w, body := f.do(t, http.MethodPost, "/adventures", gin.H{"id": "adv-9", "members": []gin.H{{"name": "Cai", "class": "mage"}}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "already exists")
}

func TestActionClarifyThenResolve(t *testing.T) {
	f := newFixture(t)
	f.dm.Clarifications = []model.Clarification{
		agenttest.Ask("Which goblin?"),
		agenttest.Resolved("I attack the left goblin", model.CategoryPhysical),
	}
	f.dm.Turns = []model.DMTurn{agenttest.Narrate("The goblin yelps and flees.")}
	f.createParty(t)

	w, body := f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "I attack"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Which goblin?", body["question"])
	status := body["status"].(map[string]any)
	assert.Equal(t, "open", status["session_state"])
	assert.Equal(t, float64(1), status["exchange_count"])

	w, _ = f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "bryn", "text": "I help"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "the left one"})
	require.Equal(t, http.StatusOK, w.Code)
	event := body["event"].(map[string]any)
	assert.Equal(t, "The goblin yelps and flees.", event["outcome"])
	assert.Equal(t, "bryn", body["next_actor"])

	w, body = f.do(t, http.MethodGet, "/adventures/adv-1/events?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["events"], 1)

	w, _ = f.do(t, http.MethodGet, "/adventures/adv-1/events?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/adventures/adv-1/memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "The story so far.", body["story_summary"])
}

func TestActionErrors(t *testing.T) {
	f := newFixture(t)
	f.createParty(t)

	w, _ := f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "bryn", "text": "I go first"})
	assert.Equal(t, http.StatusConflict, w.Code, "stale actor")

	w, _ = f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.dm.ResolveErr = errors.New("overloaded")
	w, _ = f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "I attack"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeniedAction(t *testing.T) {
	f := newFixture(t)
	f.lawyer.Verdict = model.Verdict{Kind: model.VerdictDeny, Reason: "you are not holding a bow"}
	f.createParty(t)

	w, body := f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "I fire my bow"})
	require.Equal(t, http.StatusOK, w.Code)
	denied := body["denied"].(map[string]any)
	assert.Equal(t, "you are not holding a bow", denied["reason"])
	assert.Equal(t, validate.RulesLawyerName, denied["validator"])
	assert.Nil(t, body["event"])
	assert.Equal(t, "arin", body["status"].(map[string]any)["active_actor"])
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.dm.Clarifications = []model.Clarification{agenttest.Ask("Which door?")}
	f.createParty(t)
	f.do(t, http.MethodPost, "/adventures/adv-1/actions", gin.H{"actor_id": "arin", "text": "I open the door"})

	w, _ := f.do(t, http.MethodPost, "/adventures/adv-1/cancel", gin.H{"actor_id": "bryn"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = f.do(t, http.MethodPost, "/adventures/adv-1/cancel", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.do(t, http.MethodPost, "/adventures/adv-1/cancel", gin.H{"actor_id": "arin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", body["session_state"])
}

func TestTickRunsAutopilot(t *testing.T) {
	f := newFixture(t)
	f.createParty(t)

	w, body := f.do(t, http.MethodPost, "/adventures/adv-1/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "arin", body["active_actor"])

	f.clock.Advance(25 * time.Hour)
	w, body = f.do(t, http.MethodPost, "/adventures/adv-1/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bryn", body["active_actor"])

	_, body = f.do(t, http.MethodGet, "/adventures/adv-1/events", nil)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "autopilot", events[0].(map[string]any)["origin"])
	assert.Equal(t, "I keep watch.", events[0].(map[string]any)["action"])
}

func TestMembers(t *testing.T) {
	f := newFixture(t)
	f.createParty(t)

	w, body := f.do(t, http.MethodPost, "/adventures/adv-1/members", gin.H{"name": "Lyra", "kind": "ai", "class": "mage"})
	require.Equal(t, http.StatusCreated, w.Code, body)
	assert.Equal(t, "lyra", body["id"])

	w, _ = f.do(t, http.MethodPost, "/adventures/adv-1/members", gin.H{"name": "Lyra", "kind": "ai", "class": "mage"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = f.do(t, http.MethodDelete, "/adventures/adv-1/members/arin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bryn", body["active_actor"])

	w, _ = f.do(t, http.MethodDelete, "/adventures/adv-1/members/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
