package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Duration decodes "24h" style strings from both TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type LLMConfig struct {
	Provider       string `toml:"provider" env:"PROVIDER"`
	Model          string `toml:"model" env:"MODEL"`
	EmbeddingModel string `toml:"embedding_model" env:"EMBEDDING_MODEL"`
	APIKey         string `toml:"api_key" env:"API_KEY"`
	BaseURL        string `toml:"base_url" env:"BASE_URL"`
	MaxTokens      int    `toml:"max_tokens" env:"MAX_TOKENS"`
}

// AgentsConfig lets each agent role use its own provider or model. Empty
// fields inherit from the top-level [llm] table.
type AgentsConfig struct {
	DM        LLMConfig `toml:"dm" envPrefix:"TAVERN_DM_"`
	Validator LLMConfig `toml:"validator" envPrefix:"TAVERN_VALIDATOR_"`
	Compactor LLMConfig `toml:"compactor" envPrefix:"TAVERN_COMPACTOR_"`
	Player    LLMConfig `toml:"player" envPrefix:"TAVERN_PLAYER_"`
}

type StorageConfig struct {
	Backend string `toml:"backend" env:"TAVERN_STORAGE_BACKEND"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri" env:"MEMGRAPH_URI"`
	User     string `toml:"user" env:"MEMGRAPH_USER"`
	Password string `toml:"password" env:"MEMGRAPH_PASSWORD"`
}

type SQLiteConfig struct {
	Path string `toml:"path" env:"TAVERN_SQLITE_PATH"`
}

type ServerConfig struct {
	Addr string `toml:"addr" env:"TAVERN_ADDR"`
	Mode string `toml:"mode" env:"GIN_MODE"`
}

type TurnsConfig struct {
	HumanTimeout     Duration `toml:"human_timeout" env:"TAVERN_HUMAN_TIMEOUT"`
	AIPacingDelay    Duration `toml:"ai_pacing_delay" env:"TAVERN_AI_PACING_DELAY"`
	AIRetryDelay     Duration `toml:"ai_retry_delay"`
	MaxConsecutiveAI int      `toml:"max_consecutive_ai"`
	// TimeoutPolicy is "autopilot" or "skip".
	TimeoutPolicy string `toml:"timeout_policy" env:"TAVERN_TIMEOUT_POLICY"`
}

type DialogueConfig struct {
	HumanMaxExchanges int      `toml:"human_max_exchanges"`
	AIMaxExchanges    int      `toml:"ai_max_exchanges"`
	AISessionCeiling  Duration `toml:"ai_session_ceiling"`
	// ForcedFallback is "narrative_only" or "best_effort".
	ForcedFallback string   `toml:"forced_fallback"`
	SafeAction     string   `toml:"safe_action"`
	DedupeWindow   Duration `toml:"dedupe_window"`
}

type ResolverConfig struct {
	MaxToolRounds int      `toml:"max_tool_rounds"`
	RetryBackoff  Duration `toml:"retry_backoff"`
	EnforceDice   bool     `toml:"enforce_dice"`
	RecentEvents  int      `toml:"recent_events"`
}

type MemoryConfig struct {
	MaxSummaryChars int `toml:"max_summary_chars"`
}

type CampaignsConfig struct {
	Dir     string `toml:"dir" env:"TAVERN_CAMPAIGN_DIR"`
	Default string `toml:"default"`
}

// PromptsConfig holds text/template sources. Empty entries use the built-in prompts.
type PromptsConfig struct {
	DMClarify    string `toml:"dm_clarify"`
	DMResolve    string `toml:"dm_resolve"`
	RulesLawyer  string `toml:"rules_lawyer"`
	SpellChecker string `toml:"spell_checker"`
	Summary      string `toml:"summary"`
	PlayerAction string `toml:"player_action"`
	PlayerAnswer string `toml:"player_answer"`
}

type LoggingConfig struct {
	Level       string `toml:"level" env:"TAVERN_LOG_LEVEL"`
	Development bool   `toml:"development" env:"TAVERN_LOG_DEV"`
}

type Config struct {
	LLM       LLMConfig       `toml:"llm" envPrefix:"TAVERN_LLM_"`
	Agents    AgentsConfig    `toml:"agents"`
	Storage   StorageConfig   `toml:"storage"`
	Memgraph  MemgraphConfig  `toml:"memgraph"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Server    ServerConfig    `toml:"server"`
	Turns     TurnsConfig     `toml:"turns"`
	Dialogue  DialogueConfig  `toml:"dialogue"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Memory    MemoryConfig    `toml:"memory"`
	Campaigns CampaignsConfig `toml:"campaigns"`
	Prompts   PromptsConfig   `toml:"prompts"`
	Logging   LoggingConfig   `toml:"logging"`
}

const (
	PolicyAutopilot = "autopilot"
	PolicySkip      = "skip"

	FallbackNarrativeOnly = "narrative_only"
	FallbackBestEffort    = "best_effort"

	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMemgraph = "memgraph"
)

// Default returns a complete configuration; an empty TOML file is valid.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     "gpt-oss:latest",
			BaseURL:   "http://localhost:11434",
			MaxTokens: 1000,
		},
		Storage:  StorageConfig{Backend: BackendSQLite},
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		SQLite:   SQLiteConfig{Path: "tavern.db"},
		Server:   ServerConfig{Addr: ":8080", Mode: "release"},
		Turns: TurnsConfig{
			HumanTimeout:     Duration{24 * time.Hour},
			AIPacingDelay:    Duration{5 * time.Second},
			AIRetryDelay:     Duration{time.Minute},
			MaxConsecutiveAI: 8,
			TimeoutPolicy:    PolicyAutopilot,
		},
		Dialogue: DialogueConfig{
			HumanMaxExchanges: 25,
			AIMaxExchanges:    3,
			AISessionCeiling:  Duration{2 * time.Minute},
			ForcedFallback:    FallbackNarrativeOnly,
			SafeAction:        "I wait and observe my surroundings.",
			DedupeWindow:      Duration{30 * time.Second},
		},
		Resolver: ResolverConfig{
			MaxToolRounds: 6,
			RetryBackoff:  Duration{500 * time.Millisecond},
			EnforceDice:   true,
			RecentEvents:  15,
		},
		Memory:    MemoryConfig{MaxSummaryChars: 4000},
		Campaigns: CampaignsConfig{Dir: "campaigns", Default: "goblin_caves"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load overlays the TOML file at path onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields that have their environment variable set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// AgentLLM resolves the LLM settings for one agent role.
func (c *Config) AgentLLM(role string) LLMConfig {
	var override LLMConfig
	switch role {
	case "dm":
		override = c.Agents.DM
	case "validator":
		override = c.Agents.Validator
	case "compactor":
		override = c.Agents.Compactor
	case "player":
		override = c.Agents.Player
	}
	out := c.LLM
	if override.Provider != "" {
		out.Provider = override.Provider
		// a different provider never shares the base credentials
		out.APIKey = override.APIKey
		out.BaseURL = override.BaseURL
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.EmbeddingModel != "" {
		out.EmbeddingModel = override.EmbeddingModel
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.MaxTokens > 0 {
		out.MaxTokens = override.MaxTokens
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Turns.HumanTimeout.Duration <= 0 {
		errs = append(errs, errors.New("turns.human_timeout must be positive"))
	}
	if c.Turns.AIPacingDelay.Duration < 0 {
		errs = append(errs, errors.New("turns.ai_pacing_delay must not be negative"))
	}
	if c.Turns.AIRetryDelay.Duration <= 0 {
		errs = append(errs, errors.New("turns.ai_retry_delay must be positive"))
	}
	if c.Turns.MaxConsecutiveAI <= 0 {
		errs = append(errs, errors.New("turns.max_consecutive_ai must be positive"))
	}
	switch c.Turns.TimeoutPolicy {
	case PolicyAutopilot, PolicySkip:
	default:
		errs = append(errs, fmt.Errorf("turns.timeout_policy %q is not one of autopilot, skip", c.Turns.TimeoutPolicy))
	}
	if c.Dialogue.AIMaxExchanges <= 0 {
		errs = append(errs, errors.New("dialogue.ai_max_exchanges must be positive"))
	}
	if c.Dialogue.HumanMaxExchanges <= c.Dialogue.AIMaxExchanges {
		errs = append(errs, errors.New("dialogue.human_max_exchanges must be greater than dialogue.ai_max_exchanges"))
	}
	if c.Dialogue.AISessionCeiling.Duration <= 0 {
		errs = append(errs, errors.New("dialogue.ai_session_ceiling must be positive"))
	}
	switch c.Dialogue.ForcedFallback {
	case FallbackNarrativeOnly, FallbackBestEffort:
	default:
		errs = append(errs, fmt.Errorf("dialogue.forced_fallback %q is not one of narrative_only, best_effort", c.Dialogue.ForcedFallback))
	}
	if strings.TrimSpace(c.Dialogue.SafeAction) == "" {
		errs = append(errs, errors.New("dialogue.safe_action must not be empty"))
	}
	if c.Resolver.MaxToolRounds <= 0 {
		errs = append(errs, errors.New("resolver.max_tool_rounds must be positive"))
	}
	if c.Resolver.RecentEvents <= 0 {
		errs = append(errs, errors.New("resolver.recent_events must be positive"))
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendMemgraph:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, sqlite, memgraph", c.Storage.Backend))
	}
	return errors.Join(errs...)
}
