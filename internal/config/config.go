// Package config loads MI runtime configuration from $MI_HOME/config.json.
// JSON is the canonical format; a .yaml/.yml path is accepted for hand-written
// configs. Environment variables override a small set of fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all MI configuration.
type Config struct {
	Hands      HandsConfig      `yaml:"hands" json:"hands"`
	Mind       MindConfig       `yaml:"mind" json:"mind"`
	Run        RunConfig        `yaml:"run" json:"run"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Violation  ViolationConfig  `yaml:"violation_response" json:"violation_response"`
	LearnUpdate LearnUpdateConfig `yaml:"learn_update" json:"learn_update"`
	WhyTrace   WhyTraceConfig   `yaml:"why_trace" json:"why_trace"`
	Memory     MemoryConfig     `yaml:"memory" json:"memory"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// HandsConfig configures the Hands subprocess provider.
type HandsConfig struct {
	Provider string `yaml:"provider" json:"provider"` // codex, cli

	// codex provider
	Binary string `yaml:"binary" json:"binary"`

	// cli provider: argv template with {project_root}, {thread_id}, {prompt}
	Argv          []string `yaml:"argv" json:"argv"`
	ResumeArgv    []string `yaml:"resume_argv" json:"resume_argv"`
	PromptMode    string   `yaml:"prompt_mode" json:"prompt_mode"` // stdin, arg
	ThreadIDRegex string   `yaml:"thread_id_regex" json:"thread_id_regex"`

	Interrupt InterruptConfig `yaml:"interrupt" json:"interrupt"`
}

// Interrupt modes.
const (
	InterruptOff           = "off"
	InterruptOnHighRisk    = "on_high_risk"
	InterruptOnAnyExternal = "on_any_external"
)

// InterruptConfig configures signal escalation against the Hands child.
type InterruptConfig struct {
	Mode           string   `yaml:"mode" json:"mode"`
	SignalSequence []string `yaml:"signal_sequence" json:"signal_sequence"`
	EscalationMs   []int    `yaml:"escalation_ms" json:"escalation_ms"`
}

// MindConfig configures the structured-output Mind provider.
type MindConfig struct {
	Provider   string  `yaml:"provider" json:"provider"` // codex_schema, openai_compatible, anthropic
	Model      string  `yaml:"model" json:"model"`
	BaseURL    string  `yaml:"base_url" json:"base_url"`
	APIKeyEnv  string  `yaml:"api_key_env" json:"api_key_env"`
	TimeoutS   int     `yaml:"timeout_s" json:"timeout_s"`
	MaxRetries int     `yaml:"max_retries" json:"max_retries"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// APIKey resolves the provider API key from the configured env var, falling
// back to the conventional variable for the provider.
func (m MindConfig) APIKey() string {
	if m.APIKeyEnv != "" {
		return os.Getenv(m.APIKeyEnv)
	}
	switch m.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// RunConfig configures the batch loop.
type RunConfig struct {
	MaxBatches       int  `yaml:"max_batches" json:"max_batches"`
	ContinueHands    bool `yaml:"continue_hands" json:"continue_hands"`
	ResetHands       bool `yaml:"reset_hands" json:"reset_hands"`
	AskWhenUncertain bool `yaml:"ask_when_uncertain" json:"ask_when_uncertain"`
	RefactorIntent   string `yaml:"refactor_intent" json:"refactor_intent"`
}

// CheckpointConfig configures the segment buffer and mining features.
type CheckpointConfig struct {
	SegmentMaxRecords        int  `yaml:"segment_max_records" json:"segment_max_records"`
	WfAutoMine               bool `yaml:"wf_auto_mine" json:"wf_auto_mine"`
	PrefAutoMine             bool `yaml:"pref_auto_mine" json:"pref_auto_mine"`
	TdbAutoMine              bool `yaml:"tdb_auto_mine" json:"tdb_auto_mine"`
	TdbAutoNodes             bool `yaml:"tdb_auto_nodes" json:"tdb_auto_nodes"`
	MinOccurrences           int  `yaml:"min_occurrences" json:"min_occurrences"`
	AllowSingleIfHighBenefit bool `yaml:"allow_single_if_high_benefit" json:"allow_single_if_high_benefit"`
	MinConfidence            float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxClaims                int  `yaml:"max_claims" json:"max_claims"`
}

// MiningEnabled reports whether any mining feature is on. The checkpoint
// pipeline is skipped entirely when nothing would fire.
func (c CheckpointConfig) MiningEnabled() bool {
	return c.WfAutoMine || c.PrefAutoMine || c.TdbAutoMine || c.TdbAutoNodes
}

// ViolationConfig controls risk-event handling.
type ViolationConfig struct {
	Mode      string `yaml:"mode" json:"mode"` // ask, continue
	AutoLearn bool   `yaml:"auto_learn" json:"auto_learn"`
}

// LearnUpdateConfig bounds the run-end consolidation patch.
type LearnUpdateConfig struct {
	MinNewSuggestionsPerRun int     `yaml:"min_new_suggestions_per_run" json:"min_new_suggestions_per_run"`
	MinActiveLearnedClaims  int     `yaml:"min_active_learned_claims" json:"min_active_learned_claims"`
	MaxClaims               int     `yaml:"max_claims" json:"max_claims"`
	MaxRetracts             int     `yaml:"max_retracts" json:"max_retracts"`
	MinConfidence           float64 `yaml:"min_confidence" json:"min_confidence"`
}

// WhyTraceConfig configures the opt-in end-of-run why-trace.
type WhyTraceConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	TopK          int     `yaml:"top_k" json:"top_k"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	WriteEdges    bool    `yaml:"write_edges" json:"write_edges"`
}

// MemoryConfig selects the cross-project memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend" json:"backend"` // sqlite_fts, in_memory
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Hands: HandsConfig{
			Provider:   "codex",
			Binary:     "codex",
			PromptMode: "stdin",
			Interrupt: InterruptConfig{
				Mode:           InterruptOff,
				SignalSequence: []string{"SIGINT", "SIGINT", "SIGTERM", "SIGKILL"},
				EscalationMs:   []int{2000, 5000, 10000},
			},
		},
		Mind: MindConfig{
			Provider:    "codex_schema",
			TimeoutS:    60,
			MaxRetries:  2,
			Temperature: 0.1,
		},
		Run: RunConfig{
			MaxBatches:       20,
			AskWhenUncertain: true,
		},
		Checkpoint: CheckpointConfig{
			SegmentMaxRecords: 40,
			WfAutoMine:        true,
			PrefAutoMine:      true,
			TdbAutoMine:       true,
			TdbAutoNodes:      true,
			MinOccurrences:    2,
			MinConfidence:     0.6,
			MaxClaims:         8,
		},
		Violation: ViolationConfig{Mode: "ask", AutoLearn: false},
		LearnUpdate: LearnUpdateConfig{
			MinNewSuggestionsPerRun: 2,
			MinActiveLearnedClaims:  1,
			MaxClaims:               6,
			MaxRetracts:             3,
			MinConfidence:           0.7,
		},
		WhyTrace: WhyTraceConfig{TopK: 8, MinConfidence: 0.6},
		Memory:   MemoryConfig{Backend: "sqlite_fts"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// MIHome resolves the MI home directory: $MI_HOME or ~/.mind-incarnation.
func MIHome() string {
	if h := os.Getenv("MI_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mind-incarnation"
	}
	return filepath.Join(home, ".mind-incarnation")
}

// DefaultConfigPath returns $MI_HOME/config.json.
func DefaultConfigPath() string {
	return filepath.Join(MIHome(), "config.json")
}

// Load reads config from path, merging over defaults. A missing file yields
// the defaults without error; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies the documented environment overrides.
func applyEnvOverrides(cfg *Config) {
	if b := os.Getenv("MI_MEMORY_BACKEND"); b != "" {
		cfg.Memory.Backend = b
	}
}

// ProjectRoot resolves the working project root: explicit flag, then
// MI_PROJECT_ROOT, then the current directory.
func ProjectRoot(flag string) (string, error) {
	root := flag
	if root == "" {
		root = os.Getenv("MI_PROJECT_ROOT")
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	return abs, nil
}
