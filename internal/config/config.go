/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config resolves the process-wide configuration (§6) from a
// single YAML document, with struct-tag validation so a misconfigured
// orchestrator fails fast at startup rather than misbehaving at runtime.
package config

import (
	"os"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ClaimConfig governs worker counts and claim-loop limits.
type ClaimConfig struct {
	NumWorkers              int    `yaml:"num_workers" validate:"required,gt=0"`
	MaxIterationsPerFeature int    `yaml:"max_iterations_per_feature" validate:"required,gt=0"`
	MaxCIAttempts           int    `yaml:"max_ci_attempts" validate:"required,gt=0"`
	DefaultBranch           string `yaml:"default_branch" validate:"required"`
	FeatureBranchPrefix     string `yaml:"feature_branch_prefix" validate:"required"`
}

// HeartbeatConfig governs liveness and the stale-claim reaper.
type HeartbeatConfig struct {
	IntervalSeconds            int `yaml:"heartbeat_interval_seconds" validate:"required,gt=0"`
	FreshnessThresholdSeconds  int `yaml:"freshness_threshold_seconds" validate:"required,gt=0"`
	StaleClaimThresholdSeconds int `yaml:"stale_claim_threshold_seconds" validate:"required,gt=0"`
	ReaperIntervalSeconds      int `yaml:"reaper_interval_seconds" validate:"required,gt=0"`
}

func (h HeartbeatConfig) Freshness() time.Duration {
	return time.Duration(h.FreshnessThresholdSeconds) * time.Second
}

func (h HeartbeatConfig) StaleClaimThreshold() time.Duration {
	return time.Duration(h.StaleClaimThresholdSeconds) * time.Second
}

func (h HeartbeatConfig) ReaperInterval() time.Duration {
	return time.Duration(h.ReaperIntervalSeconds) * time.Second
}

func (h HeartbeatConfig) HeartbeatInterval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// BudgetConfig governs the cost ledger and daily cap.
type BudgetConfig struct {
	MaxDailyCost       float64 `yaml:"max_daily_cost" validate:"required,gt=0"`
	CostPerInputToken  float64 `yaml:"cost_per_input_token" validate:"gte=0"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token" validate:"gte=0"`
	CooldownSeconds    int     `yaml:"cooldown_seconds" validate:"required,gt=0"`
}

func (b BudgetConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

// DecisionConfig governs the async decision protocol's defaults.
type DecisionConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" validate:"required,gt=0"`
	PollIntervalSeconds   int `yaml:"poll_interval_seconds" validate:"required,gt=0"`
	CleanupMaxAgeSeconds  int `yaml:"cleanup_max_age_seconds" validate:"required,gt=0"`
}

func (d DecisionConfig) DefaultTimeout() time.Duration {
	return time.Duration(d.DefaultTimeoutSeconds) * time.Second
}

func (d DecisionConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// OrchestratorConfig governs the supervision loop described in §4.9.
type OrchestratorConfig struct {
	SupervisionIntervalSeconds int `yaml:"supervision_interval_seconds" validate:"required,gt=0"`
	WorkerStaggerMillis        int `yaml:"worker_stagger_millis" validate:"gte=0"`
}

func (o OrchestratorConfig) SupervisionInterval() time.Duration {
	return time.Duration(o.SupervisionIntervalSeconds) * time.Second
}

func (o OrchestratorConfig) WorkerStagger() time.Duration {
	return time.Duration(o.WorkerStaggerMillis) * time.Millisecond
}

// PathsConfig locates the on-disk documents (§6).
type PathsConfig struct {
	StatePath     string `yaml:"state_path" validate:"required"`
	CatalogPath   string `yaml:"catalog_path" validate:"required"`
	LedgerPath    string `yaml:"ledger_path" validate:"required"`
	DecisionsPath string `yaml:"decisions_path" validate:"required"`
	LocksPath     string `yaml:"locks_path" validate:"required"`
	HeartbeatPath string `yaml:"heartbeat_path" validate:"required"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// AdminConfig controls the local-only status/metrics HTTP endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// NotifyConfig selects and configures the Notifier implementation.
type NotifyConfig struct {
	Driver       string `yaml:"driver" validate:"required,oneof=noop file slack"`
	FilePath     string `yaml:"file_path,omitempty"`
	SlackToken   string `yaml:"slack_token,omitempty"`
	SlackChannel string `yaml:"slack_channel,omitempty"`
}

// DecisionChannelConfig selects and configures the DecisionChannel
// implementation the orchestrator listens on for answers.
type DecisionChannelConfig struct {
	Driver         string `yaml:"driver" validate:"required,oneof=noop file slack linear"`
	DropDir        string `yaml:"drop_dir,omitempty"`
	SlackToken     string `yaml:"slack_token,omitempty"`
	SlackChannel   string `yaml:"slack_channel,omitempty"`
	LinearAPIKey   string `yaml:"linear_api_key,omitempty"`
	LinearTeamID   string `yaml:"linear_team_id,omitempty"`
	LinearLabel    string `yaml:"linear_label,omitempty"`
	PollIntervalMs int    `yaml:"poll_interval_ms,omitempty"`
}

// BuilderConfig selects and configures the external LLM builder adapter.
type BuilderConfig struct {
	Driver      string  `yaml:"driver" validate:"required,oneof=mock anthropic bedrock"`
	Model       string  `yaml:"model,omitempty"`
	Region      string  `yaml:"region,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// VCSConfig configures the git/PR-hosting collaborator.
type VCSConfig struct {
	RemoteName string `yaml:"remote_name" validate:"required"`
	WorkDir    string `yaml:"work_dir" validate:"required"`
}

// Config is the full process-wide configuration document.
type Config struct {
	Orchestrator     OrchestratorConfig     `yaml:"orchestrator" validate:"required"`
	Claim            ClaimConfig            `yaml:"claim" validate:"required"`
	Heartbeat        HeartbeatConfig        `yaml:"heartbeat" validate:"required"`
	Budget           BudgetConfig           `yaml:"budget" validate:"required"`
	Decision         DecisionConfig         `yaml:"decision" validate:"required"`
	Paths            PathsConfig            `yaml:"paths" validate:"required"`
	Logging          LoggingConfig          `yaml:"logging" validate:"required"`
	Admin            AdminConfig            `yaml:"admin"`
	Notify           NotifyConfig           `yaml:"notify" validate:"required"`
	DecisionChannel  DecisionChannelConfig  `yaml:"decision_channel" validate:"required"`
	Builder          BuilderConfig          `yaml:"builder" validate:"required"`
	VCS              VCSConfig              `yaml:"vcs" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses, and validates the configuration document at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "read config %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "parse config %s", path)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "invalid config %s", path)
	}

	return cfg, nil
}

// Default returns a Config populated with the defaults named in §4 and §5
// of the specification: 10-minute stale-claim threshold, 60-second reaper
// wake, 5-minute budget cooldown, one-hour decision timeout.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			SupervisionIntervalSeconds: 15,
			WorkerStaggerMillis:        250,
		},
		Claim: ClaimConfig{
			NumWorkers:              3,
			MaxIterationsPerFeature: 20,
			MaxCIAttempts:           3,
			DefaultBranch:           "main",
			FeatureBranchPrefix:     "feature",
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds:            30,
			FreshnessThresholdSeconds:  600,
			StaleClaimThresholdSeconds: 600,
			ReaperIntervalSeconds:      60,
		},
		Budget: BudgetConfig{
			MaxDailyCost:       25.0,
			CostPerInputToken:  0,
			CostPerOutputToken: 0,
			CooldownSeconds:    300,
		},
		Decision: DecisionConfig{
			DefaultTimeoutSeconds: 3600,
			PollIntervalSeconds:   2,
			CleanupMaxAgeSeconds:  7 * 24 * 3600,
		},
		Paths: PathsConfig{
			StatePath:     "./.conductor/state.json",
			CatalogPath:   "./.conductor/catalog.yaml",
			LedgerPath:    "./.conductor/ledger.csv",
			DecisionsPath: "./.conductor/decisions",
			LocksPath:     "./.conductor/locks",
			HeartbeatPath: "./.conductor/heartbeats",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		Notify: NotifyConfig{
			Driver: "noop",
		},
		DecisionChannel: DecisionChannelConfig{
			Driver:         "noop",
			PollIntervalMs: 2000,
		},
		Builder: BuilderConfig{
			Driver:      "mock",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		VCS: VCSConfig{
			RemoteName: "origin",
			WorkDir:    ".",
		},
	}
}
