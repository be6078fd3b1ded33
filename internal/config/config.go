package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// AgentConfig defines how to launch one command-backed participant
// process. The map key in Config.Agents is the role name, e.g.
// "design_main" or "test_reviewer".
type AgentConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath           string                 `json:"db_path"`
	ListenAddr       string                 `json:"listen_addr"`
	LogPath          string                 `json:"log_path"`
	Agents           map[string]AgentConfig `json:"agents"`
	MaxIterations    int                    `json:"max_iterations"`
	CallTimeoutSec   int                    `json:"call_timeout_sec"`
	ExhaustedPolicy  string                 `json:"exhausted_policy"`
	RecordTTLHours   int                    `json:"record_ttl_hours"`
	HistoryCapacity  int                    `json:"history_capacity"`
	SweepIntervalSec int                    `json:"sweep_interval_sec"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is found.
// It carries no agent commands; missing roles fall back to scripted
// participants at wiring time.
func Default() *Config {
	cfg := &Config{DBPath: "team-ai.db"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9700"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.CallTimeoutSec == 0 {
		c.CallTimeoutSec = 300
	}
	if c.ExhaustedPolicy == "" {
		c.ExhaustedPolicy = "fail"
	}
	if c.RecordTTLHours == 0 {
		c.RecordTTLHours = 24
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = 1000
	}
	if c.SweepIntervalSec == 0 {
		c.SweepIntervalSec = 300
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.MaxIterations < 1 {
		problems = append(problems, "max_iterations must be at least 1")
	}
	if c.CallTimeoutSec < 0 {
		problems = append(problems, "call_timeout_sec must not be negative")
	}
	if c.ExhaustedPolicy != "fail" && c.ExhaustedPolicy != "proceed" {
		problems = append(problems, fmt.Sprintf("exhausted_policy %q must be fail or proceed", c.ExhaustedPolicy))
	}
	if c.RecordTTLHours < 1 {
		problems = append(problems, "record_ttl_hours must be at least 1")
	}
	for role, ac := range c.Agents {
		if _, _, err := agent.ResolveRole(agent.Role(role)); err != nil {
			problems = append(problems, fmt.Sprintf("unknown agent role %q", role))
			continue
		}
		if ac.Command == "" {
			problems = append(problems, fmt.Sprintf("agent %q has no command", role))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
