package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the YAML file at
// path when one is given, then environment overrides on top.
func Load(path string) (Settings, error) {
	cfg := Default()

	if trimmed := strings.TrimSpace(path); trimmed != "" {
		content, err := os.ReadFile(trimmed)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", trimmed, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config file %s: %w", trimmed, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate checks the settings for values the process cannot start with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.RosterPath) == "" {
		return fmt.Errorf("roster path required")
	}
	if s.Schedule.UpdateInterval <= 0 || s.Schedule.ReloadInterval <= 0 {
		return fmt.Errorf("schedule intervals must be positive")
	}
	if s.Schedule.UpdateTaskID == 0 || s.Schedule.ReloadTaskID == 0 {
		return fmt.Errorf("schedule task ids must be non-zero")
	}
	if s.Schedule.UpdateTaskID == s.Schedule.ReloadTaskID {
		return fmt.Errorf("update and reload task ids must differ")
	}
	return nil
}
