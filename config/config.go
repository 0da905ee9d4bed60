// Package config centralises runtime configuration for portsync services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where portsync operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VenueEndpoints configures the transport endpoints for one venue.
type VenueEndpoints struct {
	RESTBaseURL string `yaml:"restBaseUrl"`
	WSURL       string `yaml:"wsUrl"`
}

// Venues aggregates per-venue endpoint overrides. Empty fields fall back to
// the production endpoints baked into the venue adapters.
type Venues struct {
	OKX       VenueEndpoints `yaml:"okx"`
	BinanceUM VenueEndpoints `yaml:"binanceUm"`
}

// Schedule configures the periodic cycles.
type Schedule struct {
	UpdateInterval Duration `yaml:"updateInterval"`
	ReloadInterval Duration `yaml:"reloadInterval"`
	UpdateTaskID   uint64   `yaml:"updateTaskId"`
	ReloadTaskID   uint64   `yaml:"reloadTaskId"`
}

// BusConfig configures the in-memory event bus.
type BusConfig struct {
	BufferSize    int `yaml:"bufferSize"`
	FanoutWorkers int `yaml:"fanoutWorkers"`
}

// Settings contains the portsync configuration tree loaded from defaults,
// an optional YAML file, and environment overrides.
type Settings struct {
	Environment    Environment `yaml:"environment"`
	RosterPath     string      `yaml:"rosterPath"`
	DatabaseDSN    string      `yaml:"databaseDsn"`
	RefreshWorkers int         `yaml:"refreshWorkers"`
	Venues         Venues      `yaml:"venues"`
	Schedule       Schedule    `yaml:"schedule"`
	Bus            BusConfig   `yaml:"bus"`
}

// Default returns the default portsync configuration.
func Default() Settings {
	return Settings{
		Environment:    EnvProd,
		RosterPath:     "accounts.json",
		DatabaseDSN:    "",
		RefreshWorkers: 4,
		Venues:         Venues{},
		Schedule: Schedule{
			UpdateInterval: Duration(30 * time.Second),
			ReloadInterval: Duration(time.Hour),
			UpdateTaskID:   1,
			ReloadTaskID:   2,
		},
		Bus: BusConfig{BufferSize: 64, FanoutWorkers: 4},
	}
}

// FromEnv loads configuration values from environment variables, overriding
// defaults.
func FromEnv() Settings {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_ROSTER_PATH")); v != "" {
		cfg.RosterPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_DATABASE_URL")); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_REFRESH_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RefreshWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_UPDATE_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Schedule.UpdateInterval = Duration(dur)
		}
	}
	if v := strings.TrimSpace(os.Getenv("PORTSYNC_RELOAD_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Schedule.ReloadInterval = Duration(dur)
		}
	}
	if v := strings.TrimSpace(os.Getenv("OKX_REST_BASE_URL")); v != "" {
		cfg.Venues.OKX.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OKX_WS_PRIVATE_URL")); v != "" {
		cfg.Venues.OKX.WSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_UM_REST_BASE_URL")); v != "" {
		cfg.Venues.BinanceUM.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_UM_WS_BASE_URL")); v != "" {
		cfg.Venues.BinanceUM.WSURL = v
	}
}
