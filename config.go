package entitysync

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime tuning knobs for a server process built on this
// package: tick rates, history retention, a client latency bound, and
// logging. It mirrors
// the teacher corpus's env-tag-driven config structs (see the ws proof of
// concept servers), parsed with the same library.
type Config struct {
	// ServerTickHz is the rate at which ServerSyncer.Tick runs.
	ServerTickHz float64 `env:"ENTITYSYNC_SERVER_TICK_HZ" envDefault:"20"`
	// ClientTickHz is the rate at which ClientSyncer.Tick runs.
	ClientTickHz float64 `env:"ENTITYSYNC_CLIENT_TICK_HZ" envDefault:"60"`
	// HistoryWindow bounds how far back a LagCompensator can resimulate.
	HistoryWindow time.Duration `env:"ENTITYSYNC_HISTORY_WINDOW" envDefault:"1s"`
	// MaxClientLatency is an upper bound on client round trip. It is parsed
	// and validated here only; LagCompensator does not read it, so requests
	// are not rejected by it.
	MaxClientLatency time.Duration `env:"ENTITYSYNC_MAX_CLIENT_LATENCY" envDefault:"500ms"`
	// LogLevel is passed to NewLogger.
	LogLevel string `env:"ENTITYSYNC_LOG_LEVEL" envDefault:"info"`
	// LogFormat selects "json" or "pretty" console output.
	LogFormat string `env:"ENTITYSYNC_LOG_FORMAT" envDefault:"json"`
}

// LoadConfig parses Config from the process environment, applying defaults
// for anything unset, then validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("entitysync: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("entitysync: invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded config for values that would misconfigure the
// sync loop rather than merely look unusual.
func (c Config) Validate() error {
	if c.ServerTickHz <= 0 {
		return fmt.Errorf("ENTITYSYNC_SERVER_TICK_HZ must be > 0, got %v", c.ServerTickHz)
	}
	if c.ClientTickHz <= 0 {
		return fmt.Errorf("ENTITYSYNC_CLIENT_TICK_HZ must be > 0, got %v", c.ClientTickHz)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("ENTITYSYNC_HISTORY_WINDOW must be > 0, got %v", c.HistoryWindow)
	}
	if c.MaxClientLatency < 0 {
		return fmt.Errorf("ENTITYSYNC_MAX_CLIENT_LATENCY must be >= 0, got %v", c.MaxClientLatency)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("ENTITYSYNC_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("ENTITYSYNC_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}

// ServerInterval converts ServerTickHz into the Interval the ServerSyncer expects.
func (c Config) ServerInterval() Interval { return FromHz(c.ServerTickHz) }

// ClientInterval converts ClientTickHz into the Interval the ClientSyncer expects.
func (c Config) ClientInterval() Interval { return FromHz(c.ClientTickHz) }

// HistoryWindowMs converts HistoryWindow into the millisecond form History expects.
func (c Config) HistoryWindowMs() int64 { return c.HistoryWindow.Milliseconds() }
