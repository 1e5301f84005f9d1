// Package config loads the server's TOML configuration.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"msls/internal/core/errors"
)

type Config struct {
	SearchPaths []string  `toml:"search_paths"`
	Exclude     Exclude   `toml:"exclude"`
	Analysis    Analysis  `toml:"analysis"`
	Engine      Engine    `toml:"engine"`
	Watch       Watch     `toml:"watch"`
	Server      Server    `toml:"server"`
	Telemetry   Telemetry `toml:"telemetry"`
	Log         Log       `toml:"log"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Paths []string `toml:"paths"`
}

type Analysis struct {
	Debounce      time.Duration `toml:"debounce"`
	Timeout       time.Duration `toml:"timeout"`
	Workers       int           `toml:"workers"`
	CacheCapacity int           `toml:"cache_capacity"`
}

type Engine struct {
	// RatePerSecond caps engine calls across all workers; Burst allows short
	// spikes after idle periods.
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

type Watch struct {
	Enabled  bool          `toml:"enabled"`
	Debounce time.Duration `toml:"debounce"`
}

type Server struct {
	// TCPAddr switches the LSP transport from stdio to a TCP listener.
	TCPAddr string `toml:"tcp_addr"`
	// DiagnosticEndExclusive publishes ranges ending one past the last byte.
	DiagnosticEndExclusive bool `toml:"diagnostic_end_exclusive"`
}

type Telemetry struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SearchPaths: []string{"."},
		Analysis: Analysis{
			Debounce:      200 * time.Millisecond,
			Timeout:       10 * time.Second,
			Workers:       4,
			CacheCapacity: 512,
		},
		Engine: Engine{
			RatePerSecond: 50,
			Burst:         10,
		},
		Watch: Watch{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
		Server: Server{
			DiagnosticEndExclusive: true,
		},
		Log: Log{
			Verbosity: 1,
		},
	}
}

// Load reads a TOML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNotFound, "read config file")
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "parse config file")
	}

	// toml.Decode overwrites whole values; booleans that default to true need
	// the metadata check to distinguish "absent" from "false".
	if !md.IsDefined("server", "diagnostic_end_exclusive") {
		cfg.Server.DiagnosticEndExclusive = true
	}
	if !md.IsDefined("watch", "enabled") {
		cfg.Watch.Enabled = true
	}

	applyFloors(cfg)
	return cfg, nil
}

func applyFloors(cfg *Config) {
	if cfg.Analysis.Debounce <= 0 {
		cfg.Analysis.Debounce = 200 * time.Millisecond
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = 10 * time.Second
	}
	if cfg.Analysis.Workers <= 0 {
		cfg.Analysis.Workers = 4
	}
	if cfg.Analysis.CacheCapacity <= 0 {
		cfg.Analysis.CacheCapacity = 512
	}
	if cfg.Engine.RatePerSecond <= 0 {
		cfg.Engine.RatePerSecond = 50
	}
	if cfg.Engine.Burst <= 0 {
		cfg.Engine.Burst = 10
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if len(cfg.SearchPaths) == 0 {
		cfg.SearchPaths = []string{"."}
	}
}
