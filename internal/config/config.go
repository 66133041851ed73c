package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable the daemon reads at startup. Values come from
// the YAML config file, then ISYNC_* environment variables on top.
type Config struct {
	Bind       string
	CORSOrigin string
	TrustProxy bool
	LogLevel   zerolog.Level

	EtcDir   string
	StateDir string

	// Job polling budget. The ceiling PollInterval*PollMaxAttempts bounds how
	// long any caller waits on a job before PollTimeout.
	PollInterval    time.Duration
	PollMaxAttempts int

	// Delay between an outlet action reaching a terminal state and the
	// follow-up status refresh, so the PDU can report the new reality.
	OutletSettleDelay time.Duration

	ExecutorSocket string

	MetricsEnabled bool
	PprofEnabled   bool
}

type fileConfig struct {
	HTTP struct {
		Bind string `yaml:"bind"`
	} `yaml:"http"`
	CORS struct {
		Origin string `yaml:"origin"`
	} `yaml:"cors"`
	TrustProxy bool `yaml:"trustProxy"`
	Logging    struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Paths struct {
		Etc   string `yaml:"etc"`
		State string `yaml:"state"`
	} `yaml:"paths"`
	Jobs struct {
		PollInterval    string `yaml:"pollInterval"`
		PollMaxAttempts int    `yaml:"pollMaxAttempts"`
	} `yaml:"jobs"`
	Power struct {
		SettleDelay string `yaml:"settleDelay"`
	} `yaml:"power"`
	Executor struct {
		Socket string `yaml:"socket"`
	} `yaml:"executor"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
		Pprof   *bool `yaml:"pprof"`
	} `yaml:"metrics"`
}

// Defaults returns the built-in configuration the daemon runs with when no
// file and no environment overrides are present.
func Defaults() Config {
	return Config{
		Bind:              "127.0.0.1:9090",
		CORSOrigin:        "",
		TrustProxy:        false,
		LogLevel:          zerolog.InfoLevel,
		EtcDir:            "/etc/isync",
		StateDir:          "/var/lib/isync",
		PollInterval:      2 * time.Second,
		PollMaxAttempts:   30,
		OutletSettleDelay: 2500 * time.Millisecond,
		ExecutorSocket:    "/run/isync-executor.sock",
		MetricsEnabled:    true,
		PprofEnabled:      false,
	}
}

// Load reads the YAML config at path (missing file is fine) and applies
// environment overrides. It never fails: bad values fall back to defaults so
// the daemon always comes up.
func Load(path string) Config {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err == nil {
				applyFile(&cfg, fc)
			}
		}
	}
	applyEnv(&cfg)
	return cfg
}

// FromEnv builds a Config from defaults plus environment only.
func FromEnv() Config { return Load(os.Getenv("ISYNC_CONFIG")) }

func applyFile(cfg *Config, fc fileConfig) {
	if fc.HTTP.Bind != "" {
		cfg.Bind = fc.HTTP.Bind
	}
	if fc.CORS.Origin != "" {
		cfg.CORSOrigin = fc.CORS.Origin
	}
	cfg.TrustProxy = fc.TrustProxy
	if fc.Logging.Level != "" {
		if l, err := zerolog.ParseLevel(fc.Logging.Level); err == nil {
			cfg.LogLevel = l
		}
	}
	if fc.Paths.Etc != "" {
		cfg.EtcDir = fc.Paths.Etc
	}
	if fc.Paths.State != "" {
		cfg.StateDir = fc.Paths.State
	}
	if fc.Jobs.PollInterval != "" {
		if d, err := time.ParseDuration(fc.Jobs.PollInterval); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if fc.Jobs.PollMaxAttempts > 0 {
		cfg.PollMaxAttempts = fc.Jobs.PollMaxAttempts
	}
	if fc.Power.SettleDelay != "" {
		if d, err := time.ParseDuration(fc.Power.SettleDelay); err == nil && d >= 0 {
			cfg.OutletSettleDelay = d
		}
	}
	if fc.Executor.Socket != "" {
		cfg.ExecutorSocket = fc.Executor.Socket
	}
	if fc.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *fc.Metrics.Enabled
	}
	if fc.Metrics.Pprof != nil {
		cfg.PprofEnabled = *fc.Metrics.Pprof
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ISYNC_HTTP_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("ISYNC_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("ISYNC_TRUST_PROXY"); v != "" {
		cfg.TrustProxy = parseBool(v, cfg.TrustProxy)
	}
	if v := os.Getenv("ISYNC_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = l
		}
	}
	if v := os.Getenv("ISYNC_ETC_DIR"); v != "" {
		cfg.EtcDir = v
	}
	if v := os.Getenv("ISYNC_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("ISYNC_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("ISYNC_POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollMaxAttempts = n
		}
	}
	if v := os.Getenv("ISYNC_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.OutletSettleDelay = d
		}
	}
	if v := os.Getenv("ISYNC_EXECUTOR_SOCKET"); v != "" {
		cfg.ExecutorSocket = v
	}
	if v := os.Getenv("ISYNC_METRICS"); v != "" {
		cfg.MetricsEnabled = parseBool(v, cfg.MetricsEnabled)
	}
	if v := os.Getenv("ISYNC_PPROF"); v != "" {
		cfg.PprofEnabled = parseBool(v, cfg.PprofEnabled)
	}
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// JobStorePath is where the sqlite job store lives.
func (c Config) JobStorePath() string { return filepath.Join(c.StateDir, "jobs.db") }

// InventoryDir holds the JSON inventory stores (devices, clusters, outlets).
func (c Config) InventoryDir() string { return filepath.Join(c.StateDir, "inventory") }

// SchedulesPath is the state file holding recurring job schedules. It lives
// under state, not etc, because firings stamp run history onto the rows.
func (c Config) SchedulesPath() string { return filepath.Join(c.StateDir, "schedules.json") }
