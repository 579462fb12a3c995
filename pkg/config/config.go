// Package config loads submon settings. Precedence, lowest first:
// built-in defaults, config.toml in the data dir, the data dir's .env file,
// then SUBMON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads and writes as a string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TrackerConfig configures the active invocation registry.
type TrackerConfig struct {
	Staleness   Duration `toml:"staleness"`    // entries older than this are reaped
	LockTimeout Duration `toml:"lock_timeout"` // bounded lock acquisition
}

// DetectorConfig configures worker detection.
type DetectorConfig struct {
	TimingEpsilon   Duration `toml:"timing_epsilon"`
	ConfidenceFloor float64  `toml:"confidence_floor"` // below this a detection is flagged low confidence
}

// CorrelationConfig configures the context correlation store.
type CorrelationConfig struct {
	TTL          Duration `toml:"ttl"` // "0s" disables lookups: every record is already expired
	PurgeAfter   Duration `toml:"purge_after"`
	ToolPrefixes []string `toml:"tool_prefixes"` // tool names the pre-call hook publishes for
}

// ServiceTTL is TTL in the form correlation.Options expects, where zero
// selects the built-in default and a negative value means "expire at
// once". The default is already resolved by Default, so a configured zero
// maps to the latter.
func (c CorrelationConfig) ServiceTTL() time.Duration {
	if c.TTL.Duration <= 0 {
		return -1
	}
	return c.TTL.Duration
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
}

// AgentsConfig lists directories holding worker definitions.
type AgentsConfig struct {
	Dirs []string `toml:"dirs"`
}

// HookConfig configures the hook process.
type HookConfig struct {
	Summary bool `toml:"summary"` // attach a stats summary to the stop hook response
}

// Config is the full submon configuration.
type Config struct {
	Tracker     TrackerConfig     `toml:"tracker"`
	Detector    DetectorConfig    `toml:"detector"`
	Correlation CorrelationConfig `toml:"correlation"`
	Log         LogConfig         `toml:"log"`
	Agents      AgentsConfig      `toml:"agents"`
	Hook        HookConfig        `toml:"hook"`

	Paths *Paths `toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			Staleness:   Duration{time.Hour},
			LockTimeout: Duration{500 * time.Millisecond},
		},
		Detector: DetectorConfig{
			TimingEpsilon:   Duration{2 * time.Second},
			ConfidenceFloor: 0.7,
		},
		Correlation: CorrelationConfig{
			TTL:          Duration{5 * time.Second},
			PurgeAfter:   Duration{time.Minute},
			ToolPrefixes: []string{"mcp__"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Agents: AgentsConfig{
			Dirs: defaultAgentDirs(),
		},
	}
}

// Load resolves paths and builds the effective configuration. A missing
// config.toml or .env is not an error; a malformed one is.
func Load() (*Config, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(paths.EnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", paths.EnvPath, err)
	}

	// .env may have set path overrides.
	paths, err = ResolvePaths()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.Paths = paths

	if err := cfg.readFile(paths.ConfigPath); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile overlays the TOML file at path onto cfg.
func (c *Config) readFile(path string) error {
	//nolint:gosec // path comes from ResolvePaths
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays SUBMON_* variables.
func (c *Config) applyEnv() error {
	durations := []struct {
		key string
		dst *Duration
	}{
		{"SUBMON_STALENESS", &c.Tracker.Staleness},
		{"SUBMON_LOCK_TIMEOUT", &c.Tracker.LockTimeout},
		{"SUBMON_TIMING_EPSILON", &c.Detector.TimingEpsilon},
		{"SUBMON_CORRELATION_TTL", &c.Correlation.TTL},
		{"SUBMON_PURGE_AFTER", &c.Correlation.PurgeAfter},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if v := os.Getenv("SUBMON_CONFIDENCE_FLOOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SUBMON_CONFIDENCE_FLOOR: %w", err)
		}
		c.Detector.ConfidenceFloor = f
	}
	if v := os.Getenv("SUBMON_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SUBMON_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("SUBMON_AGENT_DIRS"); v != "" {
		c.Agents.Dirs = filepath.SplitList(v)
	}
	if v := os.Getenv("SUBMON_TOOL_PREFIXES"); v != "" {
		c.Correlation.ToolPrefixes = strings.Split(v, ",")
	}
	if v := os.Getenv("SUBMON_HOOK_SUMMARY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SUBMON_HOOK_SUMMARY: %w", err)
		}
		c.Hook.Summary = b
	}
	return nil
}

// Encode renders cfg as TOML, for `submon init`.
func (c *Config) Encode() ([]byte, error) {
	out, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// defaultAgentDirs returns the user-level and project-level worker
// definition directories.
func defaultAgentDirs() []string {
	dirs := []string{filepath.Join(".claude", "agents")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, ".claude", "agents")}, dirs...)
	}
	return dirs
}
