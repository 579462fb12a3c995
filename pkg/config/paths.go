package config

import (
	"fmt"
	"os"
	"path/filepath"

	"submon/pkg/protocol"
)

// Paths holds all resolved submon state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home         string // ~/.claude/subagent-monitor/data or SUBMON_HOME
	DBPath       string // submon.db or SUBMON_DB_PATH
	RegistryPath string // active_invocations.json or SUBMON_REGISTRY_PATH
	LogPath      string // submon.log or SUBMON_LOG_PATH
	ConfigPath   string // config.toml or SUBMON_CONFIG
	EnvPath      string // .env (always under Home)
}

// ResolvePaths returns all submon paths, respecting env var overrides.
// Environment variables:
//   - SUBMON_HOME: base directory for all submon state (default: ~/.claude/subagent-monitor/data)
//   - SUBMON_DB_PATH: SQLite database (default: $SUBMON_HOME/submon.db)
//   - SUBMON_REGISTRY_PATH: active invocation registry (default: $SUBMON_HOME/active_invocations.json)
//   - SUBMON_LOG_PATH: hook log file (default: $SUBMON_HOME/submon.log)
//   - SUBMON_CONFIG: TOML config file (default: $SUBMON_HOME/config.toml)
//
// Specific env vars override both the default and the SUBMON_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:         home,
		DBPath:       resolvePathWithEnv("SUBMON_DB_PATH", home, protocol.DBFile),
		RegistryPath: resolvePathWithEnv("SUBMON_REGISTRY_PATH", home, protocol.RegistryFile),
		LogPath:      resolvePathWithEnv("SUBMON_LOG_PATH", home, protocol.LogFile),
		ConfigPath:   resolvePathWithEnv("SUBMON_CONFIG", home, protocol.ConfigFile),
		EnvPath:      filepath.Join(home, protocol.EnvFile),
	}, nil
}

// EnsureHome creates the data directory (and the DB/registry parents when
// overridden elsewhere).
func (p *Paths) EnsureHome() error {
	for _, dir := range []string{p.Home, filepath.Dir(p.DBPath), filepath.Dir(p.RegistryPath)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// resolveHome returns the data directory from SUBMON_HOME or the default
// under the host's ~/.claude directory.
func resolveHome() (string, error) {
	if v := os.Getenv("SUBMON_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.ClaudeDir, protocol.DataDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
