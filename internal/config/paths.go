package config

import (
	"fmt"
	"os"
	"path/filepath"

	"argent/pkg/protocol"
)

// Paths holds the resolved argent state file paths.
type Paths struct {
	Home        string // ~/.argent or ARGENT_HOME
	DBPath      string // argent.db or ARGENT_DB_PATH
	CatalogPath string // story.yaml or ARGENT_CATALOG
	ConfigPath  string // argent.toml or ARGENT_CONFIG
}

// ResolvePaths returns all argent paths, respecting env var overrides.
// Environment variables:
//   - ARGENT_HOME: base directory for all argent state (default: ~/.argent)
//   - ARGENT_DB_PATH: database (default: $ARGENT_HOME/argent.db)
//   - ARGENT_CATALOG: story catalog (default: $ARGENT_HOME/story.yaml)
//   - ARGENT_CONFIG: config file (default: $ARGENT_HOME/argent.toml)
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:        home,
		DBPath:      resolvePathWithEnv("ARGENT_DB_PATH", home, protocol.DBFile),
		CatalogPath: resolvePathWithEnv("ARGENT_CATALOG", home, protocol.CatalogFile),
		ConfigPath:  resolvePathWithEnv("ARGENT_CONFIG", home, protocol.ConfigFile),
	}, nil
}

func resolveHome() (string, error) {
	if v := os.Getenv("ARGENT_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
