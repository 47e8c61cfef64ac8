// Package config loads the ground server's runtime settings: bind
// addresses, the resync TTL, and the log level. It mirrors the
// teacher's .env-then-environment-override loader, generalized from a
// single device's credentials to the handful of knobs the server needs
// to start.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds every setting cmd/teststand-server reads at startup.
type Config struct {
	ListenAddr    string
	MulticastAddr string
	ResyncTTL     time.Duration
	MetricsAddr   string // empty disables the metrics HTTP server
	LogLevel      string
	SnapshotPath  string // empty disables the monitor snapshot file
}

func defaults() Config {
	return Config{
		ListenAddr:    "0.0.0.0:50000",
		MulticastAddr: "239.255.255.250:1900",
		ResyncTTL:     600 * time.Second,
		MetricsAddr:   ":9090",
		LogLevel:      "info",
		SnapshotPath:  "",
	}
}

var (
	loaded  *Config
	loadErr error
)

// Load reads the config once and caches it; later calls return the
// cached value. The .env path defaults to <project root>/.env, found by
// walking up from the working directory for a go.mod, and can be
// overridden with TESTSTAND_ENV_FILE.
func Load() (*Config, error) {
	if loaded != nil || loadErr != nil {
		return loaded, loadErr
	}

	cfg := defaults()

	envPath := os.Getenv("TESTSTAND_ENV_FILE")
	if envPath == "" {
		envPath = filepath.Join(findProjectRoot(), ".env")
	}
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	if v := os.Getenv("TESTSTAND_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TESTSTAND_MULTICAST_ADDR"); v != "" {
		cfg.MulticastAddr = v
	}
	if v := os.Getenv("TESTSTAND_RESYNC_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			loadErr = fmt.Errorf("config: TESTSTAND_RESYNC_TTL: %w", err)
			return nil, loadErr
		}
		cfg.ResyncTTL = d
	}
	if v, ok := os.LookupEnv("TESTSTAND_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("TESTSTAND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TESTSTAND_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}

	loaded = &cfg
	return loaded, nil
}

func parseEnvFile(content string, cfg *Config) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "TESTSTAND_LISTEN_ADDR":
			cfg.ListenAddr = value
		case "TESTSTAND_MULTICAST_ADDR":
			cfg.MulticastAddr = value
		case "TESTSTAND_RESYNC_TTL":
			if d, err := time.ParseDuration(value); err == nil {
				cfg.ResyncTTL = d
			}
		case "TESTSTAND_METRICS_ADDR":
			cfg.MetricsAddr = value
		case "TESTSTAND_LOG_LEVEL":
			cfg.LogLevel = value
		case "TESTSTAND_SNAPSHOT_PATH":
			cfg.SnapshotPath = value
		}
	}
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// reset clears the cached config; test-only escape hatch so each test
// can exercise Load's precedence rules independently.
func reset() {
	loaded = nil
	loadErr = nil
}
