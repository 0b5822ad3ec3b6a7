// ABOUTME: Server configuration from environment variables
// ABOUTME: Flags in cmd/beatsync-server override individual fields
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the coordinator needs to start.
type Config struct {
	Host string // listen host (empty = all interfaces)
	Port int    // HTTP + WebSocket port

	DataDir     string // root for audio blobs and backup snapshots
	ProviderURL string // base URL of the music search/stream provider (empty disables)

	DefaultTracks []string // URLs appended by LOAD_DEFAULT_TRACKS

	EnableMDNS bool
	LogLevel   string
}

// FromEnv builds a Config from BEATSYNC_* environment variables with defaults.
func FromEnv() Config {
	cfg := Config{
		Host:        envStr("BEATSYNC_HOST", ""),
		Port:        envInt("BEATSYNC_PORT", 8080),
		DataDir:     envStr("BEATSYNC_DATA_DIR", "./data"),
		ProviderURL: envStr("PROVIDER_URL", ""),
		EnableMDNS:  envBool("BEATSYNC_MDNS", false),
		LogLevel:    envStr("LOG_LEVEL", "info"),
	}
	if raw := envStr("BEATSYNC_DEFAULT_TRACKS", ""); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.DefaultTracks = append(cfg.DefaultTracks, u)
			}
		}
	}
	return cfg
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data directory is required")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
