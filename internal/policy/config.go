// Package policy loads server configuration from the environment, with an
// optional YAML overlay for tuning knobs that have no env key.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultStateDir returns the default runtime directory (~/.dead-drop).
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".dead-drop")
}

// Config holds room-server configuration. Env keys per the deployment
// contract: DB_PATH, HOST, PORT, ROOM_TOKEN, RUNTIME_DIR.
type Config struct {
	DBPath     string `yaml:"db_path"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	RoomToken  string `yaml:"room_token"`
	RuntimeDir string `yaml:"runtime_dir"`
	LogFile    string `yaml:"log_file"`

	// Retention caps stored messages; zero disables pruning.
	MessageRetentionMax  int `yaml:"message_retention_max"`
	MessageRetentionDays int `yaml:"message_retention_days"`

	// WatchdogIdleSeconds evicts registry sessions with no tool activity for
	// this long; zero disables the reaper.
	WatchdogIdleSeconds int `yaml:"watchdog_idle_seconds"`
}

// DefaultConfig returns defaults matching the historical deployment layout.
func DefaultConfig() *Config {
	dir := DefaultStateDir()
	return &Config{
		DBPath:     filepath.Join(dir, "messages.db"),
		Host:       "0.0.0.0",
		Port:       9400,
		RuntimeDir: dir,
	}
}

// FromEnv builds a Config from the environment on top of defaults, then
// applies the optional YAML file named by DD_CONFIG.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.RuntimeDir = filepath.Dir(v)
	}
	if v := os.Getenv("RUNTIME_DIR"); v != "" {
		cfg.RuntimeDir = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	cfg.RoomToken = os.Getenv("ROOM_TOKEN")

	if path := os.Getenv("DD_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile overlays YAML settings onto the config. Env keys win for fields
// both can set, so the file is parsed into a scratch struct first.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if file.LogFile != "" {
		c.LogFile = file.LogFile
	}
	if file.MessageRetentionMax > 0 {
		c.MessageRetentionMax = file.MessageRetentionMax
	}
	if file.MessageRetentionDays > 0 {
		c.MessageRetentionDays = file.MessageRetentionDays
	}
	if file.WatchdogIdleSeconds > 0 {
		c.WatchdogIdleSeconds = file.WatchdogIdleSeconds
	}
	return nil
}

// SignalFilePath is the sibling file touched after every store commit so
// other processes sharing the database can wake their notifiers.
func (c *Config) SignalFilePath() string {
	return c.DBPath + ".signal"
}

// HubConfig holds hub-tier configuration (DD_* env keys, from the original
// deployment).
type HubConfig struct {
	Host           string
	Port           int
	DBPath         string
	ArchiveDir     string
	RoomDataDir    string
	RoomImage      string
	AdvertiseHost  string
	PortRangeStart int
	PortRangeEnd   int
}

// HubFromEnv builds a HubConfig from the environment.
func HubFromEnv() (*HubConfig, error) {
	cfg := &HubConfig{
		Host:           "0.0.0.0",
		Port:           9500,
		DBPath:         "/var/lib/dead-drop/hub.db",
		ArchiveDir:     "/var/lib/dead-drop/archive",
		RoomDataDir:    "/var/lib/dead-drop/rooms",
		RoomImage:      "dead-drop-room:latest",
		AdvertiseHost:  "localhost",
		PortRangeStart: 9401,
		PortRangeEnd:   9499,
	}
	if v := os.Getenv("DD_HUB_HOST"); v != "" {
		cfg.AdvertiseHost = v
	}
	if v := os.Getenv("DD_HUB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("DD_HUB_PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("DD_HUB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DD_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("DD_ROOM_DATA_DIR"); v != "" {
		cfg.RoomDataDir = v
	}
	if v := os.Getenv("DD_ROOM_IMAGE"); v != "" {
		cfg.RoomImage = v
	}
	return cfg, nil
}
