// Package config provides the YAML configuration schema and loader for the
// roost server.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration, typically loaded from a YAML file.
// Every field has a default; command-line flags override file values.
type Config struct {
	// ListenAddr is the UDP address the voice protocol binds to.
	ListenAddr string `yaml:"listen_addr"`

	// HTTPAddr is the TCP address of the status API. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`

	// DBPath is the SQLite database path.
	DBPath string `yaml:"db"`

	// ServerName is the human-readable server name.
	ServerName string `yaml:"server_name"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Rooms are catalog overrides upserted into the store at boot.
	Rooms []RoomConfig `yaml:"rooms"`
}

// RoomConfig is one room-catalog override.
type RoomConfig struct {
	ID          uint16 `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: "0.0.0.0:8897",
		HTTPAddr:   ":8080",
		DBPath:     "roost.db",
		ServerName: "roost server",
		LogLevel:   "info",
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns a joined error listing
// every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr is required"))
	}
	if cfg.DBPath == "" {
		errs = append(errs, fmt.Errorf("db is required"))
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	idsSeen := make(map[uint16]int, len(cfg.Rooms))
	namesSeen := make(map[string]int, len(cfg.Rooms))
	for i, room := range cfg.Rooms {
		prefix := fmt.Sprintf("rooms[%d]", i)
		if room.ID == 0 {
			errs = append(errs, fmt.Errorf("%s.id must be in 1..65535", prefix))
		} else if prev, ok := idsSeen[room.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of rooms[%d]", prefix, room.ID, prev))
		} else {
			idsSeen[room.ID] = i
		}
		if room.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := namesSeen[room.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of rooms[%d]", prefix, room.Name, prev))
		} else {
			namesSeen[room.Name] = i
		}
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level onto slog.
func (c Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", s)
}
