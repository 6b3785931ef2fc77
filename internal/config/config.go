// Package config parses rvcd's runtime configuration from environment
// variables using a uniform prefix and double-underscore hierarchy, e.g.
// X_SERVER__PORT, X_CAN__INTERFACES=can0,can1,
// X_CAN__INTERFACE_MAPPINGS={"house":"can0"}.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "X_"

// Config is the fully parsed runtime configuration.
type Config struct {
	Server   ServerConfig
	CAN      CANConfig
	Features map[string]bool
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host    string
	Port    int
	Workers int
}

type CANConfig struct {
	BusType            string
	Interfaces         []string
	InterfaceMappings  map[string]string
	Bitrate            int
	ReceiveOwnMessages bool
}

type LoggingConfig struct {
	Level   string
	LogFile string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Workers: 4,
		},
		CAN: CANConfig{
			BusType:            "socketcan",
			Bitrate:            250000,
			ReceiveOwnMessages: false,
		},
		Features: map[string]bool{},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// recognized lists every X_-prefixed key this build understands. Unknown
// keys are rejected loudly at startup rather than silently ignored, per
// the closed configuration schema.
var recognized = map[string]bool{
	"SERVER__HOST":              true,
	"SERVER__PORT":              true,
	"SERVER__WORKERS":           true,
	"CAN__BUSTYPE":              true,
	"CAN__INTERFACES":           true,
	"CAN__INTERFACE_MAPPINGS":   true,
	"CAN__BITRATE":              true,
	"CAN__RECEIVE_OWN_MESSAGES": true,
	"LOGGING__LEVEL":            true,
	"LOGGING__LOG_FILE":         true,
}

// isFeatureKey reports whether key is one of the open-ended
// "FEATURES__ENABLE_<name>" keys, which aren't individually listed in
// recognized since the feature set is extensible.
func isFeatureKey(key string) bool {
	return strings.HasPrefix(key, "FEATURES__ENABLE_")
}

// Load reads Config from the process environment, starting from defaults
// and overriding with whatever X_-prefixed variables are present. It
// returns an error naming the first unrecognized key it finds.
func Load() (Config, error) {
	return load(os.Environ())
}

func load(environ []string) (Config, error) {
	cfg := defaults()

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, envPrefix)

		if !recognized[key] && !isFeatureKey(key) {
			return Config{}, fmt.Errorf("config: unrecognized key %q", name)
		}

		if err := applyKey(&cfg, key, value); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", name, err)
		}
	}

	return cfg, nil
}

func applyKey(cfg *Config, key, value string) error {
	switch {
	case key == "SERVER__HOST":
		cfg.Server.Host = value
	case key == "SERVER__PORT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		cfg.Server.Port = n
	case key == "SERVER__WORKERS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid workers: %w", err)
		}
		cfg.Server.Workers = n
	case key == "CAN__BUSTYPE":
		cfg.CAN.BusType = value
	case key == "CAN__INTERFACES":
		cfg.CAN.Interfaces = splitList(value)
	case key == "CAN__INTERFACE_MAPPINGS":
		m := make(map[string]string)
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			return fmt.Errorf("invalid interface mappings: %w", err)
		}
		cfg.CAN.InterfaceMappings = m
	case key == "CAN__BITRATE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid bitrate: %w", err)
		}
		cfg.CAN.Bitrate = n
	case key == "CAN__RECEIVE_OWN_MESSAGES":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid receive_own_messages: %w", err)
		}
		cfg.CAN.ReceiveOwnMessages = b
	case key == "LOGGING__LEVEL":
		cfg.Logging.Level = value
	case key == "LOGGING__LOG_FILE":
		cfg.Logging.LogFile = value
	case isFeatureKey(key):
		name := strings.ToLower(strings.TrimPrefix(key, "FEATURES__ENABLE_"))
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid feature flag: %w", err)
		}
		cfg.Features[name] = b
	}
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the parsed configuration is usable.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("config: server.workers must be > 0")
	}
	if len(c.CAN.Interfaces) == 0 {
		return fmt.Errorf("config: can.interfaces must list at least one interface")
	}
	if c.CAN.Bitrate <= 0 {
		return fmt.Errorf("config: can.bitrate must be > 0")
	}
	return nil
}
