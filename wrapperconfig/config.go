// Package wrapperconfig loads Stream Wrapper configuration from a YAML file
// discovered by project/home convention, with environment variable
// overrides layered on top.
package wrapperconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/streamkit/eventwrap/obs"
	"github.com/streamkit/eventwrap/wrapper"
)

const (
	projectConfigName = "eventwrap.yaml"
	homeConfigDir     = ".eventwrap"
	homeConfigName    = "config.yaml"
)

// Config is the on-disk/environment shape of a Stream Wrapper deployment.
type Config struct {
	EventsBetweenCacheSaves uint64 `yaml:"events_between_cache_saves"`
	DriverDSN               string `yaml:"driver_dsn"`
	SnapshotCron            string `yaml:"snapshot_cron"`
	ObservabilityEnabled    bool   `yaml:"observability_enabled"`
	ObservabilityEndpoint   string `yaml:"observability_endpoint"`
	ServiceName             string `yaml:"service_name"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		EventsBetweenCacheSaves: 500,
		DriverDSN:               "eventwrap.db",
		SnapshotCron:            "*/5 * * * *",
		ObservabilityEnabled:    false,
		ServiceName:             "eventwrap",
	}
}

// WrapperConfig projects the loaded configuration onto wrapper.Config.
func (c Config) WrapperConfig(logger *slog.Logger) wrapper.Config {
	return wrapper.Config{
		EventsBetweenCacheSaves: c.EventsBetweenCacheSaves,
		Logger:                  logger,
	}
}

// ObsConfig projects the loaded configuration onto obs.Config.
func (c Config) ObsConfig() obs.Config {
	return obs.Config{
		Enabled:     c.ObservabilityEnabled,
		Endpoint:    c.ObservabilityEndpoint,
		ServiceName: c.ServiceName,
	}
}

// Load discovers and parses the configuration file, then applies
// EVENTWRAP_* environment overrides. explicitPath, if non-empty, must
// resolve to an existing file.
func Load(explicitPath string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve user home: %w", err)
	}
	return LoadFrom(explicitPath, cwd, homeDir)
}

// LoadFrom is a testable variant of Load taking an explicit cwd/homeDir.
func LoadFrom(explicitPath, cwd, homeDir string) (Config, error) {
	cfg := Default()

	path, found, err := DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
	if err != nil {
		return Config{}, err
	}
	if found {
		// #nosec G304 -- path resolved from explicit local config discovery.
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DiscoverConfigPath resolves the configuration file location with
// first-match semantics: explicitPath if set, otherwise
// ./eventwrap.yaml, otherwise ~/.eventwrap/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_EVENTS_BETWEEN_CACHE_SAVES")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing EVENTWRAP_EVENTS_BETWEEN_CACHE_SAVES: %w", err)
		}
		cfg.EventsBetweenCacheSaves = n
	}
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_DRIVER_DSN")); v != "" {
		cfg.DriverDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_SNAPSHOT_CRON")); v != "" {
		cfg.SnapshotCron = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_OBSERVABILITY")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing EVENTWRAP_OBSERVABILITY: %w", err)
		}
		cfg.ObservabilityEnabled = enabled
	}
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_OBSERVABILITY_ENDPOINT")); v != "" {
		cfg.ObservabilityEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENTWRAP_SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}
	return nil
}
