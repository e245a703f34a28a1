package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	globalConfigDir  = ".driftline"
	projectConfigDir = ".driftline"
	configFileName   = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath  string
	projectPath string
}

// NewLoader creates a new configuration loader
func NewLoader(projectDir string) (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Loader{
		globalPath:  filepath.Join(homeDir, globalConfigDir, configFileName),
		projectPath: filepath.Join(projectDir, projectConfigDir, configFileName),
	}, nil
}

// Load loads and merges configuration from all sources
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	projectCfg, err := l.loadFile(l.projectPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = mergeConfigs(cfg, projectCfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadGlobalOnly loads configuration from the global config only, ignoring
// project config. Used for daemon commands where project-specific tuning
// should not apply.
func (l *Loader) LoadGlobalOnly() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	fileCfg, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := mergeConfigs(DefaultConfig(), fileCfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// mergeConfigs merges two configurations, with override taking precedence
// for values it sets
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel: coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:  coalesce(override.Settings.LogFile, base.Settings.LogFile),
			Engine:   mergeEngineSettings(base.Settings.Engine, override.Settings.Engine),
			Store:    mergeStoreSettings(base.Settings.Store, override.Settings.Store),
			Daemon:   mergeDaemonSettings(base.Settings.Daemon, override.Settings.Daemon),
		},
	}

	return result
}

func mergeEngineSettings(base, override EngineSettings) EngineSettings {
	result := base

	if override.WindowSize != 0 {
		result.WindowSize = override.WindowSize
	}
	if override.HysteresisK != 0 {
		result.HysteresisK = override.HysteresisK
	}
	if override.StableBand != 0 {
		result.StableBand = override.StableBand
	}
	if override.PivotFactor != 0 {
		result.PivotFactor = override.PivotFactor
	}

	w := override.HealthWeights
	if w.Confidence != 0 || w.Stability != 0 || w.Sustain != 0 {
		result.HealthWeights = w
	}

	return result
}

func mergeStoreSettings(base, override StoreSettings) StoreSettings {
	result := base

	if override.Path != "" {
		result.Path = override.Path
	}
	if override.SessionTTL != "" {
		result.SessionTTL = override.SessionTTL
	}
	if override.MaxEventsPerSession != 0 {
		result.MaxEventsPerSession = override.MaxEventsPerSession
	}

	return result
}

func mergeDaemonSettings(base, override DaemonSettings) DaemonSettings {
	result := base

	if override.Port != 0 {
		result.Port = override.Port
	}

	return result
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// GlobalConfigPath returns the path to the global config file
func (l *Loader) GlobalConfigPath() string {
	return l.globalPath
}

// ProjectConfigPath returns the path to the project config file
func (l *Loader) ProjectConfigPath() string {
	return l.projectPath
}

// Exists checks if a config file exists at the given path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
