package config

import (
	"fmt"

	"github.com/ihavespoons/driftline/internal/trajectory"
)

// Config represents the complete driftline configuration
type Config struct {
	Version  string   `yaml:"version"`
	Settings Settings `yaml:"settings"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string         `yaml:"log_level"`
	LogFile  string         `yaml:"log_file,omitempty"`
	Engine   EngineSettings `yaml:"engine"`
	Store    StoreSettings  `yaml:"store"`
	Daemon   DaemonSettings `yaml:"daemon"`
}

// EngineSettings tunes the trajectory engine. Fixed per session: a running
// engine never re-reads them.
type EngineSettings struct {
	// WindowSize is the classifier lookback in events.
	WindowSize int `yaml:"window_size"`

	// HysteresisK is how many consecutive contrary classifications
	// confirm a segment boundary.
	HysteresisK int `yaml:"hysteresis_k"`

	// StableBand is the per-step delta magnitude treated as noise.
	StableBand int64 `yaml:"stable_band"`

	// PivotFactor is the churn-spike multiple over baseline that marks
	// a pivot.
	PivotFactor float64 `yaml:"pivot_factor"`

	// HealthWeights blends the health score terms.
	HealthWeights trajectory.HealthWeights `yaml:"health_weights"`
}

// StoreSettings configures session persistence
type StoreSettings struct {
	// Path is the SQLite database location. Empty means the default
	// under ~/.driftline/sessions.db.
	Path string `yaml:"path,omitempty"`

	// SessionTTL is how long inactive sessions are kept (duration
	// string, e.g. "168h").
	SessionTTL string `yaml:"session_ttl,omitempty"`

	// MaxEventsPerSession caps stored events per session; oldest events
	// are trimmed past the cap. Zero means unlimited.
	MaxEventsPerSession int `yaml:"max_events_per_session,omitempty"`
}

// DaemonSettings configures the dashboard daemon
type DaemonSettings struct {
	Port int `yaml:"port,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
			Engine: EngineSettings{
				WindowSize:    trajectory.DefaultWindowSize,
				HysteresisK:   trajectory.DefaultHysteresisK,
				StableBand:    trajectory.DefaultStableBand,
				PivotFactor:   trajectory.DefaultPivotFactor,
				HealthWeights: trajectory.DefaultHealthWeights(),
			},
			Store: StoreSettings{
				SessionTTL:          "168h",
				MaxEventsPerSession: 10000,
			},
			Daemon: DaemonSettings{
				Port: 8692,
			},
		},
	}
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	e := c.Settings.Engine
	if e.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be at least 2, got %d", e.WindowSize)
	}
	if e.HysteresisK < 1 {
		return fmt.Errorf("engine.hysteresis_k must be at least 1, got %d", e.HysteresisK)
	}
	if e.StableBand < 0 {
		return fmt.Errorf("engine.stable_band must be non-negative, got %d", e.StableBand)
	}
	if e.PivotFactor <= 1.0 {
		return fmt.Errorf("engine.pivot_factor must exceed 1.0, got %f", e.PivotFactor)
	}

	w := e.HealthWeights
	if w.Confidence < 0 || w.Stability < 0 || w.Sustain < 0 {
		return fmt.Errorf("engine.health_weights must be non-negative")
	}
	if w.Confidence+w.Stability+w.Sustain <= 0 {
		return fmt.Errorf("engine.health_weights must not all be zero")
	}

	if c.Settings.Daemon.Port < 0 || c.Settings.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Settings.Daemon.Port)
	}
	return nil
}

// EngineOptions converts engine settings into trajectory engine options.
func (c *Config) EngineOptions() []trajectory.Option {
	e := c.Settings.Engine
	return []trajectory.Option{
		trajectory.WithClassifier(trajectory.NewDeltaClassifier(e.StableBand, e.PivotFactor)),
		trajectory.WithWindowSize(e.WindowSize),
		trajectory.WithHysteresis(e.HysteresisK),
		trajectory.WithHealthWeights(e.HealthWeights),
	}
}
