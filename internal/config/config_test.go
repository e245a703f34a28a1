package config

import (
	"testing"

	"github.com/ihavespoons/driftline/internal/trajectory"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != "1" {
		t.Errorf("got Version=%q, want \"1\"", cfg.Version)
	}

	if cfg.Settings.LogLevel != "info" {
		t.Errorf("got LogLevel=%q, want \"info\"", cfg.Settings.LogLevel)
	}

	if cfg.Settings.Engine.WindowSize != trajectory.DefaultWindowSize {
		t.Errorf("got WindowSize=%d, want %d", cfg.Settings.Engine.WindowSize, trajectory.DefaultWindowSize)
	}

	if cfg.Settings.Engine.HysteresisK != trajectory.DefaultHysteresisK {
		t.Errorf("got HysteresisK=%d, want %d", cfg.Settings.Engine.HysteresisK, trajectory.DefaultHysteresisK)
	}

	if cfg.Settings.Daemon.Port != 8692 {
		t.Errorf("got Port=%d, want 8692", cfg.Settings.Daemon.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "window size too small",
			mutate:  func(c *Config) { c.Settings.Engine.WindowSize = 1 },
			wantErr: true,
		},
		{
			name:    "hysteresis below one",
			mutate:  func(c *Config) { c.Settings.Engine.HysteresisK = 0 },
			wantErr: true,
		},
		{
			name:    "negative stable band",
			mutate:  func(c *Config) { c.Settings.Engine.StableBand = -1 },
			wantErr: true,
		},
		{
			name:    "pivot factor at one",
			mutate:  func(c *Config) { c.Settings.Engine.PivotFactor = 1.0 },
			wantErr: true,
		},
		{
			name: "negative health weight",
			mutate: func(c *Config) {
				c.Settings.Engine.HealthWeights.Stability = -0.5
			},
			wantErr: true,
		},
		{
			name: "all health weights zero",
			mutate: func(c *Config) {
				c.Settings.Engine.HealthWeights = trajectory.HealthWeights{}
			},
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Settings.Daemon.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestConfig_EngineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.Engine.WindowSize = 12
	cfg.Settings.Engine.HysteresisK = 2

	opts := cfg.EngineOptions()
	if len(opts) == 0 {
		t.Fatal("EngineOptions returned no options")
	}

	eng := trajectory.NewEngine(opts...)
	if eng == nil {
		t.Fatal("NewEngine returned nil with config options")
	}
}
