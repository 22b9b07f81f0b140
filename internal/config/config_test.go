package config

import (
	"testing"

	"github.com/kelseyhightower/envconfig"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if cfg.Rest.Address != ":8080" {
		t.Errorf("Address = %q", cfg.Rest.Address)
	}
	if cfg.Mapping.TTLHours != 72 {
		t.Errorf("Mapping TTL = %d", cfg.Mapping.TTLHours)
	}
	if cfg.Cache.MaxFiles != 50 {
		t.Errorf("Cache ceiling = %d", cfg.Cache.MaxFiles)
	}
	if cfg.Room.GraceSeconds != 5 {
		t.Errorf("Grace = %d", cfg.Room.GraceSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADDRESS", ":9090")
	t.Setenv("ROOM_GRACE_SECONDS", "12")
	t.Setenv("CACHE_SWEEP_INTERVAL_MINUTES", "3")
	t.Setenv("MAPPING_SWEEP_INTERVAL_MINUTES", "120")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if cfg.Rest.Address != ":9090" {
		t.Errorf("Address = %q", cfg.Rest.Address)
	}
	if cfg.Room.GraceSeconds != 12 {
		t.Errorf("Grace = %d", cfg.Room.GraceSeconds)
	}
	// The two sweepers are configured independently.
	if cfg.Cache.SweepInterval != 3 || cfg.Mapping.SweepInterval != 120 {
		t.Errorf("sweep intervals = %d, %d", cfg.Cache.SweepInterval, cfg.Mapping.SweepInterval)
	}
}
