package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.MaxSessionsPerUser != 5 {
		t.Errorf("MaxSessionsPerUser = %d, want 5", cfg.MaxSessionsPerUser)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("SessionTimeout = %v, want 30m", cfg.SessionTimeout)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval = %v, want 5m", cfg.ReaperInterval)
	}
	if cfg.MaxMessageBytes != 1<<20 {
		t.Errorf("MaxMessageBytes = %d, want %d", cfg.MaxMessageBytes, 1<<20)
	}
	if cfg.PersistUpdates {
		t.Error("PersistUpdates should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("MAX_SESSIONS_PER_USER", "2")
	t.Setenv("SESSION_TIMEOUT", "45s")
	t.Setenv("REAPER_INTERVAL", "10s")
	t.Setenv("PERSIST_UPDATES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != "9999" {
		t.Errorf("ServerPort = %q, want 9999", cfg.ServerPort)
	}
	if cfg.MaxSessionsPerUser != 2 {
		t.Errorf("MaxSessionsPerUser = %d, want 2", cfg.MaxSessionsPerUser)
	}
	if cfg.SessionTimeout != 45*time.Second {
		t.Errorf("SessionTimeout = %v, want 45s", cfg.SessionTimeout)
	}
	if cfg.ReaperInterval != 10*time.Second {
		t.Errorf("ReaperInterval = %v, want 10s", cfg.ReaperInterval)
	}
	if !cfg.PersistUpdates {
		t.Error("PersistUpdates should be true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_SESSIONS_PER_USER", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a zero session limit")
	}
}

func TestBadEnvValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_SESSIONS_PER_USER", "not-a-number")
	t.Setenv("SESSION_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxSessionsPerUser != 5 {
		t.Errorf("MaxSessionsPerUser = %d, want default 5", cfg.MaxSessionsPerUser)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("SessionTimeout = %v, want default 30m", cfg.SessionTimeout)
	}
}
