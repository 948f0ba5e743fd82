package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", cfg.WorkerCount)
	}
	if cfg.CacheTTL != 6*time.Hour {
		t.Errorf("CacheTTL = %v, want 6h", cfg.CacheTTL)
	}
	if cfg.SentimentThreshold != 0.7 {
		t.Errorf("SentimentThreshold = %v, want 0.7", cfg.SentimentThreshold)
	}
	if cfg.HoldingMessage == "" {
		t.Error("HoldingMessage should have a default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("RESPONSE_CACHE_TTL", "90s")
	t.Setenv("ESCALATION_EMAILS", "ops@stayware.io, host@stayware.io ,")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if !cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should be true")
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Errorf("CacheTTL = %v, want 90s", cfg.CacheTTL)
	}
	if len(cfg.EscalationEmails) != 2 {
		t.Fatalf("EscalationEmails = %v, want 2 entries", cfg.EscalationEmails)
	}
	if cfg.EscalationEmails[1] != "host@stayware.io" {
		t.Errorf("EscalationEmails[1] = %q", cfg.EscalationEmails[1])
	}
}
