package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MongoDatabase != "torrentgate" {
		t.Fatalf("MongoDatabase = %q", cfg.MongoDatabase)
	}
	if !cfg.CookieSecure {
		t.Fatal("CookieSecure should default to true")
	}
	if cfg.PollActiveInterval != 15*time.Second || cfg.PollIdleInterval != time.Minute {
		t.Fatalf("poll intervals = %v/%v", cfg.PollActiveInterval, cfg.PollIdleInterval)
	}
	if cfg.PublicSeedDuration != 24*time.Hour || cfg.PrivateSeedDuration != 7*24*time.Hour {
		t.Fatalf("seed durations = %v/%v", cfg.PublicSeedDuration, cfg.PrivateSeedDuration)
	}
	if cfg.AutoPauseSeeding {
		t.Fatal("AutoPauseSeeding should default to false")
	}
	if cfg.TransferMaxConcurrent != 2 || cfg.TransferMaxRetries != 3 {
		t.Fatalf("transfer limits = %d/%d", cfg.TransferMaxConcurrent, cfg.TransferMaxRetries)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("AUTO_PAUSE_SEEDING", "yes")
	t.Setenv("PUBLIC_SEED_DURATION", "3600")
	t.Setenv("POLL_ACTIVE_INTERVAL_SECONDS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.CookieSecure {
		t.Fatal("CookieSecure override ignored")
	}
	if !cfg.AutoPauseSeeding {
		t.Fatal("AutoPauseSeeding override ignored")
	}
	if cfg.PublicSeedDuration != time.Hour {
		t.Fatalf("PublicSeedDuration = %v", cfg.PublicSeedDuration)
	}
	if cfg.PollActiveInterval != 5*time.Second {
		t.Fatalf("PollActiveInterval = %v", cfg.PollActiveInterval)
	}
	want := []string{"http://a.example", "http://b.example"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Fatalf("CORSAllowedOrigins[%d] = %q", i, cfg.CORSAllowedOrigins[i])
		}
	}
}

func TestGetEnvInt64RejectsGarbage(t *testing.T) {
	t.Setenv("STATUS_RETENTION_DAYS", "not-a-number")
	if cfg := LoadConfig(); cfg.StatusRetentionDays != 30 {
		t.Fatalf("StatusRetentionDays = %d, want fallback 30", cfg.StatusRetentionDays)
	}
	t.Setenv("STATUS_RETENTION_DAYS", "-5")
	if cfg := LoadConfig(); cfg.StatusRetentionDays != 30 {
		t.Fatalf("StatusRetentionDays = %d, want fallback for negative", cfg.StatusRetentionDays)
	}
}
