package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := []byte("server:\n  port: \"9090\"\ncache:\n  leaderboard_ttl: 30s\npostgres:\n  url: postgres://file\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POSTGRES_URL", "postgres://env")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Server.Port)
	}
	if cfg.Postgres.URL != "postgres://env" {
		t.Fatalf("expected env override, got %q", cfg.Postgres.URL)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.Redis.DB)
	}
	if got := TTLDuration(cfg.Cache.LeaderboardTTL, time.Minute); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("", 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}
