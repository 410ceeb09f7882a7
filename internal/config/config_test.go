package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Fatalf("unexpected port: %d", cfg.AppPort)
	}
	if cfg.Polling.Interval != 5*time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.Polling.Interval)
	}
	if cfg.Polling.ImageMaxAttempts != 30 || cfg.Polling.VideoMaxAttempts != 60 {
		t.Fatalf("unexpected poll budgets: %+v", cfg.Polling)
	}
	if cfg.Redis.Address != "" {
		t.Fatalf("expected in-memory cache by default, got redis %q", cfg.Redis.Address)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MRKNIAI_PORT", "9090")
	t.Setenv("MRKNIAI_POLL_INTERVAL", "250ms")
	t.Setenv("MRKNIAI_IMAGE_POLL_ATTEMPTS", "not-a-number")
	t.Setenv("MRKNIAI_ADMIN_EMAILS", " Ops@Example.com, ,second@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AppPort != 9090 {
		t.Fatalf("unexpected port: %d", cfg.AppPort)
	}
	if cfg.Polling.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Polling.Interval)
	}
	if cfg.Polling.ImageMaxAttempts != 30 {
		t.Fatalf("invalid int should fall back, got %d", cfg.Polling.ImageMaxAttempts)
	}
	if len(cfg.AdminEmails) != 2 {
		t.Fatalf("unexpected admin list: %v", cfg.AdminEmails)
	}
	if !cfg.IsAdmin("OPS@example.com") {
		t.Fatal("expected case-insensitive admin match")
	}
	if cfg.IsAdmin("") || cfg.IsAdmin("intruder@example.com") {
		t.Fatal("unexpected admin match")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Fatalf("SlogLevel(%q) = %v want %v", in, got, want)
		}
	}
}
