package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gentlechase")
	t.Setenv("IMPORT_SESSION_TTL", "45")
	t.Setenv("IMPORT_MAX_ROWS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com , ,https://admin.example.com")
	t.Setenv("REMINDER_SCHEDULE", "*/15 * * * *")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("COOKIE_SECURE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ImportSessionTTL != 45*time.Minute {
		t.Fatalf("expected 45m import ttl, got %s", cfg.ImportSessionTTL)
	}
	if cfg.ImportMaxRows != 5000 {
		t.Fatalf("expected default row limit, got %d", cfg.ImportMaxRows)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.SecureCookies {
		t.Fatalf("expected prod to force secure cookies")
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gentlechase")
	t.Setenv("REMINDERS_ENABLED", "true")
	t.Setenv("REMINDER_SCHEDULE", "every tuesday")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"5", 5 * time.Minute},
		{"soon", time.Minute},
		{"-1h", time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("TEST_DURATION", tc.value)
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("getEnvDuration(%q) = %s, want %s", tc.value, got, tc.want)
		}
	}
}
