package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Tier != domain.TierCommunity || cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected community defaults, got tier=%s driver=%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Telephony.SignatureTolerance != 30*time.Minute {
		t.Errorf("expected 30m signature tolerance, got %s", cfg.Telephony.SignatureTolerance)
	}
	if cfg.Dispatcher.ActionTimeout != 15*time.Second {
		t.Errorf("expected 15s action timeout, got %s", cfg.Dispatcher.ActionTimeout)
	}
}

func TestLoad_ProTierWithOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KITE_TIER", "pro")
	t.Setenv("KITE_SERVER_PORT", "9090")
	t.Setenv("KITE_REPOSITORY_POSTGRES_HOST", "db.internal")
	t.Setenv("KITE_TELEPHONY_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("KITE_DISPATCHER_CONTACT_WINDOW", "12h")
	t.Setenv("KITE_WORKER_TENANTS", "tenant-a, tenant-b,")
	t.Setenv("KITE_SERVER_ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" {
		t.Errorf("expected pro defaults, got %+v", cfg)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Repository.PostgresHost != "db.internal" {
		t.Errorf("expected postgres host override, got %s", cfg.Repository.PostgresHost)
	}
	if cfg.Telephony.WebhookSecret != "whsec_123" {
		t.Error("webhook secret not loaded")
	}
	if cfg.Dispatcher.ContactWindow != 12*time.Hour {
		t.Errorf("expected 12h window, got %s", cfg.Dispatcher.ContactWindow)
	}
	if len(cfg.Worker.TenantIDs) != 2 || cfg.Worker.TenantIDs[1] != "tenant-b" {
		t.Errorf("unexpected tenants %v", cfg.Worker.TenantIDs)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	content := []byte("server:\n  port: 7070\nscheduler:\n  overdue_schedule: \"@hourly\"\n")
	if err := os.WriteFile(filepath.Join(dir, "kite.yaml"), content, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("KITE_SERVER_PORT", "7171")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Scheduler.OverdueSchedule != "@hourly" {
		t.Errorf("expected schedule from file, got %s", cfg.Scheduler.OverdueSchedule)
	}
	if cfg.Server.Port != 7171 {
		t.Errorf("expected environment to win over file, got %d", cfg.Server.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"UnknownTier", "KITE_TIER", "enterprise"},
		{"BadPort", "KITE_SERVER_PORT", "70000"},
		{"BadDriver", "KITE_REPOSITORY_DRIVER", "mysql"},
		{"NegativeLimit", "KITE_DISPATCHER_CONTACT_LIMIT", "-1"},
		{"BadLogLevel", "KITE_LOG_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
