package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/velmie/stagedpush"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "stagedpush.yaml", `
store:
  driver: postgres
  dsn: postgres://localhost/app
forwarder:
  kind: lmstfy
  lmstfy:
    host: lmstfy.local
    namespace: jobs
relay:
  workers: 3
  batch_size: 100
  slot_ttl: 10s
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN != "postgres://localhost/app" {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
	if cfg.Store.Table != "staged_push_jobs" {
		t.Fatalf("expected default table to survive, got %q", cfg.Store.Table)
	}
	if cfg.Forwarder.Lmstfy.Port != 7777 || cfg.Forwarder.Lmstfy.Host != "lmstfy.local" {
		t.Fatalf("unexpected lmstfy %+v", cfg.Forwarder.Lmstfy)
	}
	if cfg.Relay.Workers != 3 || cfg.Relay.BatchSize != 100 || cfg.Relay.SlotTTL != 10*time.Second {
		t.Fatalf("unexpected relay %+v", cfg.Relay)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "stagedpush.yaml", `
store:
  dsn: root@tcp(db)/app
relay:
  batch_size: 100
`)
	t.Setenv("STAGEDPUSH_RELAY_BATCH_SIZE", "250")
	t.Setenv("STAGEDPUSH_RELAY_POLL_INTERVAL", "2s")
	t.Setenv("STAGEDPUSH_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.BatchSize != 250 || cfg.Relay.PollInterval != 2*time.Second {
		t.Fatalf("expected env overrides, got %+v", cfg.Relay)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected redis addr from env, got %q", cfg.Redis.Addr)
	}
}

func TestLoadDotenv(t *testing.T) {
	dotenv := writeFile(t, ".env", "STAGEDPUSH_STORE_DSN=root@tcp(db)/dotenv\nSTAGEDPUSH_FORWARDER_NAMESPACE=app\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("STAGEDPUSH_STORE_DSN")
		_ = os.Unsetenv("STAGEDPUSH_FORWARDER_NAMESPACE")
	})

	cfg, err := Load("", dotenv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "root@tcp(db)/dotenv" || cfg.Forwarder.Namespace != "app" {
		t.Fatalf("expected values from .env, got %+v %+v", cfg.Store, cfg.Forwarder)
	}
}

func TestLoadMissingDotenvIsIgnored(t *testing.T) {
	t.Setenv("STAGEDPUSH_STORE_DSN", "root@tcp(db)/app")

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"unknown forwarder", func(c *Config) { c.Forwarder.Kind = "kafka" }, "forwarder.kind"},
		{"lmstfy without host", func(c *Config) { c.Forwarder.Kind = ForwarderLmstfy }, "forwarder.lmstfy"},
		{"rabbitmq without url", func(c *Config) { c.Forwarder.Kind = ForwarderRabbitMQ }, "forwarder.rabbitmq.url"},
		{"no workers", func(c *Config) { c.Relay.Workers = 0 }, "relay.workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.DSN = "root@tcp(db)/app"
			tc.modify(&cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRelayOptions(t *testing.T) {
	cfg := Default()
	if got := len(cfg.RelayOptions()); got != 0 {
		t.Fatalf("expected no options for defaults, got %d", got)
	}

	cfg.Relay.BatchSize = 50
	cfg.Relay.MaxSlots = 2
	cfg.Relay.SlotKeyPrefix = "app:slot"
	leaser := stagedpush.NewLeaser(nopSlots{}, cfg.RelayOptions()...)
	keys := leaser.SlotKeys()
	if len(keys) != 2 || keys[0] != "app:slot:0" {
		t.Fatalf("expected options to apply, got %v", keys)
	}
}

type nopSlots struct{}

func (nopSlots) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func (nopSlots) ExpireIfOwner(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func (nopSlots) DeleteIfOwner(context.Context, string, string) (bool, error) {
	return false, nil
}
