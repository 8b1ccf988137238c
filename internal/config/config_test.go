package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database defaults: %+v", cfg)
	}
	if cfg.Broadcast.Backend != "local" || cfg.Broadcast.Channel != defaultBroadcastChannel {
		t.Fatalf("unexpected broadcast defaults: %+v", cfg.Broadcast)
	}
	if cfg.DispatchEvery != time.Minute || cfg.TickTimeout != 30*time.Second {
		t.Fatalf("unexpected dispatcher defaults: %s / %s", cfg.DispatchEvery, cfg.TickTimeout)
	}
	if cfg.TokenTTL != time.Hour || cfg.EditMaxAttempts != 3 || cfg.SendBuffer != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CORKBOARD_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("CORKBOARD_DATABASE_DRIVER", "POSTGRES")
	t.Setenv("CORKBOARD_DATABASE_DSN", "postgres://corkboard@localhost/corkboard")
	t.Setenv("CORKBOARD_DISPATCHER_INTERVAL", "30s")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.DatabaseDriver != DatabaseDriverPostgres {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.DispatchEvery != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.DispatchEvery)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name     string
		values   map[string]any
		contains string
	}{
		{name: "missing secret", values: map[string]any{}, contains: "auth.signing_secret"},
		{name: "unknown driver", values: map[string]any{"database.driver": "mysql"}, contains: "database.driver"},
		{name: "postgres without dsn", values: map[string]any{"database.driver": "postgres"}, contains: "database.dsn"},
		{name: "redis without addr", values: map[string]any{"broadcast.backend": "redis"}, contains: "broadcast.redis_addr"},
		{name: "nats without url", values: map[string]any{"broadcast.backend": "nats"}, contains: "broadcast.nats_url"},
		{name: "unknown backend", values: map[string]any{"broadcast.backend": "kafka"}, contains: "broadcast.backend"},
		{name: "interval too long", values: map[string]any{"dispatcher.interval": 24 * time.Hour}, contains: "dispatcher.interval"},
		{name: "no attempts", values: map[string]any{"edits.max_attempts": 0}, contains: "edits.max_attempts"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			if testCase.name != "missing secret" {
				configViper.Set("auth.signing_secret", "secret")
			}
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}
