package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("COORDINATOR_STORE", "")
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Store != StoreMemory {
		t.Errorf("Store = %q, want %q", c.Store, StoreMemory)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	data := []byte(`
store: redis
log_level: debug
redis:
  addr: cache:6379
  prefix: "tenant-a:"
serve:
  metrics_addr: ":9000"
  poll_interval: 250ms
  schedules:
    - name: waivers-lg_1
      schedule: "0 3 * * 3"
      workflow: waiver
      input:
        league_id: lg_1
        policy: rolling
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COORDINATOR_STORE", "")
	t.Setenv("COORDINATOR_REDIS_ADDR", "redis.internal:6380")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Store != StoreRedis || c.LogLevel != "debug" {
		t.Errorf("store/log level = %q/%q", c.Store, c.LogLevel)
	}
	if c.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", c.Redis.Addr)
	}
	if c.Redis.Prefix != "tenant-a:" {
		t.Errorf("Redis.Prefix = %q", c.Redis.Prefix)
	}
	if c.Serve.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", c.Serve.PollInterval)
	}
	if len(c.Serve.Schedules) != 1 || c.Serve.Schedules[0].Input["league_id"] != "lg_1" {
		t.Errorf("Schedules = %+v", c.Serve.Schedules)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Store: StoreMemory}, false},
		{"redis", Config{Store: StoreRedis}, false},
		{"postgres without dsn", Config{Store: StorePostgres}, true},
		{"postgres", Config{Store: StorePostgres, Postgres: PostgresConfig{DSN: "postgres://localhost/x"}}, false},
		{"unknown", Config{Store: "sqlite"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_MergeFlagsWin(t *testing.T) {
	c := DefaultConfig().Merge(Config{Store: "POSTGRES", Postgres: PostgresConfig{DSN: "postgres://db/coord"}})
	if c.Store != StorePostgres || c.Postgres.DSN != "postgres://db/coord" {
		t.Errorf("merged = %+v", c)
	}
	if c.Redis.Addr != "localhost:6379" {
		t.Errorf("unset fields should keep defaults, Redis.Addr = %q", c.Redis.Addr)
	}
}
