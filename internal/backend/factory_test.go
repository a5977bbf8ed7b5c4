package backend

import (
	"context"
	"path/filepath"
	"testing"

	"spendly/internal/config"
	"spendly/internal/log"
	"spendly/internal/store"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory local", Config{Type: MemoryBackend, Bus: LocalBus}, false},
		{"bad type", Config{Type: "sheets", Bus: LocalBus}, true},
		{"bad bus", Config{Type: MemoryBackend, Bus: "kafka"}, true},
		{"sqlite without path", Config{Type: SQLiteBackend, Bus: LocalBus}, true},
		{"postgres without url", Config{Type: PostgresBackend, Bus: LocalBus}, true},
		{"amqp without url", Config{Type: MemoryBackend, Bus: AMQPBus}, true},
		{"redis without channel", Config{Type: MemoryBackend, Bus: RedisBus, RedisURL: "redis://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := &config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", EventBus: "local"}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.Bus != LocalBus || cfg.SQLiteDBPath != "x.db" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestCreateBackend(t *testing.T) {
	for _, cfg := range []Config{
		{Type: MemoryBackend, Bus: LocalBus},
		{Type: SQLiteBackend, Bus: LocalBus, SQLiteDBPath: filepath.Join(t.TempDir(), "s.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := NewFactory(log.Discard()).CreateBackend(context.Background(), cfg)
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer res.Cleanup()

			if err := res.Ready(context.Background()); err != nil {
				t.Fatalf("Ready: %v", err)
			}
			id, err := res.Live.Add(context.Background(), "expenses", store.Fields{"ownerId": "u1"})
			if err != nil || id == "" {
				t.Fatalf("Add via live store: %q, %v", id, err)
			}
		})
	}
}
