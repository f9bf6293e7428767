package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("expect default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: "127.0.0.1:7000"
  shutdown_timeout: 2s
codec:
  frame: binary
  payload: gob
sessions:
  idle_timeout: 90s
limits:
  rate: 100
  burst: 10
registry:
  endpoints: ["127.0.0.1:2379"]
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" || cfg.Server.ShutdownTimeout.D() != 2*time.Second {
		t.Fatalf("server section not applied: %+v", cfg.Server)
	}
	// Untouched values keep their defaults.
	if cfg.Server.ServiceName != "hub" || cfg.Sessions.SweepInterval.D() != 30*time.Second {
		t.Fatalf("defaults lost: %+v %+v", cfg.Server, cfg.Sessions)
	}
	if cfg.Sessions.IdleTimeout.D() != 90*time.Second {
		t.Fatalf("expect 90s idle timeout, got %v", cfg.Sessions.IdleTimeout.D())
	}
	if cfg.Codec.Frame != "binary" || cfg.Codec.Payload != "gob" {
		t.Fatalf("codec section not applied: %+v", cfg.Codec)
	}
	if len(cfg.Registry.Endpoints) != 1 || cfg.Limits.Burst != 10 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if level, _ := cfg.Log.SlogLevel(); level != slog.LevelDebug {
		t.Fatalf("expect debug level, got %v", level)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad duration", "sessions:\n  idle_timeout: soon\n", "bad duration"},
		{"unknown field", "server:\n  port: 1\n", "port"},
		{"gob frame", "codec:\n  frame: gob\n", "codec.frame"},
		{"binary payload", "codec:\n  payload: binary\n", "codec.payload"},
		{"rate without burst", "limits:\n  rate: 5\n", "limits.burst"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"zero ttl", "server:\n  ttl: 0\n", "server.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expect error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expect not-exist error, got %v", err)
	}
}
