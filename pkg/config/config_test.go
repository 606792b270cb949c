package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Fatalf("port = %d; want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.PingInterval.Duration() != DefaultPingInterval {
		t.Fatalf("ping interval = %v", cfg.Server.PingInterval.Duration())
	}
	if cfg.Limits.MaxMessageBytes.Int64() != DefaultMaxMessageBytes {
		t.Fatalf("max message bytes = %d", cfg.Limits.MaxMessageBytes.Int64())
	}
	if cfg.Identity.CodeLength != DefaultCodeLength {
		t.Fatalf("code length = %d", cfg.Identity.CodeLength)
	}
	if cfg.Addr() != ":3000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestLoadYAMLWithHumanFriendlyValues(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 8080
  ping_interval: "10s"
  pong_timeout: 30
storage:
  db_path: "/var/lib/pairwire"
limits:
  events_per_second: 5
  burst: 10
  max_message_bytes: "128KB"
identity:
  code_length: 8
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Server.PingInterval.Duration() != 10*time.Second {
		t.Fatalf("ping interval = %v", cfg.Server.PingInterval.Duration())
	}
	// bare numbers are seconds
	if cfg.Server.PongTimeout.Duration() != 30*time.Second {
		t.Fatalf("pong timeout = %v", cfg.Server.PongTimeout.Duration())
	}
	if cfg.Storage.DBPath != "/var/lib/pairwire" {
		t.Fatalf("db path = %q", cfg.Storage.DBPath)
	}
	if cfg.Limits.MaxMessageBytes.Int64() != 128*1000 {
		t.Fatalf("max message bytes = %d", cfg.Limits.MaxMessageBytes.Int64())
	}
	if cfg.Identity.CodeLength != 8 {
		t.Fatalf("code length = %d", cfg.Identity.CodeLength)
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	p := writeConfig(t, "limits:\n  max_message_bytes: \"lots\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for invalid size value")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "server:\n  address: \"10.0.0.1\"\n  port: 9000\n")
	t.Setenv("PAIRWIRE_ADDR", "0.0.0.0:4000")
	t.Setenv("PAIRWIRE_DB_PATH", "/tmp/pw")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:4000" {
		t.Fatalf("env should win over file; addr = %q", cfg.Addr())
	}
	if cfg.Storage.DBPath != "/tmp/pw" {
		t.Fatalf("db path = %q", cfg.Storage.DBPath)
	}
}

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{"localhost:3000", "localhost", 3000, true},
		{":8080", "", 8080, true},
		{"nocolon", "", 0, false},
		{"host:notaport", "", 0, false},
	}
	for _, tc := range cases {
		host, port, ok := SplitHostPort(tc.in)
		if ok != tc.ok || host != tc.host || port != tc.port {
			t.Fatalf("SplitHostPort(%q) = (%q,%d,%v); want (%q,%d,%v)", tc.in, host, port, ok, tc.host, tc.port, tc.ok)
		}
	}
}
