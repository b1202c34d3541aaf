package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := FromViper(NewViper(filepath.Join(t.TempDir(), "missing.yaml")))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Fatalf("server=%+v", cfg)
	}
	c := cfg.Client
	if c.SignalInterval != time.Second || c.StatusInterval != 750*time.Millisecond || c.MaxPollFailures != 3 {
		t.Fatalf("client intervals=%+v", c)
	}
	if c.AutoSkip != 30*time.Second || c.GetReady != 60*time.Second {
		t.Fatalf("turn timers=%v/%v", c.AutoSkip, c.GetReady)
	}
	if c.SubGroup != "General" || len(c.ICEServers) != 1 {
		t.Fatalf("client=%+v", c)
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := "port: 9090\nclient:\n  name: Ann\n  status_interval: 2s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICEQUEUE_CLIENT_SUB_GROUP", "Team")

	cfg, err := FromViper(NewViper(path))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 || cfg.Client.Name != "Ann" || cfg.Client.StatusInterval != 2*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Client.SubGroup != "Team" {
		t.Fatalf("env override ignored, subGroup=%q", cfg.Client.SubGroup)
	}
}
