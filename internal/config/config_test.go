package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nearchat.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a fresh config file")
	}
	if cfg.Presence.Topic == "" || cfg.Invite.TimeoutSec != 30 {
		t.Fatalf("defaults missing: %+v", cfg)
	}

	// Second call loads the existing file.
	cfg2, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second Ensure recreated the file")
	}
	if cfg2 != cfg {
		t.Fatalf("reloaded config differs: %+v vs %+v", cfg2, cfg)
	}
}

func TestLoadMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nearchat.json")
	partial := `{"identity":{"display_name":"bob"}}`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.DisplayName != "bob" {
		t.Fatalf("explicit field lost: %q", cfg.Identity.DisplayName)
	}
	if cfg.Presence.TTLSec != 15 || cfg.P2P.MdnsTag == "" {
		t.Fatalf("missing fields should keep defaults: %+v", cfg)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nearchat.json")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity":{"display_name":"carol"}}`)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.DisplayName != "carol" {
		t.Fatalf("BOM handling broken: %q", cfg.Identity.DisplayName)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		bad   func(*Config)
		valid bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty display name", func(c *Config) { c.Identity.DisplayName = " " }, false},
		{"display name with hash", func(c *Config) { c.Identity.DisplayName = "a#b" }, false},
		{"port out of range", func(c *Config) { c.P2P.ListenPort = 70000 }, false},
		{"heartbeat not below ttl", func(c *Config) { c.Presence.HeartbeatSec = c.Presence.TTLSec }, false},
		{"zero invite timeout", func(c *Config) { c.Invite.TimeoutSec = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.bad(&cfg)
			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
