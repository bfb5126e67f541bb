// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packserve.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestDefaultIsReadyToRun(t *testing.T) {
	cfg := Default()

	for name, path := range map[string]string{
		"store": cfg.Paths.Store,
		"tags":  cfg.Paths.Tags,
		"keys":  cfg.Paths.Keys,
	} {
		if path == "" {
			t.Errorf("Default() left paths.%s empty", name)
			continue
		}
		if !strings.HasPrefix(path, cfg.Paths.Root+string(filepath.Separator)) {
			t.Errorf("paths.%s = %q is not under root %q", name, path, cfg.Paths.Root)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:9000"
upload_listen: "0.0.0.0:9001"
base_url: "https://packs.example.net"
paths:
  root: /var/lib/packserve
upload:
  max_sessions: 8
  max_pack_size: 104857600
  idle_timeout: 45s
token_ttl: 24h
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.BaseURL != "https://packs.example.net" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Upload.MaxSessions != 8 {
		t.Errorf("MaxSessions = %d", cfg.Upload.MaxSessions)
	}

	// Unset fields keep their defaults.
	if cfg.ShutdownTimeout != "15s" {
		t.Errorf("ShutdownTimeout = %q, want default", cfg.ShutdownTimeout)
	}

	// Storage paths derive from root.
	if cfg.Paths.Store != "/var/lib/packserve/store" {
		t.Errorf("Paths.Store = %q", cfg.Paths.Store)
	}
	if cfg.Paths.Keys != "/var/lib/packserve/keys" {
		t.Errorf("Paths.Keys = %q", cfg.Paths.Keys)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	ttl, err := cfg.TokenTTLDuration()
	if err != nil {
		t.Fatalf("TokenTTLDuration: %v", err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("token TTL = %v", ttl)
	}
}

func TestVariableExpansion(t *testing.T) {
	path := writeConfig(t, `
base_url: "http://localhost:8460"
paths:
  root: /srv/packserve
  tags: ${PACKSERVE_ROOT}/tag-data
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Tags != "/srv/packserve/tag-data" {
		t.Errorf("Paths.Tags = %q", cfg.Paths.Tags)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Config)
		fragment string
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "packs.example.net/path" }, "base_url"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"zero sessions", func(c *Config) { c.Upload.MaxSessions = 0 }, "max_sessions"},
		{"bad idle timeout", func(c *Config) { c.Upload.IdleTimeout = "soon" }, "idle_timeout"},
		{"negative ttl", func(c *Config) { c.TokenTTL = "-1h" }, "token_ttl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.fragment) {
				t.Errorf("error %q does not mention %q", err, tc.fragment)
			}
		})
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("PACKSERVE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded without PACKSERVE_CONFIG")
	}
}

func TestLoadFromEnvVar(t *testing.T) {
	path := writeConfig(t, "base_url: \"http://localhost:8460\"\n")
	t.Setenv("PACKSERVE_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8460" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = filepath.Join(t.TempDir(), "data")
	cfg.fillDerivedPaths()
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.Store, cfg.Paths.Tags, cfg.Paths.Keys} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
	keyInfo, err := os.Stat(cfg.Paths.Keys)
	if err != nil {
		t.Fatalf("stating key dir: %v", err)
	}
	if keyInfo.Mode().Perm() != 0o700 {
		t.Errorf("key directory mode = %v, want 0700", keyInfo.Mode().Perm())
	}
}
