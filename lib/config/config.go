// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads pack server configuration.
//
// Configuration comes from a single YAML file specified by:
//   - PACKSERVE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment
// variables do not override file values; the only expansion performed
// is ${VAR} substitution in paths for portability.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the pack server configuration. Durations are Go duration
// strings ("30s", "12h").
type Config struct {
	// Listen is the address of the HTTP distribution listener
	// (downloads, tag resolution, control endpoints).
	Listen string `yaml:"listen"`

	// UploadListen is the address of the TCP upload listener.
	UploadListen string `yaml:"upload_listen"`

	// BaseURL is the externally reachable URL of the distribution
	// listener. It is what the proxy hands to game clients, so it
	// must be resolvable from their side of the network, not the
	// server's.
	BaseURL string `yaml:"base_url"`

	// Paths configures storage locations.
	Paths PathsConfig `yaml:"paths"`

	// Upload configures the upload listener's limits.
	Upload UploadConfig `yaml:"upload"`

	// TokenTTL is the validity period of issued tokens.
	TokenTTL string `yaml:"token_ttl"`

	// ShutdownTimeout bounds graceful shutdown: in-flight downloads
	// and uploads get this long to finish before connections are
	// closed.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// PathsConfig configures directory locations. All default under Root.
type PathsConfig struct {
	// Root is the base directory for pack server data.
	Root string `yaml:"root"`

	// Store is the content-addressed pack store directory.
	Store string `yaml:"store"`

	// Tags is the tag mapping directory.
	Tags string `yaml:"tags"`

	// Keys is the token signing key directory.
	Keys string `yaml:"keys"`
}

// UploadConfig configures the upload listener's limits.
type UploadConfig struct {
	// MaxSessions bounds concurrent upload sessions. Announcements
	// beyond the limit get a busy reply.
	MaxSessions int `yaml:"max_sessions"`

	// MaxPackSize rejects announcements declaring a larger pack.
	MaxPackSize int64 `yaml:"max_pack_size"`

	// IdleTimeout aborts a session that receives no data for this
	// long, freeing its slot and staging file.
	IdleTimeout string `yaml:"idle_timeout"`
}

// Default returns the configuration used when no config file is
// given: local listeners and a per-user state directory. Derived
// paths are filled in, so the result is ready to validate and run.
func Default() *Config {
	cfg := baseConfig()
	cfg.expandVariables()
	cfg.fillDerivedPaths()
	return cfg
}

// baseConfig is the merge target for LoadFile. Store/Tags/Keys stay
// empty here: they are derived from Root only after the file's values
// are applied, so a file that sets just paths.root still controls
// where everything lands.
func baseConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "packserve")

	return &Config{
		Listen:       "127.0.0.1:8460",
		UploadListen: "127.0.0.1:8461",
		BaseURL:      "http://127.0.0.1:8460",
		Paths: PathsConfig{
			Root: defaultRoot,
		},
		Upload: UploadConfig{
			MaxSessions: 4,
			MaxPackSize: 512 * 1024 * 1024,
			IdleTimeout: "30s",
		},
		TokenTTL:        "12h",
		ShutdownTimeout: "15s",
	}
}

// EnvConfig is the environment variable naming the config file.
const EnvConfig = "PACKSERVE_CONFIG"

// Load loads configuration from the PACKSERVE_CONFIG environment
// variable. Fails if it is not set; there is no discovery.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("PACKSERVE_CONFIG environment variable not set; " +
			"set it to the path of your packserve.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := baseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.fillDerivedPaths()
	return cfg, nil
}

// fillDerivedPaths defaults the storage directories under Root when
// not set explicitly.
func (c *Config) fillDerivedPaths() {
	if c.Paths.Store == "" {
		c.Paths.Store = filepath.Join(c.Paths.Root, "store")
	}
	if c.Paths.Tags == "" {
		c.Paths.Tags = filepath.Join(c.Paths.Root, "tags")
	}
	if c.Paths.Keys == "" {
		c.Paths.Keys = filepath.Join(c.Paths.Root, "keys")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PACKSERVE_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["PACKSERVE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Tags = expandVars(c.Paths.Tags, vars)
	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// TokenTTLDuration parses the token TTL.
func (c *Config) TokenTTLDuration() (time.Duration, error) {
	return parseDuration("token_ttl", c.TokenTTL)
}

// ShutdownTimeoutDuration parses the shutdown timeout.
func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	return parseDuration("shutdown_timeout", c.ShutdownTimeout)
}

// IdleTimeoutDuration parses the upload idle timeout.
func (c *Config) IdleTimeoutDuration() (time.Duration, error) {
	return parseDuration("upload.idle_timeout", c.Upload.IdleTimeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", field, value)
	}
	return d, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.UploadListen == "" {
		errs = append(errs, fmt.Errorf("upload_listen is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base_url is required"))
	} else if parsed, err := url.Parse(c.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Upload.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_sessions must be positive"))
	}
	if c.Upload.MaxPackSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_pack_size must be positive"))
	}
	if _, err := c.IdleTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.TokenTTLDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Store, c.Paths.Tags} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	// The key directory holds the signing key.
	if c.Paths.Keys != "" {
		if err := os.MkdirAll(c.Paths.Keys, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", c.Paths.Keys, err)
		}
	}
	return nil
}
