// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/agrochat/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the full agrochat configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend" json:"backend"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Log       LogConfig       `toml:"log" json:"log"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	DevServer DevServerConfig `toml:"devserver" json:"devserver"`
}

// BackendConfig describes how to reach the assistant backend.
type BackendConfig struct {
	URL string `toml:"url" json:"url"`

	// TimeoutSeconds bounds non-streaming requests.
	TimeoutSeconds int `toml:"timeout_seconds" json:"timeout_seconds"`

	// StreamIdleTimeoutSeconds aborts a stream that sends nothing for this long.
	// Zero disables the idle check.
	StreamIdleTimeoutSeconds int `toml:"stream_idle_timeout_seconds" json:"stream_idle_timeout_seconds"`

	// MaxRetries applies to idempotent GET requests only.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RequestsPerSecond throttles outgoing requests. Zero means unlimited.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// StorageConfig selects the local key-value store.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"` // "file" or "sqlite"
	Dir     string `toml:"dir" json:"dir"`

	// SealToken encrypts the stored token with AGROCHAT_STORE_KEY.
	SealToken bool `toml:"seal_token" json:"seal_token"`

	// Key is only ever read from the environment.
	Key string `toml:"-" json:"-"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// UIConfig holds terminal presentation settings.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme"` // "auto", "dark", "light"
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`
}

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Addr   string `toml:"addr" json:"addr"`
	Secret string `toml:"secret" json:"secret"`
}

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// DefaultBackendURL matches the backend's own default listen address.
const DefaultBackendURL = "http://127.0.0.1:8000"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:                      DefaultBackendURL,
			TimeoutSeconds:           30,
			StreamIdleTimeoutSeconds: 120,
			MaxRetries:               2,
			RequestsPerSecond:        5,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Theme:          "auto",
			RenderMarkdown: true,
		},
		DevServer: DevServerConfig{
			Addr: "127.0.0.1:8000",
		},
	}
}

// Timeout returns the request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// StreamIdleTimeout returns the stream idle timeout as a duration.
func (b BackendConfig) StreamIdleTimeout() time.Duration {
	return time.Duration(b.StreamIdleTimeoutSeconds) * time.Second
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the agrochat home directory.
func Dir() (string, error) {
	if home := os.Getenv("AGROCHAT_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".agrochat"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the storage directory, defaulting to the home directory.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return Dir()
}

// ensureSecurePermissions tightens the config file to owner-only access.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file from the default location, applies the .env
// file and environment overrides, and validates the result. A missing file
// yields the defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file: %w", err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFileOnly reads path over the defaults without .env, environment
// overrides or validation. It is the starting point for editing the file.
func LoadFileOnly(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv exports AGROCHAT_* variables from a .env file without touching
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	vars, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for k, v := range vars {
		if !strings.HasPrefix(k, "AGROCHAT_") {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the configuration to the default location.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration as TOML with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# agrochat configuration file")
	fmt.Fprintln(&buf, "# Generated by agrochat - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700)
}

// ApplyEnvOverrides applies AGROCHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AGROCHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("AGROCHAT_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AGROCHAT_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("AGROCHAT_STORE_KEY"); v != "" {
		c.Storage.Key = v
		c.Storage.SealToken = true
	}
	if v := os.Getenv("AGROCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("AGROCHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("AGROCHAT_THEME"); v != "" {
		c.UI.Theme = strings.ToLower(v)
	}
	if v := os.Getenv("AGROCHAT_DEVSERVER_SECRET"); v != "" {
		c.DevServer.Secret = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"backend.url", fmt.Sprintf("must be an http(s) URL, got %q", c.Backend.URL)})
	}
	if c.Backend.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{"backend.timeout_seconds", "must be positive"})
	}
	if c.Backend.StreamIdleTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{"backend.stream_idle_timeout_seconds", "must not be negative"})
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		errs = append(errs, ValidationError{"backend.max_retries", "must be between 0 and 10"})
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"backend.requests_per_second", "must not be negative"})
	}
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
	default:
		errs = append(errs, ValidationError{"storage.backend", fmt.Sprintf("must be %q or %q", StorageFile, StorageSQLite)})
	}
	if c.Storage.SealToken && c.Storage.Key == "" {
		errs = append(errs, ValidationError{"storage.seal_token", "requires AGROCHAT_STORE_KEY"})
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	switch c.UI.Theme {
	case "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{"ui.theme", fmt.Sprintf("unknown theme %q", c.UI.Theme)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// KEY ACCESS
// =============================================================================

// Get returns the value at a dotted TOML key such as "backend.url".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field at a dotted TOML key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected true or false", key)
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected an integer", key)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number", key)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("%s: unsupported type %s", key, field.Kind())
	}
	return nil
}

// Keys lists every settable dotted key.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		st := section.Type
		for j := 0; j < st.NumField(); j++ {
			tag := st.Field(j).Tag.Get("toml")
			if tag == "" || tag == "-" {
				continue
			}
			keys = append(keys, section.Tag.Get("toml")+"."+tag)
		}
	}
	return keys
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, fmt.Errorf("invalid key %q: expected section.field", key)
	}
	v := reflect.ValueOf(c).Elem()
	section, ok := fieldByTag(v, parts[0])
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown section: %s", parts[0])
	}
	field, ok := fieldByTag(section, parts[1])
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
	}
	return field, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("toml"); name != "-" && strings.EqualFold(name, tag) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
