// Package config loads and resolves the bridge configuration. Settings come
// from an embedded YAML default, an optional config file, and environment
// variable expansion inside either.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTools is the stable external tool surface, in registration order.
var DefaultTools = []string{
	"browser_navigate",
	"browser_snapshot",
	"browser_click",
	"browser_type",
	"browser_take_screenshot",
}

// Config is the raw YAML configuration.
type Config struct {
	// Host and Port for the HTTP listener serving /mcp and the control API.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Headless runs browsers without UI. Individual sessions may override.
	Headless *bool `yaml:"headless"`

	// NoSandbox disables the Chrome sandbox (needed in some containers).
	NoSandbox bool `yaml:"noSandbox"`

	// ExecutablePath overrides auto-detection of Chrome.
	ExecutablePath string `yaml:"executablePath"`

	// ProfileDir is the default profile location. "auto" allocates a fresh
	// directory per session; a fixed path reuses one persistent profile
	// (logins survive across runs).
	ProfileDir string `yaml:"profileDir"`

	// AllowedTools restricts the exposed tool set. Empty means all tools.
	AllowedTools []string `yaml:"allowedTools"`

	// DataDir holds profiles and the call history database.
	DataDir string `yaml:"dataDir"`

	// IdleTimeout moves an inactive session to Idle; ReapTimeout closes it.
	IdleTimeout string `yaml:"idleTimeout"`
	ReapTimeout string `yaml:"reapTimeout"`

	// CallTimeout bounds each dispatched tool call.
	CallTimeout string `yaml:"callTimeout"`

	// HistoryPath overrides the call history database location.
	// Empty uses <dataDir>/history.db; "off" disables recording.
	HistoryPath string `yaml:"historyPath"`
}

// Resolved is the fully resolved configuration with defaults applied.
type Resolved struct {
	Host           string
	Port           int
	Headless       bool
	NoSandbox      bool
	ExecutablePath string
	ProfileDir     string
	AllowedTools   []string
	DataDir        string
	IdleTimeout    time.Duration
	ReapTimeout    time.Duration
	CallTimeout    time.Duration
	HistoryPath    string
}

const (
	// DefaultPort is the MCP listen port when none is configured.
	DefaultPort = 8931

	DefaultIdleTimeout = 5 * time.Minute
	DefaultCallTimeout = 30 * time.Second
)

// LoadFromBytes parses YAML configuration with environment expansion.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadFile reads and parses a YAML config file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// Resolve applies defaults and normalizes durations and paths.
func Resolve(c Config) (*Resolved, error) {
	r := &Resolved{
		Host:           c.Host,
		Port:           c.Port,
		Headless:       true,
		NoSandbox:      c.NoSandbox,
		ExecutablePath: c.ExecutablePath,
		ProfileDir:     c.ProfileDir,
		DataDir:        c.DataDir,
		HistoryPath:    c.HistoryPath,
	}

	if c.Headless != nil {
		r.Headless = *c.Headless
	}
	if r.Host == "" {
		r.Host = "127.0.0.1"
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.ProfileDir == "" {
		r.ProfileDir = "auto"
	}
	if r.DataDir == "" {
		r.DataDir = defaultDataDir()
	}

	var err error
	if r.IdleTimeout, err = parseDuration(c.IdleTimeout, DefaultIdleTimeout); err != nil {
		return nil, fmt.Errorf("idleTimeout: %w", err)
	}
	if r.ReapTimeout, err = parseDuration(c.ReapTimeout, 2*r.IdleTimeout); err != nil {
		return nil, fmt.Errorf("reapTimeout: %w", err)
	}
	if r.CallTimeout, err = parseDuration(c.CallTimeout, DefaultCallTimeout); err != nil {
		return nil, fmt.Errorf("callTimeout: %w", err)
	}

	r.AllowedTools = normalizeTools(c.AllowedTools)

	if r.HistoryPath == "" {
		r.HistoryPath = filepath.Join(r.DataDir, "history.db")
	}

	return r, nil
}

// normalizeTools filters the allowed list down to known tool names,
// preserving registration order. Empty input enables everything.
func normalizeTools(allowed []string) []string {
	if len(allowed) == 0 {
		out := make([]string, len(DefaultTools))
		copy(out, DefaultTools)
		return out
	}
	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[name] = true
	}
	var out []string
	for _, name := range DefaultTools {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

func defaultDataDir() string {
	if dir := os.Getenv("WEBBRIDGE_DATA_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "webbridge")
}
