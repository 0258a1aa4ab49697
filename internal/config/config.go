// Package config loads clawlink's configuration file (JSON, YAML or TOML).
package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"clawlink/internal/datadir"
)

// Environment variables that override the file after expansion
const (
	EnvGatewayURL   = "CLAWLINK_GATEWAY_URL"
	EnvGatewayToken = "CLAWLINK_GATEWAY_TOKEN"
)

// Config is the clawlink configuration
type Config struct {
	DataDir     string           `json:"data_dir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir,omitempty"`
	SecretsFile string           `json:"secrets_file,omitempty" yaml:"secrets_file,omitempty" toml:"secrets_file,omitempty"`
	Timezone    string           `json:"timezone,omitempty" yaml:"timezone,omitempty" toml:"timezone,omitempty"`
	Gateway     GatewayConfig    `json:"gateway" yaml:"gateway" toml:"gateway"`
	Agent       AgentConfig      `json:"agent" yaml:"agent" toml:"agent"`
	Reconnect   ReconnectConfig  `json:"reconnect" yaml:"reconnect" toml:"reconnect"`
	Handshake   HandshakeConfig  `json:"handshake" yaml:"handshake" toml:"handshake"`
	Transcript  TranscriptConfig `json:"transcript" yaml:"transcript" toml:"transcript"`
	Schedules   []ScheduleConfig `json:"schedules,omitempty" yaml:"schedules,omitempty" toml:"schedules,omitempty"`
	Debug       DebugConfig      `json:"debug,omitempty" yaml:"debug,omitempty" toml:"debug,omitempty"`
}

// AgentConfig holds defaults for agent runs started by clawlink
type AgentConfig struct {
	SessionKey        string `json:"session_key" yaml:"session_key" toml:"session_key"`
	Thinking          string `json:"thinking" yaml:"thinking" toml:"thinking"`
	AgentID           string `json:"agent_id,omitempty" yaml:"agent_id,omitempty" toml:"agent_id,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	ExtraSystemPrompt string `json:"extra_system_prompt,omitempty" yaml:"extra_system_prompt,omitempty" toml:"extra_system_prompt,omitempty"`
}

// RunTimeout returns the run timeout as a time.Duration
func (a AgentConfig) RunTimeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// TranscriptConfig controls the local record of finished runs
type TranscriptConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"` // defaults to {data_dir}/data/transcripts.db
}

// DebugConfig contains debugging and logging settings
type DebugConfig struct {
	VerboseLogging bool `json:"verbose_logging,omitempty" yaml:"verbose_logging,omitempty" toml:"verbose_logging,omitempty"`
	LogFrames      bool `json:"log_frames,omitempty" yaml:"log_frames,omitempty" toml:"log_frames,omitempty"` // log every inbound frame (may contain message text)
}

var validThinking = map[string]bool{
	"off": true, "minimal": true, "low": true, "medium": true, "high": true,
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:   "ws://127.0.0.1:18789",
			Token: "${OPENCLAW_GATEWAY_TOKEN}",
		},
		Agent: AgentConfig{
			SessionKey:     "main",
			Thinking:       "medium",
			TimeoutSeconds: 120,
		},
		Reconnect: DefaultReconnectConfig(),
		Handshake: HandshakeConfig{ChallengeGraceMS: 750},
		Transcript: TranscriptConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from a file, writing the default configuration
// there first if it does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Created default configuration at %s\n", path)
		return cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg.finish()
}

// Format is a config file encoding
type Format int

const (
	FormatJSON Format = iota // comments and trailing commas allowed
	FormatYAML
	FormatTOML
)

// FormatFor picks the encoding from the file extension, JSON by default
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

// Parse decodes a config document over the defaults, so omitted sections
// keep their default values.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	case FormatTOML:
		err = toml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// finish runs the post-decode pipeline shared by Load and the default path
func (c *Config) finish() (*Config, error) {
	// Tilde first so secrets_file can point at ~/...
	c.expandTilde()

	if err := c.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	c.expandEnvVars()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

// Save writes the configuration in the format its extension selects
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch FormatFor(path) {
	case FormatYAML:
		data, err = yaml.Marshal(c)
	case FormatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// 0600: the file usually carries the gateway token
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)
	c.Gateway.URL = os.ExpandEnv(c.Gateway.URL)
	c.Gateway.Token = os.ExpandEnv(c.Gateway.Token)
	c.Agent.ExtraSystemPrompt = os.ExpandEnv(c.Agent.ExtraSystemPrompt)
	c.Transcript.Path = os.ExpandEnv(c.Transcript.Path)
}

// applyEnvOverrides lets the environment replace the gateway address and token
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvGatewayURL); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv(EnvGatewayToken); v != "" {
		c.Gateway.Token = v
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("invalid gateway configuration: %w", err)
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("invalid reconnect configuration: %w", err)
	}
	if c.Handshake.ChallengeGraceMS < 0 {
		return fmt.Errorf("challenge_grace_ms cannot be negative (got %d)", c.Handshake.ChallengeGraceMS)
	}

	if c.Agent.TimeoutSeconds < 0 {
		return fmt.Errorf("agent timeout_seconds cannot be negative (got %d)", c.Agent.TimeoutSeconds)
	}
	if c.Agent.Thinking != "" && !validThinking[c.Agent.Thinking] {
		return fmt.Errorf("invalid thinking level: %s (must be off, minimal, low, medium, or high)", c.Agent.Thinking)
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid schedule #%d: %w", i+1, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate schedule id: %s", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
	}
	return nil
}

// GetLocation returns the configured timezone, or time.Local
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// TranscriptPath resolves where run transcripts are stored
func (c *Config) TranscriptPath() (string, error) {
	if c.Transcript.Path != "" {
		return c.Transcript.Path, nil
	}
	dir, err := datadir.New(c.DataDir)
	if err != nil {
		return "", err
	}
	return dir.TranscriptPath(), nil
}

// expandTilde replaces a leading "~/" with the home directory in path fields
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Transcript.Path = expand(c.Transcript.Path)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Variables that are already set are not overridden, and a missing file is
// a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := datadir.ParseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
