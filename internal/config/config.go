package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8082
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"

	EnvPrefix = "CLAUDE_BRIDGE_"
)

// Profile describes the quirks of one backend provider: where the system
// prompt goes, which schema keywords it rejects, how its finish reasons map,
// and which conversion fallbacks apply. Loaded once, immutable afterwards.
type Profile struct {
	// SystemInMessages places the system prompt as a leading system-role
	// message; when false it is sent as a top-level request field.
	SystemInMessages bool `json:"system_in_messages" yaml:"system_in_messages"`

	// UseMaxCompletionTokens sends max_completion_tokens instead of max_tokens.
	UseMaxCompletionTokens bool `json:"use_max_completion_tokens,omitempty" yaml:"use_max_completion_tokens,omitempty"`

	// MaxTokensCap caps the client-requested token budget; zero means no cap.
	MaxTokensCap int `json:"max_tokens_cap,omitempty" yaml:"max_tokens_cap,omitempty"`

	// UnsupportedSchemaKeywords are stripped from tool parameter schemas.
	UnsupportedSchemaKeywords []string `json:"unsupported_schema_keywords,omitempty" yaml:"unsupported_schema_keywords,omitempty"`

	// StringFormats lists the format values the provider accepts on string
	// schemas; any other format keyword is dropped.
	StringFormats []string `json:"string_formats,omitempty" yaml:"string_formats,omitempty"`

	// FinishReasons overrides the default finish_reason -> stop_reason map.
	FinishReasons map[string]string `json:"finish_reasons,omitempty" yaml:"finish_reasons,omitempty"`

	// FlattenToolContent collapses tool_result-only messages into plain user
	// text for providers that reject tool-role messages.
	FlattenToolContent bool `json:"flatten_tool_content,omitempty" yaml:"flatten_tool_content,omitempty"`

	// SupportsVision forwards image blocks as image_url parts; otherwise they
	// degrade to a text placeholder.
	SupportsVision bool `json:"supports_vision,omitempty" yaml:"supports_vision,omitempty"`

	// DropUnsupportedParams drops parameters with no target equivalent (e.g.
	// top_k) instead of rejecting the request.
	DropUnsupportedParams bool `json:"drop_unsupported_params,omitempty" yaml:"drop_unsupported_params,omitempty"`

	// ForcedToolFallback decides what happens when a forced tool's schema is
	// entirely stripped by sanitization: "force" keeps the forced choice,
	// "auto" downgrades to automatic tool selection.
	ForcedToolFallback string `json:"forced_tool_fallback,omitempty" yaml:"forced_tool_fallback,omitempty" validate:"omitempty,oneof=force auto"`

	// StreamUsage asks the provider to attach usage to stream chunks.
	StreamUsage bool `json:"stream_usage,omitempty" yaml:"stream_usage,omitempty"`

	// Passthrough marks a provider that already speaks the Anthropic wire
	// format; requests are forwarded with only the model rewritten.
	Passthrough bool `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
}

// DefaultProfile is the profile for stock OpenAI-compatible endpoints.
func DefaultProfile() Profile {
	return Profile{
		SystemInMessages:          true,
		UnsupportedSchemaKeywords: []string{"additionalProperties", "default", "$schema"},
		StringFormats:             []string{"date-time", "enum"},
		DropUnsupportedParams:     true,
		ForcedToolFallback:        "force",
		StreamUsage:               true,
	}
}

type Provider struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	APIBase string   `json:"api_base_url" yaml:"api_base_url" validate:"required,url"`
	APIKey  string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Models  []string `json:"models,omitempty" yaml:"models,omitempty"`
	Profile Profile  `json:"profile" yaml:"profile"`
}

// ModelRule maps a client-supplied model id to a backend target. Exactly one
// of Match, Prefix or Contains should be set; Target is "provider,model".
type ModelRule struct {
	Match    string `json:"match,omitempty" yaml:"match,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
	Target   string `json:"target" yaml:"target" validate:"required"`
}

type RouterConfig struct {
	Rules   []ModelRule `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`
	Default string      `json:"default,omitempty" yaml:"default,omitempty"`
}

type Config struct {
	Host      string       `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int          `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey    string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Providers []Provider   `json:"providers" yaml:"providers" validate:"min=1,dive"`
	Router    RouterConfig `json:"router" yaml:"router"`
}

// FindProvider returns the provider with the given name, or nil.
func (c *Config) FindProvider(name string) *Provider {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}

	return nil
}

// Default returns a configuration pointing haiku-class models at a small
// OpenAI model and everything else at a large one.
func Default() *Config {
	return &Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Providers: []Provider{
			{
				Name:    "openai",
				APIBase: "https://api.openai.com/v1/chat/completions",
				Models:  []string{"gpt-4.1", "gpt-4.1-mini"},
				Profile: DefaultProfile(),
			},
		},
		Router: RouterConfig{
			Rules: []ModelRule{
				{Contains: "haiku", Target: "openai,gpt-4.1-mini"},
				{Contains: "sonnet", Target: "openai,gpt-4.1"},
				{Contains: "opus", Target: "openai,gpt-4.1"},
			},
			Default: "openai,gpt-4.1",
		},
	}
}

// Manager loads and holds the configuration. Get returns an immutable
// snapshot; concurrent readers never observe a partially loaded config.
type Manager struct {
	baseDir     string
	configValue atomic.Value
	validate    *validator.Validate
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		validate: validator.New(),
	}
}

// Load reads config.json or config.yaml from the base directory, applies
// environment overrides, validates, and publishes the snapshot.
func (m *Manager) Load() (*Config, error) {
	path := m.Path()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal json config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := m.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Profile.ForcedToolFallback == "" {
			p.Profile.ForcedToolFallback = "force"
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv(EnvPrefix + "HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv(EnvPrefix + "PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if key := os.Getenv(EnvPrefix + "API_KEY"); key != "" {
		cfg.APIKey = key
	}

	// Provider keys fall back to <NAME>_API_KEY, e.g. OPENAI_API_KEY.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}

		envName := strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")) + "_API_KEY"
		if key := os.Getenv(envName); key != "" {
			p.APIKey = key
		}
	}
}

// Get returns the current snapshot, loading it on first use. A failed load
// yields the shipped defaults so the CLI stays usable.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return Default()
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(m.baseDir, DefaultConfigFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

// Path returns the config file that exists, preferring JSON over YAML, or the
// default JSON path when neither does.
func (m *Manager) Path() string {
	jsonPath := filepath.Join(m.baseDir, DefaultConfigFilename)
	if fileExists(jsonPath) {
		return jsonPath
	}

	for _, name := range []string{DefaultYAMLFilename, "config.yml"} {
		p := filepath.Join(m.baseDir, name)
		if fileExists(p) {
			return p
		}
	}

	return jsonPath
}

func (m *Manager) Exists() bool {
	return fileExists(m.Path())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
