package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestManager_LoadJSON(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.json", `{
		"host": "0.0.0.0",
		"port": 9000,
		"providers": [{
			"name": "openai",
			"api_base_url": "https://api.openai.com/v1/chat/completions",
			"api_key": "sk-test",
			"profile": {"system_in_messages": true}
		}],
		"router": {
			"rules": [{"contains": "sonnet", "target": "openai,gpt-4.1"}],
			"default": "openai,gpt-4.1"
		}
	}`)

	mgr := NewManager(dir)
	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, "force", cfg.Providers[0].Profile.ForcedToolFallback)
	assert.Equal(t, "openai,gpt-4.1", cfg.Router.Default)
}

func TestManager_LoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
providers:
  - name: openrouter
    api_base_url: https://openrouter.ai/api/v1/chat/completions
    api_key: or-test
    profile:
      system_in_messages: true
      max_tokens_cap: 16384
router:
  rules:
    - prefix: claude-3-5-haiku
      target: openrouter,deepseek/deepseek-chat
  default: openrouter,anthropic/claude-sonnet-4
`)

	mgr := NewManager(dir)
	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, 16384, cfg.Providers[0].Profile.MaxTokensCap)
	require.Len(t, cfg.Router.Rules, 1)
	assert.Equal(t, "claude-3-5-haiku", cfg.Router.Rules[0].Prefix)
}

func TestManager_JSONPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "port: 1\n")
	writeConfig(t, dir, "config.json", `{"port": 2, "providers": [{"name": "p", "api_base_url": "https://example.com/v1"}]}`)

	mgr := NewManager(dir)
	assert.Equal(t, filepath.Join(dir, "config.json"), mgr.Path())
}

func TestManager_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.json", `{
		"providers": [{"name": "openai", "api_base_url": "https://api.openai.com/v1/chat/completions"}],
		"router": {"default": "openai,gpt-4.1"}
	}`)

	t.Setenv("CLAUDE_BRIDGE_HOST", "10.0.0.1")
	t.Setenv("CLAUDE_BRIDGE_PORT", "7777")
	t.Setenv("CLAUDE_BRIDGE_API_KEY", "bridge-secret")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	mgr := NewManager(dir)
	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Host)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "bridge-secret", cfg.APIKey)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
}

func TestManager_EnvDoesNotClobberExplicitKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.json", `{
		"providers": [{"name": "openai", "api_base_url": "https://api.openai.com/v1/chat/completions", "api_key": "sk-explicit"}]
	}`)

	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	mgr := NewManager(dir)
	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-explicit", cfg.Providers[0].APIKey)
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.json", `{"providers": []}`)

	mgr := NewManager(dir)
	_, err := mgr.Load()
	assert.Error(t, err)

	writeConfig(t, dir, "config.json", `{"providers": [{"name": "p", "api_base_url": "not a url"}]}`)
	_, err = mgr.Load()
	assert.Error(t, err)
}

func TestManager_GetFallsBackToDefault(t *testing.T) {
	mgr := NewManager(t.TempDir())

	cfg := mgr.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.NotEmpty(t, cfg.Providers)
	assert.Equal(t, "openai,gpt-4.1", cfg.Router.Default)
}

func TestManager_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	in := Default()
	in.APIKey = "secret"
	require.NoError(t, mgr.Save(in))
	assert.True(t, mgr.Exists())

	out, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", out.APIKey)
	assert.Equal(t, in.Router.Default, out.Router.Default)
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	assert.True(t, p.SystemInMessages)
	assert.True(t, p.DropUnsupportedParams)
	assert.True(t, p.StreamUsage)
	assert.Contains(t, p.UnsupportedSchemaKeywords, "additionalProperties")
	assert.Equal(t, "force", p.ForcedToolFallback)
}
