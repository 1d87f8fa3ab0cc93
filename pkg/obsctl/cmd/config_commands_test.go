package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/observastack/observastack/pkg/config"
	"github.com/observastack/observastack/pkg/version"
)

func TestConfigInitAndView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obsctl", "config.yaml")
	h := newHarness(t, path)

	out, err := h.run("config", "init", "--method", "local", "--api-url", "https://api.example.com/api/v1", "--storage", "keyring")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized config at "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.AuthMethod)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "keyring", cfg.Storage.Backend)

	_, err = h.run("config", "init", "--method", "local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config already exists")

	out, err = h.run("config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "auth-method: local")
	assert.Contains(t, out, "base-url: https://api.example.com/api/v1")
}

func TestConfigInitValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	h := newHarness(t, path)

	_, err := h.run("config", "init", "--method", "federated")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "federated auth requires")

	out, err := h.run("config", "init", "--keycloak-url", "https://sso.example.com", "--realm", "observastack", "--client-id", "obsctl")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized config")

	out, err = h.run("config", "init", "--force", "--method", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized config")
}

func TestConfigViewRedactsSecretAndAppliesEnv(t *testing.T) {
	path := writeConfigFile(t, `version: v1
auth-method: federated
keycloak:
  url: https://sso.example.com
  realm: observastack
  client-id: obsctl
  client-secret: hunter2
`)
	t.Setenv("OBSERVASTACK_API_URL", "https://env.example.com/api/v1")
	h := newHarness(t, path)

	out, err := h.run("config", "view", "-o", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "REDACTED", view["Keycloak"].(map[string]any)["ClientSecret"])
	assert.Equal(t, "https://env.example.com/api/v1", view["API"].(map[string]any)["BaseURL"])
}

func TestVersionCommand(t *testing.T) {
	origVersion := version.Version
	origGitCommit := version.GitCommit
	origBuildDate := version.BuildDate
	defer func() {
		version.Version = origVersion
		version.GitCommit = origGitCommit
		version.BuildDate = origBuildDate
	}()
	version.Version = "v1.2.3"
	version.GitCommit = "abc123"
	version.BuildDate = "2026-01-17T15:00:00Z"

	h := newHarness(t, filepath.Join(t.TempDir(), "missing.yaml"))

	out, err := h.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "obsctl v1.2.3 (commit: abc123, built: 2026-01-17T15:00:00Z")

	out, err = h.run("version", "-o", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "v1.2.3", info.Version)

	out, err = h.run("version", "-o", "yaml")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "abc123", decoded["gitCommit"])
}

func TestCompletionCommand(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "missing.yaml"))

	out, err := h.run("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")

	out, err = h.run("completion", "zsh")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = h.run("completion", "tcsh")
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{OutputWriter: buf})
	root.SetArgs([]string{"escalate"})
	root.SetOut(buf)
	root.SetErr(buf)
	assert.Error(t, root.Execute())
}
