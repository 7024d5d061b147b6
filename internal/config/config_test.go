package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"GITHUB_URL", "GITHUB_USERNAME", "GITHUB_TOKEN", "POLL_INTERVAL", "STACK_HOSTNAME", "STACK_COOLDOWN", "STACK_LOG_FORMAT", "STACK_LOG_LEVEL", "STACK_STATUS_BUCKET"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "oauth2", cfg.Git.Username)
	assert.Equal(t, 300*time.Second, cfg.Agent.PollInterval())
	assert.Equal(t, time.Duration(0), cfg.Agent.Cooldown)
	assert.Equal(t, 30*time.Minute, cfg.Agent.DeployTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "stack-deploy/status.json", cfg.Status.Key)
	assert.False(t, cfg.Status.S3Enabled())

	host, err := cfg.Agent.Host()
	require.NoError(t, err)
	assert.NotEmpty(t, host)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_URL", "https://github.com/example/infra.git")
	t.Setenv("GITHUB_TOKEN", "ghp_x")
	t.Setenv("POLL_INTERVAL", "0")
	t.Setenv("STACK_HOSTNAME", "nas")
	t.Setenv("STACK_COOLDOWN", "15s")
	t.Setenv("STACK_KDBX_PASS", "pw")
	t.Setenv("STACK_STATUS_BUCKET", "reports")
	t.Setenv("STACK_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Duration(0), cfg.Agent.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.Agent.Cooldown)
	assert.Equal(t, "pw", cfg.Secrets.Passphrase)
	assert.True(t, cfg.Status.S3Enabled())

	host, err := cfg.Agent.Host()
	require.NoError(t, err)
	assert.Equal(t, "nas", host)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "negative poll", mutate: func(c *Config) { c.Agent.PollIntervalSeconds = -1 }, wantErr: "POLL_INTERVAL"},
		{name: "negative cooldown", mutate: func(c *Config) { c.Agent.Cooldown = -time.Second }, wantErr: "STACK_COOLDOWN"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "STACK_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Log: LogConfig{Format: "text"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_IgnoresRemoteScheme(t *testing.T) {
	cfg := &Config{
		Git: GitConfig{URL: "git@github.com:example/infra.git", Token: "ghp_x"},
		Log: LogConfig{Format: "text"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestGitConfig_CheckRemote(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		url     string
		wantErr bool
	}{
		{name: "https with token", token: "ghp_x", url: "https://github.com/example/infra.git"},
		{name: "ssh without token", url: "git@github.com:example/infra.git"},
		{name: "no remote", token: "ghp_x"},
		{name: "ssh with token", token: "ghp_x", url: "git@github.com:example/infra.git", wantErr: true},
		{name: "plain http with token", token: "ghp_x", url: "http://git.lan/infra.git", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &GitConfig{Token: tt.token}
			err := g.CheckRemote(tt.url)
			if tt.wantErr {
				assert.ErrorContains(t, err, "only sent over https")
				return
			}
			assert.NoError(t, err)
		})
	}
}
