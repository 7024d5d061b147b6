package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds the environment configuration of the agent. Command-line
// flags take precedence over these values.
type Config struct {
	Git     GitConfig
	Agent   AgentConfig
	Secrets SecretsConfig
	Status  StatusConfig
	Log     LogConfig
}

// GitConfig holds the repository remote and its HTTPS credentials.
type GitConfig struct {
	URL      string `env:"GITHUB_URL"`
	Username string `env:"GITHUB_USERNAME" envDefault:"oauth2"`
	Token    string `env:"GITHUB_TOKEN"`
}

// AgentConfig holds sync loop settings.
type AgentConfig struct {
	PollIntervalSeconds int           `env:"POLL_INTERVAL" envDefault:"300"`
	Hostname            string        `env:"STACK_HOSTNAME"`
	Cooldown            time.Duration `env:"STACK_COOLDOWN" envDefault:"0s"`
	DeployTimeout       time.Duration `env:"STACK_DEPLOY_TIMEOUT" envDefault:"30m"`
}

// SecretsConfig holds non-interactive sources for the credential store
// passphrase.
type SecretsConfig struct {
	Passphrase     string `env:"STACK_KDBX_PASS"`
	KeyringService string `env:"STACK_KEYRING_SERVICE"`
	KeyringUser    string `env:"STACK_KEYRING_USER"`
	AWSSecretID    string `env:"STACK_KDBX_PASS_SECRET_ID"`
	AWSRegion      string `env:"AWS_REGION"`
}

// StatusConfig configures the optional S3 copy of the cycle report.
type StatusConfig struct {
	Bucket  string `env:"STACK_STATUS_BUCKET"`
	Key     string `env:"STACK_STATUS_KEY" envDefault:"stack-deploy/status.json"`
	Region  string `env:"STACK_STATUS_REGION"`
	Profile string `env:"STACK_STATUS_PROFILE"`
	Encrypt bool   `env:"STACK_STATUS_SSE" envDefault:"false"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `env:"STACK_LOG_LEVEL" envDefault:"info"`
	Format string `env:"STACK_LOG_FORMAT" envDefault:"text"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Git); err != nil {
		return nil, fmt.Errorf("parsing git config: %w", err)
	}
	if err := env.Parse(&cfg.Agent); err != nil {
		return nil, fmt.Errorf("parsing agent config: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets config: %w", err)
	}
	if err := env.Parse(&cfg.Status); err != nil {
		return nil, fmt.Errorf("parsing status config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Agent.PollIntervalSeconds < 0 {
		return fmt.Errorf("POLL_INTERVAL must not be negative, got %d", c.Agent.PollIntervalSeconds)
	}
	if c.Agent.Cooldown < 0 {
		return fmt.Errorf("STACK_COOLDOWN must not be negative, got %s", c.Agent.Cooldown)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("STACK_LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// CheckRemote rejects sending the token to a remote that is not https.
// url is the remote actually cloned, which may come from a flag.
func (g *GitConfig) CheckRemote(url string) error {
	if g.Token != "" && url != "" && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("GITHUB_TOKEN is only sent over https, but the repository url is %s", url)
	}
	return nil
}

// PollInterval returns the time between repository checks. Zero disables
// polling.
func (c *AgentConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Host returns the configured host identity, falling back to the
// machine's hostname.
func (c *AgentConfig) Host() (string, error) {
	if c.Hostname != "" {
		return c.Hostname, nil
	}
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname (set STACK_HOSTNAME): %w", err)
	}
	return name, nil
}

// S3Enabled reports whether reports should also be written to S3.
func (c *StatusConfig) S3Enabled() bool {
	return c.Bucket != ""
}
