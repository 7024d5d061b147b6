package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// PassphraseEnvVar holds the credential store passphrase for non-interactive runs.
const PassphraseEnvVar = "STACK_KDBX_PASS"

// DefaultKeyringUser is the keyring account used when none is configured.
const DefaultKeyringUser = "kdbx"

// PassphraseOptions lists the places a passphrase may come from, in order of
// precedence.
type PassphraseOptions struct {
	Password       string // --password
	PasswordFile   string // --password-file, "-" for stdin
	EnvValue       string // $STACK_KDBX_PASS
	KeyringService string
	KeyringUser    string
	AWSSecretID    string
	AWSRegion      string
	Interactive    bool
	Prompt         string
}

// ErrNoPassphrase is returned when no source provided a passphrase.
var ErrNoPassphrase = errors.New("missing --password, --password-file, $" + PassphraseEnvVar +
	", --keyring-service or --password-secret-id and --interactive is not set")

// LoadPassphrase returns the first passphrase available from opts.
func LoadPassphrase(ctx context.Context, opts PassphraseOptions) (*Value, error) {
	switch {
	case opts.Password != "":
		return NewValueFromString(opts.Password)
	case opts.PasswordFile != "":
		return readPassphraseFile(opts.PasswordFile)
	case opts.EnvValue != "":
		return NewValueFromString(opts.EnvValue)
	case opts.KeyringService != "":
		return KeyringPassphrase(opts.KeyringService, opts.KeyringUser)
	case opts.AWSSecretID != "":
		return AWSPassphrase(ctx, opts.AWSSecretID, opts.AWSRegion)
	case opts.Interactive:
		prompt := opts.Prompt
		if prompt == "" {
			prompt = "Password:"
		}
		return PromptPassphrase(prompt)
	}
	return nil, ErrNoPassphrase
}

func readPassphraseFile(path string) (*Value, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase from %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("passphrase file %s is empty", path)
	}
	v, err := NewValue(trimmed)
	Zero(data)
	return v, err
}

// KeyringPassphrase reads the passphrase from the OS keyring.
func KeyringPassphrase(service, user string) (*Value, error) {
	if user == "" {
		user = DefaultKeyringUser
	}
	secret, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("no passphrase stored in keyring service %q for user %q", service, user)
		}
		return nil, fmt.Errorf("failed to read keyring service %q: %w", service, err)
	}
	return NewValueFromString(secret)
}

// StoreKeyringPassphrase saves the passphrase in the OS keyring.
func StoreKeyringPassphrase(service, user string, passphrase *Value) error {
	if user == "" {
		user = DefaultKeyringUser
	}
	if err := keyring.Set(service, user, passphrase.String()); err != nil {
		return fmt.Errorf("failed to write keyring service %q: %w", service, err)
	}
	return nil
}

// AWSPassphrase reads the passphrase from AWS Secrets Manager.
func AWSPassphrase(ctx context.Context, secretID, region string) (*Value, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	out, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from AWS Secrets Manager: %w", secretID, err)
	}
	if out.SecretString != nil {
		return NewValueFromString(aws.ToString(out.SecretString))
	}
	if len(out.SecretBinary) > 0 {
		return NewValue(out.SecretBinary)
	}
	return nil, fmt.Errorf("secret %s has no value", secretID)
}

// PromptPassphrase reads a passphrase from the terminal without echo.
func PromptPassphrase(prompt string) (*Value, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot prompt for %q: stdin is not a terminal", prompt)
	}
	fmt.Fprint(os.Stderr, prompt+" ")
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return NewValue(data)
}
