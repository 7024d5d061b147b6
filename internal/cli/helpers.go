package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/loader"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/secrets"
	"github.com/picklr-io/stackdeploy/internal/state"
)

const (
	// defaultKdbxName is the credential store looked up in the repository
	// root when --kdbx is not given.
	defaultKdbxName = ".secrets.kdbx"
	stateDirName    = ".stack-deploy"
	reportFileName  = "status.json"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// passphraseOptions merges passphrase flags with the environment; flags win.
func passphraseOptions() secrets.PassphraseOptions {
	return secrets.PassphraseOptions{
		Password:       password,
		PasswordFile:   passwordFile,
		EnvValue:       envConfig.Secrets.Passphrase,
		KeyringService: firstNonEmpty(keyringService, envConfig.Secrets.KeyringService),
		KeyringUser:    firstNonEmpty(keyringUser, envConfig.Secrets.KeyringUser),
		AWSSecretID:    firstNonEmpty(passwordSecretID, envConfig.Secrets.AWSSecretID),
		AWSRegion:      envConfig.Secrets.AWSRegion,
		Interactive:    interactive,
		Prompt:         "KeePass Passphrase:",
	}
}

// openStore unlocks the database at path once, for one-shot commands.
func openStore(ctx context.Context, path string) (*secrets.KeePassStore, error) {
	if path == "" {
		return nil, errors.New("no --kdbx file was specified")
	}
	pass, err := secrets.LoadPassphrase(ctx, passphraseOptions())
	if err != nil {
		return nil, &secrets.SecretError{Kind: secrets.SecretStoreUnlock, Err: err}
	}
	defer pass.Close()
	return secrets.OpenKeePass(path, pass)
}

// storeOpener returns an opener that unlocks path at the start of every
// cycle that needs secrets. The passphrase is read once, now; release frees
// it. A missing database or passphrase only fails the cycles that need it.
func storeOpener(ctx context.Context, path string) (secrets.Opener, func(), error) {
	noop := func() {}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logging.Info("no credential store found, stacks with secret_env will fail", "path", path)
		return nil, noop, nil
	}

	pass, err := secrets.LoadPassphrase(ctx, passphraseOptions())
	if errors.Is(err, secrets.ErrNoPassphrase) {
		return secrets.OpenerFunc(func(context.Context) (secrets.Store, error) {
			return nil, &secrets.SecretError{Kind: secrets.SecretStoreUnlock, Err: err}
		}), noop, nil
	}
	if err != nil {
		return nil, nil, &secrets.SecretError{Kind: secrets.SecretStoreUnlock, Err: err}
	}
	release := func() {
		if err := pass.Close(); err != nil {
			logging.Warn("failed to release passphrase", "error", err)
		}
	}
	return &secrets.KeePassOpener{Path: path, Passphrase: pass}, release, nil
}

// loadHostPlan loads the declarations under root (or only files) and plans
// them for this host.
func loadHostPlan(ctx context.Context, root string, files []string) (string, *ir.Plan, *engine.DAG, error) {
	host, err := envConfig.Agent.Host()
	if err != nil {
		return "", nil, nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to resolve path %s: %w", root, err)
	}
	stacks, err := loader.NewLoader(abs).LoadStacks(ctx, files)
	if err != nil {
		return "", nil, nil, err
	}
	plan, dag, err := engine.BuildPlan(stacks, host)
	if err != nil {
		return "", nil, nil, err
	}
	return host, plan, dag, nil
}

// stateDir is where the agent keeps its lock and status report, beside the
// repository checkout.
func stateDir(repoDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(repoDir)), stateDirName)
}

// reportBackend returns the report backends configured for a state
// directory: the local file, plus S3 when a bucket is configured.
func reportBackend(ctx context.Context, dir string) (state.Backend, error) {
	local, err := state.NewBackend(ctx, &state.BackendConfig{
		Type:   "local",
		Config: map[string]string{"path": filepath.Join(dir, reportFileName)},
	})
	if err != nil {
		return nil, err
	}
	if !envConfig.Status.S3Enabled() {
		return local, nil
	}
	remote, err := state.NewBackend(ctx, s3BackendConfig())
	if err != nil {
		return nil, err
	}
	return state.MultiBackend{local, remote}, nil
}

func s3BackendConfig() *state.BackendConfig {
	encrypt := "false"
	if envConfig.Status.Encrypt {
		encrypt = "true"
	}
	return &state.BackendConfig{
		Type: "s3",
		Config: map[string]string{
			"bucket":  envConfig.Status.Bucket,
			"key":     envConfig.Status.Key,
			"region":  envConfig.Status.Region,
			"profile": envConfig.Status.Profile,
			"encrypt": encrypt,
		},
	}
}
