// Package compose runs docker compose for stack directories and inspects
// the containers it created.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
)

// ManifestNames are the file names docker compose looks for, in order.
var ManifestNames = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

// ErrNoManifest is returned when a stack directory has no compose file.
var ErrNoManifest = errors.New("no compose manifest found")

// Manifest summarizes a stack's compose project.
type Manifest struct {
	Path     string
	Project  string
	Services []string
}

// FindManifest returns the compose file docker compose would pick in dir.
func FindManifest(dir string) (string, error) {
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s (tried %s)", ErrNoManifest, dir, strings.Join(ManifestNames, ", "))
}

// ProjectName is the compose project name docker compose derives from a
// stack directory.
func ProjectName(dir string) string {
	return loader.NormalizeProjectName(filepath.Base(dir))
}

// secretPlaceholder stands in for secret_env values during validation. It
// decodes both as a string and as a number.
const secretPlaceholder = "0"

// LoadManifest parses and validates the compose project in dir the way
// docker compose would interpolate it: the project's .env file, overridden
// by the process environment, overridden by the stack's secret variables.
// Secret variables are given a placeholder, so no plaintext is needed.
func LoadManifest(ctx context.Context, dir string, secretNames []string) (*Manifest, error) {
	path, err := FindManifest(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file %s: %w", path, err)
	}

	env, err := interpolationEnv(dir, secretNames)
	if err != nil {
		return nil, err
	}

	details := composetypes.ConfigDetails{
		WorkingDir:  dir,
		ConfigFiles: []composetypes.ConfigFile{{Filename: path, Content: data}},
		Environment: env,
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(ProjectName(dir), false)
		o.SkipResolveEnvironment = true
	})
	if err != nil {
		return nil, fmt.Errorf("invalid compose file %s: %w", path, err)
	}

	return &Manifest{
		Path:     path,
		Project:  project.Name,
		Services: project.ServiceNames(),
	}, nil
}

func interpolationEnv(dir string, secretNames []string) (composetypes.Mapping, error) {
	env := make(composetypes.Mapping)

	dotEnv := filepath.Join(dir, ".env")
	if _, err := os.Stat(dotEnv); err == nil {
		values, err := dotenv.Read(dotEnv)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dotEnv, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[key] = value
	}
	for _, name := range secretNames {
		env[name] = secretPlaceholder
	}
	return env, nil
}
