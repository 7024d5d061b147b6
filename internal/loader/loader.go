package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
)

// DeclarationFile is the name of the per-stack declaration file.
const DeclarationFile = "stack-deploy.toml"

// ConfigError reports a malformed or conflicting stack declaration.
type ConfigError struct {
	Path  string
	Stack string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("stack configuration: %v", e.Err)
	}
	return fmt.Sprintf("stack configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Loader reads stack declarations from a repository checkout.
type Loader struct {
	root string
}

func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Root returns the directory searched for declaration files.
func (l *Loader) Root() string {
	return l.root
}

// LoadStacks decodes every declaration under the root, or only the given
// files when any are passed. Stack names must be unique across everything
// loaded, regardless of which hosts the stacks run on.
func (l *Loader) LoadStacks(ctx context.Context, files []string) ([]*ir.StackDescriptor, error) {
	if len(files) == 0 {
		found, err := l.Discover(ctx)
		if err != nil {
			return nil, err
		}
		files = found
	}

	seen := make(map[string]string)
	stacks := make([]*ir.StackDescriptor, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stack, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[stack.Name]; ok {
			return nil, &ConfigError{
				Path:  path,
				Stack: stack.Name,
				Err:   fmt.Errorf("multiple stacks have the same name %s (also declared in %s)", stack.Name, prev),
			}
		}
		seen[stack.Name] = path
		stacks = append(stacks, stack)
	}

	logging.Debug("loaded stack declarations", "root", l.root, "count", len(stacks))
	return stacks, nil
}

// Discover returns all declaration files below the root in lexical order.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == DeclarationFile {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s for %s files: %w", l.root, DeclarationFile, err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile decodes a single declaration. Unknown keys are rejected.
func LoadFile(path string) (*ir.StackDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read: %w", err)}
	}

	var stack ir.StackDescriptor
	md, err := toml.Decode(string(raw), &stack)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to parse as toml: %s", perr.ErrorWithPosition())}
		}
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to parse as toml: %w", err)}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &ConfigError{Path: path, Stack: stack.Name, Err: fmt.Errorf("unknown field(s): %s", strings.Join(keys, ", "))}
	}
	if err := stack.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Stack: stack.Name, Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Stack: stack.Name, Err: err}
	}
	stack.File = abs
	stack.Directory = filepath.Dir(abs)
	return &stack, nil
}
