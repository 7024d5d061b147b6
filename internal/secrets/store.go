package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/picklr-io/stackdeploy/internal/ir"
)

// SecretErrorKind distinguishes secret failures.
type SecretErrorKind int

const (
	// SecretNotFound means a group, entry or field named by a path is missing.
	// It only affects the stack that declared the binding.
	SecretNotFound SecretErrorKind = iota
	// SecretStoreUnlock means the store could not be opened at all.
	SecretStoreUnlock
)

// SecretError reports a failed secret lookup or store unlock.
type SecretError struct {
	Kind SecretErrorKind
	Env  string        // bound environment variable, for NotFound
	Path ir.SecretPath // requested path, for NotFound
	Err  error
}

func (e *SecretError) Error() string {
	switch e.Kind {
	case SecretStoreUnlock:
		return fmt.Sprintf("failed to unlock credential store: %v", e.Err)
	default:
		if e.Env != "" {
			return fmt.Sprintf("secret_env %s: %s was not found in the credential store", e.Env, e.Path)
		}
		return fmt.Sprintf("%s was not found in the credential store", e.Path)
	}
}

func (e *SecretError) Unwrap() error { return e.Err }

// Store is an opened credential store. It is shared read-only by every stack
// of one cycle and closed at the end of that cycle.
type Store interface {
	// Lookup returns a fresh Value for path that the caller must close.
	Lookup(path ir.SecretPath) (*Value, error)
	Close() error
}

// Opener opens the credential store at the start of a cycle.
type Opener interface {
	Open(ctx context.Context) (Store, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Store, error)

func (f OpenerFunc) Open(ctx context.Context) (Store, error) { return f(ctx) }

// MemoryStore is a Store backed by a map of path strings to values. Paths
// match case-insensitively like the KeePass store.
type MemoryStore struct {
	values map[string]string
	closed bool
}

// NewMemoryStore returns a store holding values keyed by "Group/Entry/field".
func NewMemoryStore(values map[string]string) *MemoryStore {
	folded := make(map[string]string, len(values))
	for k, v := range values {
		folded[strings.ToLower(k)] = v
	}
	return &MemoryStore{values: folded}
}

func (m *MemoryStore) Lookup(path ir.SecretPath) (*Value, error) {
	if m.closed {
		return nil, fmt.Errorf("secrets: lookup on closed store")
	}
	v, ok := m.values[strings.ToLower(path.String())]
	if !ok {
		return nil, &SecretError{Kind: SecretNotFound, Path: path}
	}
	return NewValueFromString(v)
}

func (m *MemoryStore) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MemoryStore) Closed() bool {
	return m.closed
}
