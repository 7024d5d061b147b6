package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/tobischo/gokeepasslib/v3"
)

// KeePassStore is an opened KeePass (.kdbx) database.
type KeePassStore struct {
	path string
	db   *gokeepasslib.Database
}

// OpenKeePass decrypts the database at path.
func OpenKeePass(path string, passphrase *Value) (*KeePassStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SecretError{Kind: SecretStoreUnlock, Err: fmt.Errorf("failed to open kdbx file %s: %w", path, err)}
	}
	defer f.Close()

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(passphrase.String())

	logging.Debug("opening credential store", "path", path)
	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		return nil, &SecretError{Kind: SecretStoreUnlock, Err: fmt.Errorf("failed to decrypt %s: %w", path, err)}
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return nil, &SecretError{Kind: SecretStoreUnlock, Err: fmt.Errorf("failed to unlock protected entries in %s: %w", path, err)}
	}
	logging.Debug("credential store opened", "path", path)

	return &KeePassStore{path: path, db: db}, nil
}

// Lookup finds path in the database. Every segment matches case-insensitively
// and the first group segment must match the root group.
func (s *KeePassStore) Lookup(path ir.SecretPath) (*Value, error) {
	if s.db == nil {
		return nil, fmt.Errorf("secrets: lookup on closed store %s", s.path)
	}
	if s.db.Content == nil || s.db.Content.Root == nil {
		return nil, &SecretError{Kind: SecretNotFound, Path: path}
	}
	for i := range s.db.Content.Root.Groups {
		if content, ok := lookupGroup(&s.db.Content.Root.Groups[i], path.Groups, path); ok {
			return NewValueFromString(content)
		}
	}
	return nil, &SecretError{Kind: SecretNotFound, Path: path}
}

func lookupGroup(group *gokeepasslib.Group, groups []string, path ir.SecretPath) (string, bool) {
	if len(groups) == 0 || !strings.EqualFold(group.Name, groups[0]) {
		return "", false
	}
	rest := groups[1:]
	if len(rest) == 0 {
		for i := range group.Entries {
			entry := &group.Entries[i]
			if !strings.EqualFold(entry.GetTitle(), path.Entry) {
				continue
			}
			for _, vd := range entry.Values {
				if strings.EqualFold(vd.Key, path.Field) {
					return vd.Value.Content, true
				}
			}
		}
		return "", false
	}
	for i := range group.Groups {
		if content, ok := lookupGroup(&group.Groups[i], rest, path); ok {
			return content, true
		}
	}
	return "", false
}

// Close re-encrypts protected fields in memory and drops the database.
func (s *KeePassStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.LockProtectedEntries()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to lock protected entries in %s: %w", s.path, err)
	}
	return nil
}

// KeePassOpener opens the same database file with the same passphrase at
// the start of every cycle.
type KeePassOpener struct {
	Path       string
	Passphrase *Value
}

func (o *KeePassOpener) Open(ctx context.Context) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return OpenKeePass(o.Path, o.Passphrase)
}
