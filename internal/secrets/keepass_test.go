package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tobischo/gokeepasslib/v3"
	w "github.com/tobischo/gokeepasslib/v3/wrappers"
)

func kpValue(key, value string, protected bool) gokeepasslib.ValueData {
	v := gokeepasslib.ValueData{Key: key, Value: gokeepasslib.V{Content: value}}
	if protected {
		v.Value.Protected = w.NewBoolWrapper(true)
	}
	return v
}

func kpEntry(title string, values ...gokeepasslib.ValueData) gokeepasslib.Entry {
	e := gokeepasslib.NewEntry()
	e.Values = append(e.Values, kpValue("Title", title, false))
	e.Values = append(e.Values, values...)
	return e
}

// writeTestDatabase creates Root/{Database,Nested/Deeper} with a few entries.
func writeTestDatabase(t *testing.T, passphrase string) string {
	t.Helper()

	database := gokeepasslib.NewGroup()
	database.Name = "Database"
	database.Entries = append(database.Entries,
		kpEntry("Gitea Postgres DB", kpValue("Password", "pg-pass", true), kpValue("UserName", "gitea", false)),
	)

	deeper := gokeepasslib.NewGroup()
	deeper.Name = "Deeper"
	deeper.Entries = append(deeper.Entries, kpEntry("Token", kpValue("api", "deep-token", true)))
	nested := gokeepasslib.NewGroup()
	nested.Name = "Nested"
	nested.Groups = append(nested.Groups, deeper)

	root := gokeepasslib.NewGroup()
	root.Name = "Root"
	root.Groups = append(root.Groups, database, nested)

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(passphrase)
	db.Content.Root = &gokeepasslib.RootData{Groups: []gokeepasslib.Group{root}}
	require.NoError(t, db.LockProtectedEntries())

	path := filepath.Join(t.TempDir(), "test.kdbx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gokeepasslib.NewEncoder(f).Encode(db))
	return path
}

func TestKeePassStore_Lookup(t *testing.T) {
	path := writeTestDatabase(t, "correct horse")
	pass, err := NewValueFromString("correct horse")
	require.NoError(t, err)
	defer pass.Close()

	store, err := OpenKeePass(path, pass)
	require.NoError(t, err)
	defer store.Close()

	tests := []struct {
		name    string
		path    string
		want    string
		missing bool
	}{
		{name: "protected field", path: "Root/Database/Gitea Postgres DB/Password", want: "pg-pass"},
		{name: "case insensitive", path: "root/database/gitea postgres db/password", want: "pg-pass"},
		{name: "plain field", path: "Root/Database/Gitea Postgres DB/UserName", want: "gitea"},
		{name: "nested groups", path: "Root/Nested/Deeper/Token/api", want: "deep-token"},
		{name: "missing field", path: "Root/Database/Gitea Postgres DB/otp", missing: true},
		{name: "missing entry", path: "Root/Database/Nope/password", missing: true},
		{name: "missing group", path: "Root/Other/Gitea Postgres DB/password", missing: true},
		{name: "wrong root group", path: "Database/Gitea Postgres DB/password", missing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := store.Lookup(ir.MustParseSecretPath(tt.path))
			if tt.missing {
				var serr *SecretError
				require.True(t, errors.As(err, &serr))
				assert.Equal(t, SecretNotFound, serr.Kind)
				return
			}
			require.NoError(t, err)
			defer v.Close()
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestKeePassStore_WrongPassphrase(t *testing.T) {
	path := writeTestDatabase(t, "correct horse")
	pass, err := NewValueFromString("battery staple")
	require.NoError(t, err)
	defer pass.Close()

	_, err = OpenKeePass(path, pass)
	var serr *SecretError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, SecretStoreUnlock, serr.Kind)
}

func TestKeePassStore_MissingFile(t *testing.T) {
	pass, err := NewValueFromString("x")
	require.NoError(t, err)
	defer pass.Close()

	_, err = OpenKeePass(filepath.Join(t.TempDir(), "absent.kdbx"), pass)
	var serr *SecretError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, SecretStoreUnlock, serr.Kind)
}

func TestKeePassOpener(t *testing.T) {
	path := writeTestDatabase(t, "pw")
	pass, err := NewValueFromString("pw")
	require.NoError(t, err)
	defer pass.Close()

	opener := &KeePassOpener{Path: path, Passphrase: pass}
	store, err := opener.Open(context.Background())
	require.NoError(t, err)

	env, err := Resolve(store, map[string]ir.SecretPath{
		"DB_PASSWD": ir.MustParseSecretPath("Root/Database/Gitea Postgres DB/Password"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pg-pass", env["DB_PASSWD"].String())
	require.NoError(t, env.Close())

	require.NoError(t, store.Close())
	_, err = store.Lookup(ir.MustParseSecretPath("Root/Database/Gitea Postgres DB/Password"))
	assert.Error(t, err)

	// a second cycle reopens the file
	again, err := opener.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
