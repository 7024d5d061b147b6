package secrets

import (
	"errors"
	"sort"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
)

// Resolve looks up every binding in store. It returns either the complete
// environment or the first failure; on failure nothing resolved so far
// survives the call.
func Resolve(store Store, bindings map[string]ir.SecretPath) (Env, error) {
	env := make(Env, len(bindings))
	for _, name := range sortedKeys(bindings) {
		path := bindings[name]
		v, err := store.Lookup(path)
		if err != nil {
			_ = env.Close()
			var serr *SecretError
			if errors.As(err, &serr) && serr.Kind == SecretNotFound {
				return nil, &SecretError{Kind: SecretNotFound, Env: name, Path: path, Err: err}
			}
			return nil, err
		}
		logging.Debug("resolved secret", "env", name, "path", path.String())
		env[name] = v
	}
	return env, nil
}

func sortedKeys(bindings map[string]ir.SecretPath) []string {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
