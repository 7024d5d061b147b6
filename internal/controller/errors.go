package controller

import (
	"errors"

	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/loader"
	"github.com/picklr-io/stackdeploy/internal/repo"
	"github.com/picklr-io/stackdeploy/internal/secrets"
)

// IsStartupFailure reports whether err means the agent cannot work at all:
// the credential store could not be unlocked.
func IsStartupFailure(err error) bool {
	var serr *secrets.SecretError
	return errors.As(err, &serr) && serr.Kind == secrets.SecretStoreUnlock
}

// IsFatal reports whether err prevented every deployment attempt of a
// cycle: configuration, graph, repository or store unlock errors.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		cerr *loader.ConfigError
		gerr *engine.GraphError
		serr *repo.SyncError
	)
	return errors.As(err, &cerr) || errors.As(err, &gerr) || errors.As(err, &serr) || IsStartupFailure(err)
}
