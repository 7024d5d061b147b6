package secrets

import (
	"errors"
	"sort"
)

// Env is the resolved secret environment of a single stack for a single
// deployment attempt.
type Env map[string]*Value

// Names returns the variable names in sorted order.
func (e Env) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environ renders the variables as KEY=value pairs for a child process.
// The strings are ordinary heap copies of the plaintext: Close does not
// zero them, so callers should drop them as soon as the process started.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e))
	for _, name := range e.Names() {
		out = append(out, name+"="+e[name].String())
	}
	return out
}

// Close zeroes every value.
func (e Env) Close() error {
	var errs []error
	for _, v := range e {
		if err := v.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
