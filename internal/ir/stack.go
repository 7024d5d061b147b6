package ir

import (
	"fmt"
	"sort"
	"strings"
)

// AnyHost is the runs_on entry that matches every host.
const AnyHost = "*"

// StackDescriptor represents a single stack declaration loaded from the repository.
type StackDescriptor struct {
	Name      string                `toml:"name"`
	Directory string                `toml:"-"` // directory holding the stack's compose manifest
	File      string                `toml:"-"` // declaration file the stack was loaded from
	RunsOn    []string              `toml:"runs_on"`
	DependsOn []string              `toml:"depends_on"`
	SecretEnv map[string]SecretPath `toml:"secret_env"`
}

// RunsOnHost reports whether the stack is assigned to host.
func (s *StackDescriptor) RunsOnHost(host string) bool {
	for _, h := range s.RunsOn {
		if h == AnyHost || h == host {
			return true
		}
	}
	return false
}

// HasSecrets reports whether the stack declares any secret bindings.
func (s *StackDescriptor) HasSecrets() bool {
	return len(s.SecretEnv) > 0
}

// SecretEnvNames returns the bound environment variable names in sorted order.
func (s *StackDescriptor) SecretEnvNames() []string {
	names := make([]string, 0, len(s.SecretEnv))
	for name := range s.SecretEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the fields every declaration must carry.
func (s *StackDescriptor) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.RunsOn) == 0 {
		return fmt.Errorf("stack %s: runs_on must list at least one host", s.Name)
	}
	for _, h := range s.RunsOn {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("stack %s: runs_on contains an empty host name", s.Name)
		}
	}
	for _, dep := range s.DependsOn {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("stack %s: depends_on contains an empty stack name", s.Name)
		}
	}
	for env := range s.SecretEnv {
		if !validEnvName(env) {
			return fmt.Errorf("stack %s: %q is not a valid environment variable name", s.Name, env)
		}
	}
	return nil
}

func validEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
