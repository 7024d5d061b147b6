package ir

import (
	"fmt"
	"strings"
)

// SecretPath references a single field of an entry in the credential store.
// The first group is the store's root group.
type SecretPath struct {
	Groups []string
	Entry  string
	Field  string
}

// ParseSecretPath parses "Group[/Group...]/Entry Title/field".
func ParseSecretPath(s string) (SecretPath, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 {
		return SecretPath{}, fmt.Errorf("secret path %q must have the form Group/Entry/field", s)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return SecretPath{}, fmt.Errorf("secret path %q has an empty segment", s)
		}
	}
	n := len(parts)
	return SecretPath{
		Groups: append([]string(nil), parts[:n-2]...),
		Entry:  parts[n-2],
		Field:  parts[n-1],
	}, nil
}

// MustParseSecretPath is like ParseSecretPath but panics on error.
func MustParseSecretPath(s string) SecretPath {
	p, err := ParseSecretPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the slash-separated form of the path.
func (p SecretPath) String() string {
	parts := make([]string, 0, len(p.Groups)+2)
	parts = append(parts, p.Groups...)
	parts = append(parts, p.Entry, p.Field)
	return strings.Join(parts, "/")
}

// UnmarshalText lets SecretPath be decoded directly from TOML strings.
func (p *SecretPath) UnmarshalText(text []byte) error {
	parsed, err := ParseSecretPath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p SecretPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
