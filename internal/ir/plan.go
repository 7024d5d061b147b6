package ir

import "time"

// Plan is the ordered list of stacks to deploy on one host.
// For every edge "A depends_on B", B precedes A.
type Plan struct {
	Host      string
	Stacks    []*StackDescriptor
	CreatedAt time.Time
}

// Names returns the stack names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Stacks))
	for i, s := range p.Stacks {
		names[i] = s.Name
	}
	return names
}

// NeedsSecrets reports whether any planned stack declares secret bindings.
func (p *Plan) NeedsSecrets() bool {
	for _, s := range p.Stacks {
		if s.HasSecrets() {
			return true
		}
	}
	return false
}
