package engine

import (
	"time"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
)

// FilterHost returns the stacks whose runs_on includes host, preserving order.
func FilterHost(stacks []*ir.StackDescriptor, host string) []*ir.StackDescriptor {
	var local []*ir.StackDescriptor
	for _, s := range stacks {
		if s.RunsOnHost(host) {
			local = append(local, s)
			continue
		}
		logging.Info("skipping stack not assigned to this host", "stack", s.Name, "host", host, "runs_on", s.RunsOn)
	}
	return local
}

// BuildPlan filters the repository's stacks down to host and orders them.
// Planning is all-or-nothing: on any GraphError no plan is returned.
func BuildPlan(stacks []*ir.StackDescriptor, host string) (*ir.Plan, *DAG, error) {
	local := FilterHost(stacks, host)
	logging.Debug("creating plan", "host", host, "declared", len(stacks), "local", len(local))

	dag, err := BuildDAG(local)
	if err != nil {
		if gerr, ok := err.(*GraphError); ok && gerr.Kind == GraphErrorUnknownDependency {
			gerr.OtherHosts = hostsOf(stacks, gerr.Dependency)
		}
		return nil, nil, err
	}

	plan := &ir.Plan{
		Host:      host,
		Stacks:    make([]*ir.StackDescriptor, 0, dag.Len()),
		CreatedAt: time.Now().UTC(),
	}
	for _, name := range dag.Order() {
		s, _ := dag.Stack(name)
		plan.Stacks = append(plan.Stacks, s)
	}
	return plan, dag, nil
}

func hostsOf(stacks []*ir.StackDescriptor, name string) []string {
	for _, s := range stacks {
		if s.Name == name {
			return s.RunsOn
		}
	}
	return nil
}
