package engine

import (
	"errors"
	"testing"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hosted(name string, hosts []string, deps ...string) *ir.StackDescriptor {
	return &ir.StackDescriptor{Name: name, RunsOn: hosts, DependsOn: deps}
}

func TestFilterHost(t *testing.T) {
	stacks := []*ir.StackDescriptor{
		hosted("a", []string{"nas"}),
		hosted("b", []string{"pi"}),
		hosted("c", []string{"*"}),
		hosted("d", []string{"pi", "nas"}),
	}
	local := FilterHost(stacks, "nas")
	names := make([]string, len(local))
	for i, s := range local {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"a", "c", "d"}, names)
}

func TestBuildPlan_Simple(t *testing.T) {
	stacks := []*ir.StackDescriptor{
		hosted("B", []string{"local"}, "A"),
		hosted("A", []string{"local"}),
	}
	plan, dag, err := BuildPlan(stacks, "local")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, plan.Names())
	assert.Equal(t, "local", plan.Host)
	assert.Equal(t, 2, dag.Len())
}

func TestBuildPlan_Cycle(t *testing.T) {
	stacks := []*ir.StackDescriptor{
		hosted("A", []string{"local"}, "B"),
		hosted("B", []string{"local"}, "A"),
	}
	plan, dag, err := BuildPlan(stacks, "local")
	assert.Nil(t, plan)
	assert.Nil(t, dag)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, GraphErrorCycle, gerr.Kind)
	assert.Equal(t, []string{"A", "B"}, gerr.Cycle)
}

func TestBuildPlan_CrossHostDependency(t *testing.T) {
	stacks := []*ir.StackDescriptor{
		hosted("C", []string{"local"}, "D"),
		hosted("D", []string{"other"}),
	}
	plan, _, err := BuildPlan(stacks, "local")
	assert.Nil(t, plan)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, GraphErrorUnknownDependency, gerr.Kind)
	assert.Equal(t, "C", gerr.Stack)
	assert.Equal(t, "D", gerr.Dependency)
	assert.Equal(t, []string{"other"}, gerr.OtherHosts)
	assert.Contains(t, err.Error(), "only runs on other")
}

func TestBuildPlan_IgnoresBrokenStacksOnOtherHosts(t *testing.T) {
	stacks := []*ir.StackDescriptor{
		hosted("A", []string{"local"}),
		hosted("X", []string{"other"}, "nowhere"),
	}
	plan, _, err := BuildPlan(stacks, "local")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, plan.Names())
}

func TestBuildPlan_NeedsSecrets(t *testing.T) {
	withSecret := hosted("A", []string{"local"})
	withSecret.SecretEnv = map[string]ir.SecretPath{"X": ir.MustParseSecretPath("G/E/f")}

	plan, _, err := BuildPlan([]*ir.StackDescriptor{withSecret, hosted("B", []string{"local"})}, "local")
	require.NoError(t, err)
	assert.True(t, plan.NeedsSecrets())

	plan, _, err = BuildPlan([]*ir.StackDescriptor{hosted("B", []string{"local"})}, "local")
	require.NoError(t, err)
	assert.False(t, plan.NeedsSecrets())
}
