package engine

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/stackdeploy/internal/ir"
)

// GraphErrorKind distinguishes the ways a dependency graph can be invalid.
type GraphErrorKind int

const (
	// GraphErrorUnknownDependency covers dependencies that are not declared at all
	// and dependencies declared only for other hosts.
	GraphErrorUnknownDependency GraphErrorKind = iota
	GraphErrorCycle
)

// GraphError reports an invalid dependency graph. No plan is produced.
type GraphError struct {
	Kind       GraphErrorKind
	Stack      string
	Dependency string
	Cycle      []string // sorted names of the stacks forming the cycle(s)
	OtherHosts []string // hosts the missing dependency runs on, if it exists elsewhere
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case GraphErrorCycle:
		return fmt.Sprintf("dependency cycle detected between stacks: %s", strings.Join(e.Cycle, ", "))
	default:
		if len(e.OtherHosts) > 0 {
			return fmt.Sprintf("%s depends on %s, but %s only runs on %s",
				e.Stack, e.Dependency, e.Dependency, strings.Join(e.OtherHosts, ", "))
		}
		return fmt.Sprintf("%s depends on %s, but %s is not present in any stack deploy file",
			e.Stack, e.Dependency, e.Dependency)
	}
}

// DAG represents the dependency graph of the stacks assigned to one host.
// It is immutable once built.
type DAG struct {
	nodes map[string]*dagNode
	order []string // deployment order
}

type dagNode struct {
	stack    *ir.StackDescriptor
	edges    []string // stacks this node depends on
	revEdges []string // stacks that depend on this node
}

// BuildDAG constructs a dependency graph from stacks that all run on the same
// host. Every depends_on entry must name one of the given stacks.
func BuildDAG(stacks []*ir.StackDescriptor) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(stacks)),
	}

	for _, s := range stacks {
		dag.nodes[s.Name] = &dagNode{stack: s}
	}

	// Stacks are visited by name so edge lists come out sorted.
	for _, name := range dag.sortedNames() {
		node := dag.nodes[name]
		for _, dep := range dedupe(node.stack.DependsOn) {
			target, ok := dag.nodes[dep]
			if !ok {
				return nil, &GraphError{Kind: GraphErrorUnknownDependency, Stack: name, Dependency: dep}
			}
			node.edges = append(node.edges, dep)
			target.revEdges = append(target.revEdges, name)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order
	return dag, nil
}

// Order returns the stack names in deployment order.
func (d *DAG) Order() []string {
	return append([]string(nil), d.order...)
}

// ReverseOrder returns the stack names in teardown order.
func (d *DAG) ReverseOrder() []string {
	rev := make([]string, len(d.order))
	for i, name := range d.order {
		rev[len(d.order)-1-i] = name
	}
	return rev
}

// Stack returns the descriptor for name.
func (d *DAG) Stack(name string) (*ir.StackDescriptor, bool) {
	node, ok := d.nodes[name]
	if !ok {
		return nil, false
	}
	return node.stack, true
}

// Len returns the number of stacks in the graph.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Dependencies returns the direct dependencies of name.
func (d *DAG) Dependencies(name string) []string {
	if node, ok := d.nodes[name]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the stacks that directly depend on name.
func (d *DAG) Dependents(name string) []string {
	if node, ok := d.nodes[name]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDependents returns every stack that depends on name directly or
// indirectly, in deployment order.
func (d *DAG) TransitiveDependents(name string) []string {
	return d.reach(d.Dependents(name), func(n *dagNode) []string { return n.revEdges })
}

// TransitiveDependencies returns every stack name depends on directly or
// indirectly, in deployment order.
func (d *DAG) TransitiveDependencies(name string) []string {
	return d.reach(d.Dependencies(name), func(n *dagNode) []string { return n.edges })
}

// reach walks the graph breadth-first from start and returns the visited
// stacks in deployment order.
func (d *DAG) reach(start []string, next func(*dagNode) []string) []string {
	reached := make(map[string]bool)
	queue := append([]string(nil), start...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if reached[n] {
			continue
		}
		reached[n] = true
		queue = append(queue, next(d.nodes[n])...)
	}

	var out []string
	for _, n := range d.order {
		if reached[n] {
			out = append(out, n)
		}
	}
	return out
}

// topoSort performs Kahn's algorithm. Among stacks whose dependencies are all
// placed, the lexically smallest name goes first.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	ready := &nameHeap{}
	for name, node := range d.nodes {
		inDegree[name] = len(node.edges)
		if inDegree[name] == 0 {
			heap.Push(ready, name)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for ready.Len() > 0 {
		name := heap.Pop(ready).(string)
		sorted = append(sorted, name)

		for _, dependent := range d.nodes[name].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var residual []string
		for name, deg := range inDegree {
			if deg > 0 {
				residual = append(residual, name)
			}
		}
		return nil, &GraphError{Kind: GraphErrorCycle, Cycle: d.cycleMembers(residual)}
	}

	return sorted, nil
}

// cycleMembers narrows the nodes Kahn's algorithm could not place down to the
// ones that actually sit on a cycle, dropping stacks that merely depend on one.
func (d *DAG) cycleMembers(residual []string) []string {
	sort.Strings(residual)
	in := make(map[string]bool, len(residual))
	for _, n := range residual {
		in[n] = true
	}

	// Tarjan's strongly connected components over the residual subgraph.
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var members []string

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range d.nodes[v].edges {
			if !in[w] {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || d.selfLoop(v) {
			members = append(members, component...)
		}
	}

	for _, n := range residual {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}

	sort.Strings(members)
	return members
}

func (d *DAG) selfLoop(name string) bool {
	for _, dep := range d.nodes[name].edges {
		if dep == name {
			return true
		}
	}
	return false
}

func (d *DAG) sortedNames() []string {
	names := make([]string, 0, len(d.nodes))
	for name := range d.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// nameHeap is a min-heap of stack names.
type nameHeap []string

func (h nameHeap) Len() int           { return len(h) }
func (h nameHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
