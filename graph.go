package conductor

import (
	"sort"
)

// NodeKind selects the behavior variant of a node at build time.
type NodeKind int

const (
	// NodePlain executes as a single work-unit invocation.
	NodePlain NodeKind = iota

	// NodeSupervisor delegates to its supervised units via a Coordinator.
	NodeSupervisor
)

// CoordinationMode selects how a supervisor routes work to its subordinates.
type CoordinationMode string

const (
	// ModeDynamic runs the bounded decision loop, routing one subordinate
	// per iteration based on accumulated results.
	ModeDynamic CoordinationMode = "dynamic"

	// ModeParallel invokes all subordinates concurrently with the same task.
	ModeParallel CoordinationMode = "parallel"

	// ModeSequential invokes subordinates in declaration order, each
	// receiving the prior unit's output as additional context.
	ModeSequential CoordinationMode = "sequential"
)

// LayerMetadata annotates a node with its position in the supervision
// hierarchy. SupervisedNodes is maintained as the exact inverse of the
// Supervisor field across the node set.
type LayerMetadata struct {
	LayerType       Layer    `json:"layer_type"`
	Supervisor      string   `json:"supervisor,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	SupervisedNodes []string `json:"supervised_nodes,omitempty"`
}

// Node is a named work-unit in the supervision graph.
type Node struct {
	Name string
	Meta LayerMetadata
	Kind NodeKind
	Mode CoordinationMode
}

// NodeOption configures a node added to a GraphBuilder.
type NodeOption func(*Node)

// WithSupervisor declares the node's supervisor, which must already exist in
// the graph.
func WithSupervisor(name string) NodeOption {
	return func(n *Node) { n.Meta.Supervisor = name }
}

// WithCapabilities annotates the node with capability tags.
func WithCapabilities(capabilities ...string) NodeOption {
	return func(n *Node) { n.Meta.Capabilities = capabilities }
}

// WithConstraints annotates the node with constraint tags.
func WithConstraints(constraints ...string) NodeOption {
	return func(n *Node) { n.Meta.Constraints = constraints }
}

// WithCoordination sets the coordination mode the node uses if it becomes a
// supervisor. Defaults to ModeDynamic.
func WithCoordination(mode CoordinationMode) NodeOption {
	return func(n *Node) { n.Mode = mode }
}

// GraphBuilder accumulates node and edge declarations and produces an
// immutable Graph. Declarations are validated eagerly so a build failure is
// never partially applied.
type GraphBuilder struct {
	nodes map[string]*Node
	order []string
	deps  map[string][]string
	built bool
}

// NewGraphBuilder creates an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes: map[string]*Node{},
		deps:  map[string][]string{},
	}
}

// AddNode declares a named work-unit at a supervision layer. The supervisor,
// if any, must be declared before it is referenced.
func (b *GraphBuilder) AddNode(name string, layer Layer, opts ...NodeOption) error {
	if b.built {
		return newGraphBuildError("graph already built")
	}
	if name == "" {
		return newGraphBuildError("node name required")
	}
	if _, exists := b.nodes[name]; exists {
		return newGraphBuildError("duplicate node %q", name)
	}

	node := &Node{
		Name: name,
		Meta: LayerMetadata{LayerType: layer},
		Mode: ModeDynamic,
	}
	for _, opt := range opts {
		opt(node)
	}

	if supervisor := node.Meta.Supervisor; supervisor != "" {
		parent, ok := b.nodes[supervisor]
		if !ok {
			return newGraphBuildError("unknown supervisor %q for node %q", supervisor, name)
		}
		if b.supervisionCycle(name, supervisor) {
			return newGraphBuildError("supervision cycle via %q and %q", name, supervisor)
		}
		parent.Meta.SupervisedNodes = append(parent.Meta.SupervisedNodes, name)
		parent.Kind = NodeSupervisor
	}

	b.nodes[name] = node
	b.order = append(b.order, name)
	return nil
}

// supervisionCycle walks supervisor edges from candidate upward looking for
// name. Nodes only reference previously declared supervisors, so this cannot
// normally trip, but the invariant is cheap to enforce directly.
func (b *GraphBuilder) supervisionCycle(name, candidate string) bool {
	for current := candidate; current != ""; {
		if current == name {
			return true
		}
		node, ok := b.nodes[current]
		if !ok {
			return false
		}
		current = node.Meta.Supervisor
	}
	return false
}

// AddDependency declares that `to` may not start until `from` has produced
// output. The dependency graph may branch (DAG), but must stay acyclic.
func (b *GraphBuilder) AddDependency(from, to string) error {
	if b.built {
		return newGraphBuildError("graph already built")
	}
	if from == to {
		return newGraphBuildError("self dependency on %q", from)
	}
	if _, ok := b.nodes[from]; !ok {
		return newGraphBuildError("unknown dependency source %q", from)
	}
	if _, ok := b.nodes[to]; !ok {
		return newGraphBuildError("unknown dependency target %q", to)
	}
	if b.dependencyPath(to, from) {
		return newGraphBuildError("dependency cycle between %q and %q", from, to)
	}
	b.deps[to] = append(b.deps[to], from)
	return nil
}

// dependencyPath reports whether target is reachable from start along
// dependency edges (prerequisite direction).
func (b *GraphBuilder) dependencyPath(start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[current] {
			continue
		}
		seen[current] = true
		for _, dep := range b.deps[current] {
			if dep == target {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// Build finalizes the graph. Once built, the shape cannot change; a workflow
// that needs a different shape builds a new graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if b.built {
		return nil, newGraphBuildError("graph already built")
	}
	if len(b.nodes) == 0 {
		return nil, newGraphBuildError("graph must have at least one node")
	}

	order, err := b.topologicalOrder()
	if err != nil {
		return nil, err
	}

	b.built = true
	nodes := make(map[string]*Node, len(b.nodes))
	for name, node := range b.nodes {
		copied := *node
		copied.Meta.SupervisedNodes = append([]string(nil), node.Meta.SupervisedNodes...)
		nodes[name] = &copied
	}
	deps := make(map[string][]string, len(b.deps))
	for to, froms := range b.deps {
		deps[to] = append([]string(nil), froms...)
	}
	return &Graph{nodes: nodes, order: order, deps: deps}, nil
}

// topologicalOrder runs Kahn's algorithm over dependency edges, breaking ties
// by declaration order so execution order is deterministic.
func (b *GraphBuilder) topologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(b.nodes))
	for _, name := range b.order {
		indegree[name] = len(b.deps[name])
	}
	declIndex := make(map[string]int, len(b.order))
	for i, name := range b.order {
		declIndex[name] = i
	}

	var ready []string
	for _, name := range b.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return declIndex[ready[i]] < declIndex[ready[j]]
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, name := range b.order {
			for _, dep := range b.deps[name] {
				if dep != next {
					continue
				}
				indegree[name]--
				if indegree[name] == 0 {
					ready = append(ready, name)
				}
			}
		}
	}
	if len(order) != len(b.nodes) {
		return nil, newGraphBuildError("dependency cycle detected")
	}
	return order, nil
}

// Graph is the immutable shape of a workflow: named nodes, their layers and
// supervision relations, and the dependency edges between them.
type Graph struct {
	nodes map[string]*Node
	order []string
	deps  map[string][]string
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	node, ok := g.nodes[name]
	return node, ok
}

// TopologicalOrder returns node names in dependency-respecting order.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.order...)
}

// Dependencies returns the prerequisites of a node.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Supervised returns the names of the nodes a supervisor supervises.
func (g *Graph) Supervised(name string) []string {
	node, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return append([]string(nil), node.Meta.SupervisedNodes...)
}

// ExecutionOrder returns the topological order filtered to pipeline members.
// Supervised nodes with no dependency edges are reached only through their
// supervisor's coordination, never walked directly.
func (g *Graph) ExecutionOrder() []string {
	var order []string
	for _, name := range g.order {
		if g.pipelineMember(name) {
			order = append(order, name)
		}
	}
	return order
}

// CoordinationTargets returns the supervised nodes of a supervisor that are
// reached only through coordination. A supervisor whose subordinates all sit
// in the dependency pipeline has nothing to coordinate and executes plain.
func (g *Graph) CoordinationTargets(name string) []string {
	var targets []string
	for _, sub := range g.Supervised(name) {
		if !g.pipelineMember(sub) {
			targets = append(targets, sub)
		}
	}
	return targets
}

// pipelineMember reports whether a node participates in the top-level walk:
// it has no supervisor, or it carries dependency edges of its own.
func (g *Graph) pipelineMember(name string) bool {
	node, ok := g.nodes[name]
	if !ok {
		return false
	}
	if node.Meta.Supervisor == "" {
		return true
	}
	if len(g.deps[name]) > 0 {
		return true
	}
	for _, froms := range g.deps {
		for _, from := range froms {
			if from == name {
				return true
			}
		}
	}
	return false
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}
