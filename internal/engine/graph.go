package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/scenecraft/pkg/schema"
)

// DefaultMaxSteps bounds the number of node visits in one run.
const DefaultMaxSteps = 64

// Graph is an immutable, validated node/edge table. It is safe to run the
// same Graph concurrently with distinct state values.
type Graph[S any] struct {
	start    string
	nodes    map[string]Node[S]
	edges    map[string]map[Action]string
	order    []string // reachable nodes, breadth-first from start
	maxSteps int
}

// Start returns the name of the entry node.
func (g *Graph[S]) Start() string { return g.start }

// Nodes returns the reachable node names in breadth-first order.
func (g *Graph[S]) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Next returns the target of the edge (node, action), if any.
func (g *Graph[S]) Next(node string, action Action) (string, bool) {
	to, ok := g.edges[node][action]
	return to, ok
}

// Terminal reports whether node has no outgoing edges.
func (g *Graph[S]) Terminal(node string) bool {
	return len(g.edges[node]) == 0
}

type edge struct {
	from   string
	action Action
	to     string
}

// Builder accumulates nodes and edges. Errors are collected and reported
// together by Build.
type Builder[S any] struct {
	nodes    map[string]Node[S]
	names    []string
	edges    []edge
	starts   []string
	maxSteps int
	errs     []error
}

// NewBuilder creates an empty Builder.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		nodes:    make(map[string]Node[S]),
		maxSteps: DefaultMaxSteps,
	}
}

// Add registers nodes. Names must be unique and non-empty.
func (b *Builder[S]) Add(nodes ...Node[S]) *Builder[S] {
	for _, n := range nodes {
		if n == nil {
			b.errs = append(b.errs, schema.NewError(schema.ErrCodeValidation, "nil node"))
			continue
		}
		name := n.Name()
		if name == "" {
			b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty name", len(b.names)))
			continue
		}
		if _, exists := b.nodes[name]; exists {
			b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node name: %s", name))
			continue
		}
		b.nodes[name] = n
		b.names = append(b.names, name)
	}
	return b
}

// Start designates the entry node.
func (b *Builder[S]) Start(name string) *Builder[S] {
	b.starts = append(b.starts, name)
	return b
}

// Edge routes label emitted by from to the node named to.
func (b *Builder[S]) Edge(from string, label Action, to string) *Builder[S] {
	b.edges = append(b.edges, edge{from: from, action: label, to: to})
	return b
}

// MaxSteps overrides DefaultMaxSteps.
func (b *Builder[S]) MaxSteps(n int) *Builder[S] {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

// Build validates the wiring and returns the Graph. It fails when there is
// not exactly one start node, when an edge references an unknown node or an
// undeclared label, when a node is unreachable, or when a reachable node
// declares a label with no edge.
func (b *Builder[S]) Build() (*Graph[S], error) {
	errs := append([]error(nil), b.errs...)

	switch {
	case len(b.nodes) == 0:
		errs = append(errs, schema.NewError(schema.ErrCodeValidation, "graph has no nodes"))
	case len(b.starts) == 0:
		errs = append(errs, schema.NewError(schema.ErrCodeValidation, "graph has no start node"))
	case len(b.starts) > 1:
		errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "graph has %d start nodes: %v", len(b.starts), b.starts))
	default:
		if _, ok := b.nodes[b.starts[0]]; !ok {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "start node %s is not registered", b.starts[0]))
		}
	}

	g := &Graph[S]{
		nodes:    b.nodes,
		edges:    make(map[string]map[Action]string, len(b.nodes)),
		maxSteps: b.maxSteps,
	}
	if len(b.starts) > 0 {
		g.start = b.starts[0]
	}

	declared := make(map[string]map[Action]bool, len(b.nodes))
	for name, n := range b.nodes {
		set := make(map[Action]bool)
		for _, a := range n.Actions() {
			set[a] = true
		}
		declared[name] = set
	}

	for _, e := range b.edges {
		if _, ok := b.nodes[e.from]; !ok {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "edge from unknown node %s", e.from))
			continue
		}
		if _, ok := b.nodes[e.to]; !ok {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "edge %s -[%s]-> targets unknown node %s", e.from, e.action, e.to))
			continue
		}
		if !declared[e.from][e.action] {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "edge from %s uses undeclared action %q", e.from, e.action))
			continue
		}
		if g.edges[e.from] == nil {
			g.edges[e.from] = make(map[Action]string)
		}
		if prev, dup := g.edges[e.from][e.action]; dup && prev != e.to {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "action %q of %s routed to both %s and %s", e.action, e.from, prev, e.to))
			continue
		}
		g.edges[e.from][e.action] = e.to
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}

	g.order = reachable(g)
	seen := make(map[string]bool, len(g.order))
	for _, name := range g.order {
		seen[name] = true
		for _, a := range b.nodes[name].Actions() {
			if a == ActionDone {
				continue
			}
			if _, ok := g.edges[name][a]; !ok {
				errs = append(errs, schema.NewErrorf(schema.ErrCodeUncoveredAction,
					"action %q has no edge", a).WithNode(name))
			}
		}
	}
	for _, name := range b.names {
		if !seen[name] {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeValidation, "node %s is unreachable from %s", name, g.start))
		}
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return g, nil
}

// reachable walks edges breadth-first from the start node. Edge targets are
// visited in the order of the source node's declared actions so the result
// is deterministic.
func reachable[S any](g *Graph[S]) []string {
	seen := map[string]bool{g.start: true}
	order := []string{g.start}
	for i := 0; i < len(order); i++ {
		name := order[i]
		for _, a := range g.nodes[name].Actions() {
			to, ok := g.edges[name][a]
			if !ok || seen[to] {
				continue
			}
			seen[to] = true
			order = append(order, to)
		}
	}
	return order
}

// joinErrors returns the single error unchanged so callers can inspect its
// code, or a VALIDATION_ERROR listing all of them.
func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "graph has %d wiring errors", len(errs)).
		WithCause(errors.Join(errs...)).
		WithDetails(map[string]any{"errors": msgs})
}

// Transition is one labelled edge of a Graph.
type Transition struct {
	From   string `json:"from"`
	Action Action `json:"action"`
	To     string `json:"to"`
}

// Transitions lists the reachable edges, sources in breadth-first order and
// each source's edges in the order of its declared actions.
func (g *Graph[S]) Transitions() []Transition {
	var out []Transition
	for _, name := range g.order {
		for _, a := range g.nodes[name].Actions() {
			if to, ok := g.edges[name][a]; ok {
				out = append(out, Transition{From: name, Action: a, To: to})
			}
		}
	}
	return out
}

// String renders the edge table, one edge per line, for debugging.
func (g *Graph[S]) String() string {
	var sb strings.Builder
	for _, t := range g.Transitions() {
		fmt.Fprintf(&sb, "%s -[%s]-> %s\n", t.From, t.Action, t.To)
	}
	return sb.String()
}
