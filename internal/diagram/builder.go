package diagram

import (
	"fmt"
	"sort"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/internal/scene"
)

// FromScene builds a model of a scene document. Edge endpoints that name no
// node are drawn as missing nodes rather than rejected, so a broken scene
// can still be inspected.
func FromScene(doc scene.Document, title string) *Model {
	m := &Model{Title: title}
	index := map[string]bool{}

	for i, raw := range doc.Nodes() {
		obj, _ := raw.(map[string]any)
		id := stringField(obj, "id")
		if id == "" {
			id = fmt.Sprintf("node_%d", i)
		}
		if index[id] {
			continue
		}
		index[id] = true
		m.Nodes = append(m.Nodes, &Node{
			ID:    id,
			Label: sceneLabel(id, obj),
			Kind:  NodeKindScene,
			Group: stringField(obj, "type"),
		})
	}

	for _, raw := range doc.Edges() {
		obj, _ := raw.(map[string]any)
		from, to := stringField(obj, "source"), stringField(obj, "target")
		if from == "" || to == "" {
			continue
		}
		for _, id := range []string{from, to} {
			if !index[id] {
				index[id] = true
				m.Nodes = append(m.Nodes, &Node{ID: id, Label: id, Kind: NodeKindMissing})
			}
		}
		m.Edges = append(m.Edges, Edge{From: from, To: to, Label: handleLabel(obj)})
	}

	m.Levels = levels(m)
	return m
}

// FromWorkflow builds a model of a workflow graph from its entry node and
// transitions. Nodes without outgoing edges lead to a synthetic end node.
func FromWorkflow(start string, transitions []engine.Transition) *Model {
	m := &Model{Title: "workflow"}
	seen := map[string]bool{}
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		m.Nodes = append(m.Nodes, &Node{ID: name, Label: name, Kind: NodeKindStep})
	}

	m.Nodes = append(m.Nodes, &Node{ID: "__start__", Label: "start", Kind: NodeKindStart})
	add(start)
	m.Edges = append(m.Edges, Edge{From: "__start__", To: start})

	outgoing := map[string]bool{}
	for _, t := range transitions {
		add(t.From)
		add(t.To)
		outgoing[t.From] = true
		m.Edges = append(m.Edges, Edge{From: t.From, To: t.To, Label: string(t.Action)})
	}

	m.Nodes = append(m.Nodes, &Node{ID: "__end__", Label: "end", Kind: NodeKindEnd})
	for _, n := range m.Nodes {
		if n.Kind == NodeKindStep && !outgoing[n.ID] {
			m.Edges = append(m.Edges, Edge{From: n.ID, To: "__end__"})
		}
	}

	m.Levels = levels(m)
	return m
}

// levels assigns every node the length of the longest edge path reaching
// it. Nodes on a cycle that the layering cannot place go on a final level.
func levels(m *Model) [][]string {
	indeg := make(map[string]int, len(m.Nodes))
	next := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range m.Edges {
		if e.From == e.To {
			continue
		}
		next[e.From] = append(next[e.From], e.To)
		indeg[e.To]++
	}

	depth := map[string]int{}
	var queue []string
	for _, n := range m.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	placed := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		placed[id] = true
		for _, to := range next[id] {
			if depth[id]+1 > depth[to] {
				depth[to] = depth[id] + 1
			}
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	var out [][]string
	for _, n := range m.Nodes {
		if !placed[n.ID] {
			continue
		}
		d := depth[n.ID]
		for len(out) <= d {
			out = append(out, nil)
		}
		out[d] = append(out[d], n.ID)
	}

	var cyclic []string
	for _, n := range m.Nodes {
		if !placed[n.ID] {
			cyclic = append(cyclic, n.ID)
		}
	}
	if len(cyclic) > 0 {
		sort.Strings(cyclic)
		out = append(out, cyclic)
	}
	return out
}

func sceneLabel(id string, obj map[string]any) string {
	typ := stringField(obj, "type")
	data, _ := obj["data"].(map[string]any)
	name := stringField(data, "label")
	if name == "" {
		name = stringField(data, "name")
	}
	switch {
	case name != "" && typ != "":
		return name + "\n" + typ
	case name != "":
		return name
	case typ != "":
		return id + "\n" + typ
	default:
		return id
	}
}

func handleLabel(edge map[string]any) string {
	from, to := stringField(edge, "sourceHandle"), stringField(edge, "targetHandle")
	switch {
	case from != "" && to != "":
		return from + " → " + to
	case from != "":
		return from
	default:
		return to
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
