// Package diagram renders scene documents and the assistant workflow as
// Mermaid flowcharts, ASCII boxes or PNG images.
package diagram

import "sort"

// NodeKind decides the shape a node is drawn with.
type NodeKind string

const (
	NodeKindScene   NodeKind = "scene"   // a node of a scene document
	NodeKindMissing NodeKind = "missing" // an edge endpoint with no node
	NodeKindStep    NodeKind = "step"    // a workflow node
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one box of the diagram. Label may span several lines; renderers
// that only have room for one use the first. Group is the scene node type
// and selects the fill colour.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	Group string
}

// Edge connects two node IDs.
type Edge struct {
	From  string
	To    string
	Label string
}

// palette holds the fill colours handed out to groups in sorted order.
var palette = []string{"#dbeafe", "#dcfce7", "#fef3c7", "#fce7f3", "#ede9fe", "#cffafe", "#fee2e2", "#e5e7eb"}

// groupColors assigns a palette colour to every group in the model. Groups
// are sorted first so a scene renders with the same colours every time.
func (m *Model) groupColors() map[string]string {
	var groups []string
	seen := make(map[string]bool)
	for _, n := range m.Nodes {
		if n.Group != "" && !seen[n.Group] {
			seen[n.Group] = true
			groups = append(groups, n.Group)
		}
	}
	sort.Strings(groups)
	colors := make(map[string]string, len(groups))
	for i, g := range groups {
		colors[g] = palette[i%len(palette)]
	}
	return colors
}

// dangling reports whether the edge touches a missing node.
func (m *Model) dangling(e Edge) bool {
	for _, id := range []string{e.From, e.To} {
		if n := m.node(id); n != nil && n.Kind == NodeKindMissing {
			return true
		}
	}
	return false
}

func (m *Model) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
