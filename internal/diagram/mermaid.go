package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart. Scene nodes are
// coloured by type and edges touching a missing node are dotted.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", mermaidEscapeLabel(model.Title))
	}
	b.WriteString("flowchart TD\n")

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		arrow := "-->"
		if model.dangling(edge) {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	classes, fills := mermaidClasses(model)
	if len(classes) == 0 {
		return b.String()
	}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("\n")
	for _, name := range names {
		if name == "missing" {
			b.WriteString("    classDef missing fill:#fff,stroke:#8b1a1a,color:#8b1a1a,stroke-dasharray:5 5\n")
			continue
		}
		fmt.Fprintf(&b, "    classDef %s fill:%s,stroke:#555\n", name, fills[name])
	}
	for _, name := range names {
		fmt.Fprintf(&b, "    class %s %s\n", strings.Join(classes[name], ","), name)
	}
	return b.String()
}

// mermaidClasses maps class names to the node IDs that carry them, plus
// the fill of each group class. Missing nodes share the "missing" class.
func mermaidClasses(model *Model) (classes map[string][]string, fills map[string]string) {
	classes = make(map[string][]string)
	fills = make(map[string]string)
	colors := model.groupColors()
	for _, node := range model.Nodes {
		var name string
		switch {
		case node.Kind == NodeKindMissing:
			name = "missing"
		case node.Group != "":
			name = "type_" + mermaidSafeID(node.Group)
			fills[name] = colors[node.Group]
		default:
			continue
		}
		classes[name] = append(classes[name], mermaidSafeID(node.ID))
	}
	return classes, fills
}

func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindStep:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindMissing:
		return fmt.Sprintf("%s{{%q}}", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID maps an ID onto [A-Za-z0-9_].
func mermaidSafeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// mermaidEscapeLabel keeps quotes and pipes from closing the label early.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "'", "|", "/").Replace(s)
}
