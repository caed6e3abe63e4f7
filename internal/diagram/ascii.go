package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RenderASCII renders a Model as rows of boxes, one row per level, followed
// by the edge list.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := model.node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nedges:\n")
		for _, e := range model.Edges {
			arrow := "─→"
			if model.dangling(e) {
				arrow = "╌→"
			}
			label := ""
			if e.Label != "" {
				label = " [" + e.Label + "]"
			}
			fmt.Fprintf(&b, "  %s %s %s%s\n", e.From, arrow, e.To, label)
		}
	}

	missing := 0
	for _, n := range model.Nodes {
		if n.Kind == NodeKindMissing {
			missing++
		}
	}
	fmt.Fprintf(&b, "\n%d nodes, %d edges", len(model.Nodes)-missing, len(model.Edges))
	if missing > 0 {
		fmt.Fprintf(&b, ", %d missing", missing)
	}
	b.WriteByte('\n')
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := strings.Split(node.Label, "\n")
	if node.Kind == NodeKindMissing {
		content = append(content, "[MISSING]")
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, line := range content {
		pad := strings.Repeat(" ", maxLen-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
