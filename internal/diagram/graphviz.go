package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage lays out a Model with dot and returns it as PNG bytes. Scene
// nodes are filled by type; edges to missing nodes are dashed red.
func RenderImage(ctx context.Context, model *Model) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	colors := model.groupColors()
	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, err := graph.CreateNodeByName(node.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, err)
		}
		gvNode.SetLabel(node.Label)
		gvNode.SetTooltip(node.ID)
		styleNode(gvNode, node, colors[node.Group])
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		from, to := gvNodes[edge.From], gvNodes[edge.To]
		if from == nil || to == nil {
			continue
		}
		e, err := graph.CreateEdgeByName("", from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, err)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if model.dangling(edge) {
			e.SetStyle(cgraph.DashedEdgeStyle)
			e.SetColor("#8b1a1a")
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func styleNode(gvNode *cgraph.Node, node *Node, fill string) {
	switch node.Kind {
	case NodeKindStep:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindMissing:
		gvNode.SetShape(cgraph.HexagonShape)
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#8b1a1a")
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
		if fill != "" {
			gvNode.SetStyle(cgraph.FilledNodeStyle)
			gvNode.SetFillColor(fill)
		}
	}
}
