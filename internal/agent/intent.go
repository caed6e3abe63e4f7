// Package agent wires the scene editing workflow: intent recognition routes
// a request to one of four edit steps or to chat, and edits end in a patch
// step that applies the model's SEARCH/REPLACE diff to the scene.
package agent

import (
	"slices"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Intent is the classified category of a request.
type Intent string

const (
	IntentModifyScene   Intent = "modify_scene"
	IntentModifyNode    Intent = "modify_node"
	IntentGenerateScene Intent = "generate_scene"
	IntentGenerateNode  Intent = "generate_node"
	IntentChat          Intent = "chat"
)

// Intents lists every intent in routing order.
var Intents = []Intent{IntentModifyScene, IntentModifyNode, IntentGenerateScene, IntentGenerateNode, IntentChat}

// EditIntents are the intents that produce a diff.
var EditIntents = []Intent{IntentModifyScene, IntentModifyNode, IntentGenerateScene, IntentGenerateNode}

// ParseIntent validates s against the closed intent set.
func ParseIntent(s string) (Intent, error) {
	i := Intent(s)
	if !slices.Contains(Intents, i) {
		return "", schema.NewErrorf(schema.ErrCodeRecognition, "unknown intent %q", s).
			WithDetails(map[string]any{"next_action": s})
	}
	return i, nil
}

// Action is the edge label routing to the intent's node.
func (i Intent) Action() engine.Action { return engine.Action(i) }

// Step is the event classifier used for the intent's progress events.
func (i Intent) Step() string { return string(i) }

func (i Intent) startMessage() string {
	switch i {
	case IntentModifyScene:
		return "Modifying scene execution started"
	case IntentModifyNode:
		return "Modifying node execution started"
	case IntentGenerateScene:
		return "Generating scene execution started"
	case IntentGenerateNode:
		return "Generating node execution started"
	default:
		return ""
	}
}
