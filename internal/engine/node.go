package engine

import "context"

// Action is the label a node returns from Finalize to select its outgoing edge.
type Action string

// ActionDone ends a run when the node returning it has no edge for it.
const ActionDone Action = "done"

// Node is a unit of work in a Graph operating on shared state S.
//
// The three phases always run in order. Prepare gathers inputs from state
// and must not have side effects. Execute performs I/O and is the only phase
// allowed to block. Finalize writes results back into state and returns the
// label of the edge to follow.
type Node[S any] interface {
	Name() string

	// Actions lists every label Finalize may return. Graph construction
	// fails unless each label other than ActionDone has an edge.
	Actions() []Action

	Prepare(ctx context.Context, state *S) (any, error)
	Execute(ctx context.Context, prep any) (any, error)
	Finalize(ctx context.Context, state *S, prep, exec any) (Action, error)
}
