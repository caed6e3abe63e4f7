package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Observer is notified around every node visit. Implementations must not
// block; they run on the run's goroutine.
type Observer interface {
	NodeStarted(ctx context.Context, node string)
	NodeFinished(ctx context.Context, node string, action Action, elapsed time.Duration, err error)
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	observers []Observer
}

// WithObserver attaches an Observer to the run.
func WithObserver(o Observer) RunOption {
	return func(c *runConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Run drives state through g starting at its entry node. Nodes execute one
// at a time; the next node starts only after the previous Finalize returned.
// The run ends when a node returns ActionDone with no edge for it, or when a
// node with no outgoing edges finishes.
//
// ctx is checked before every phase. Any phase error, panic, or
// cancellation aborts the traversal and is returned as a *schema.Error
// naming the failing node.
func Run[S any](ctx context.Context, g *Graph[S], state *S, opts ...RunOption) (*S, error) {
	if g == nil {
		return state, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}
	if state == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "state is nil")
	}

	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	current := g.start
	for step := 0; ; step++ {
		if step >= g.maxSteps {
			return state, schema.NewErrorf(schema.ErrCodeExecution,
				"run exceeded %d node visits", g.maxSteps).WithNode(current)
		}

		node := g.nodes[current]
		for _, o := range cfg.observers {
			o.NodeStarted(ctx, current)
		}
		started := time.Now()
		action, err := visit(ctx, node, state)
		for _, o := range cfg.observers {
			o.NodeFinished(ctx, current, action, time.Since(started), err)
		}
		if err != nil {
			return state, err
		}

		next, ok := g.Next(current, action)
		if ok {
			current = next
			continue
		}
		if action == ActionDone || g.Terminal(current) {
			return state, nil
		}
		return state, schema.NewErrorf(schema.ErrCodeUncoveredAction,
			"action %q has no edge", action).WithNode(current)
	}
}

// visit runs the three phases of one node, converting panics and context
// errors into structured errors.
func visit[S any](ctx context.Context, node Node[S], state *S) (action Action, err error) {
	name := node.Name()
	defer func() {
		if r := recover(); r != nil {
			action = ""
			err = schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r).WithNode(name)
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", nodeError(name, "prepare", err)
	}
	prep, err := node.Prepare(ctx, state)
	if err != nil {
		return "", nodeError(name, "prepare", err)
	}

	if err := ctx.Err(); err != nil {
		return "", nodeError(name, "execute", err)
	}
	exec, err := node.Execute(ctx, prep)
	if err != nil {
		return "", nodeError(name, "execute", err)
	}

	if err := ctx.Err(); err != nil {
		return "", nodeError(name, "finalize", err)
	}
	action, err = node.Finalize(ctx, state, prep, exec)
	if err != nil {
		return "", nodeError(name, "finalize", err)
	}
	return action, nil
}

func nodeError(node, phase string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled during %s", phase).
			WithNode(node).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return schema.NewErrorf(schema.ErrCodeTimeout, "run timed out during %s", phase).
			WithNode(node).WithCause(err)
	}

	var se *schema.Error
	if errors.As(err, &se) {
		if se.Node == "" {
			se.Node = node
		}
		return err
	}
	return schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("%s: %v", phase, err)).
		WithNode(node).WithCause(err)
}
