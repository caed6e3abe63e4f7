package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/internal/scene"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Deps are the collaborators of the workflow. Client is required; nil
// Prompts and Inspector fall back to the embedded defaults.
type Deps struct {
	Client    llm.Client
	Prompts   *Prompts
	Inspector *scene.Inspector
	Edits     EditRecorder
	Logger    *slog.Logger
}

func (d *Deps) defaults() error {
	if d.Client == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent needs a model client")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	var err error
	if d.Prompts == nil {
		if d.Prompts, err = LoadPrompts(); err != nil {
			return err
		}
	}
	if d.Inspector == nil {
		if d.Inspector, err = scene.NewInspector(nil); err != nil {
			return err
		}
	}
	return nil
}

// NewGraph builds the workflow:
//
//	intent_recognition -[modify_scene]->   modify_scene   -[apply_diff]-> apply_diff
//	                   -[modify_node]->    modify_node    -[apply_diff]-> apply_diff
//	                   -[generate_scene]-> generate_scene -[apply_diff]-> apply_diff
//	                   -[generate_node]->  generate_node  -[apply_diff]-> apply_diff
//	                   -[chat]->           chat
func NewGraph(deps Deps) (*engine.Graph[FlowContext], error) {
	if err := deps.defaults(); err != nil {
		return nil, err
	}

	b := engine.NewBuilder[FlowContext]().
		Add(&IntentRecognitionNode{client: deps.Client, prompts: deps.Prompts, logger: deps.Logger}).
		Start(NodeIntentRecognition)

	for _, intent := range EditIntents {
		b.Add(&editNode{intent: intent, client: deps.Client, prompts: deps.Prompts}).
			Edge(NodeIntentRecognition, intent.Action(), string(intent)).
			Edge(string(intent), ActionApplyDiff, NodeApplyDiff)
	}

	b.Add(&ChatNode{client: deps.Client, prompts: deps.Prompts}).
		Edge(NodeIntentRecognition, IntentChat.Action(), NodeChat)

	b.Add(&ApplyDiffNode{inspector: deps.Inspector, recorder: deps.Edits, logger: deps.Logger})

	return b.Build()
}

// Runner executes the workflow for one job.
type Runner struct {
	graph     *engine.Graph[FlowContext]
	observers []engine.Observer
	logger    *slog.Logger
}

// NewRunner builds the graph and a Runner over it. observers are attached
// to every run in addition to debug logging of node timings.
func NewRunner(deps Deps, observers ...engine.Observer) (*Runner, error) {
	g, err := NewGraph(deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{graph: g, logger: logger}
	r.observers = append([]engine.Observer{nodeLogger{logger: logger}}, observers...)
	return r, nil
}

// Graph returns the validated workflow graph.
func (r *Runner) Graph() *engine.Graph[FlowContext] { return r.graph }

// Run implements jobs.Runner.
func (r *Runner) Run(ctx context.Context, req schema.JobRequest, sink jobs.Sink) error {
	_, err := r.RunState(ctx, NewFlowContext(req, sink))
	return err
}

// RunState runs the workflow over an explicit state and returns it.
func (r *Runner) RunState(ctx context.Context, state *FlowContext) (*FlowContext, error) {
	opts := make([]engine.RunOption, 0, len(r.observers))
	for _, o := range r.observers {
		opts = append(opts, engine.WithObserver(o))
	}
	return engine.Run(ctx, r.graph, state, opts...)
}

var _ jobs.Runner = (*Runner)(nil)

// nodeLogger logs node visits at debug level.
type nodeLogger struct {
	logger *slog.Logger
}

func (l nodeLogger) NodeStarted(ctx context.Context, node string) {
	l.logger.DebugContext(logging.WithNode(ctx, node), "node started")
}

func (l nodeLogger) NodeFinished(ctx context.Context, node string, action engine.Action, elapsed time.Duration, err error) {
	ctx = logging.WithNode(ctx, node)
	if err != nil {
		l.logger.DebugContext(ctx, "node failed", slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
		return
	}
	l.logger.DebugContext(ctx, "node finished", slog.String("action", string(action)), slog.Duration("elapsed", elapsed))
}
