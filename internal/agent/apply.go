package agent

import (
	"context"
	"log/slog"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/internal/patch"
	"github.com/rendis/scenecraft/internal/scene"
	"github.com/rendis/scenecraft/pkg/schema"
)

// EditResult is the payload of the edit_finished event.
type EditResult struct {
	Intent   Intent         `json:"intent"`
	Scene    scene.Document `json:"scene"`
	Summary  *scene.Summary `json:"summary,omitempty"`
	Warnings []schema.Issue `json:"warnings,omitempty"`
	Preview  string         `json:"preview,omitempty"`
}

// EditRecorder counts edit outcomes.
type EditRecorder interface {
	EditApplied(intent, outcome string)
}

// Edit outcomes other than error codes.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
)

// ApplyDiffNode applies the stored diff to the original document and
// publishes the edited scene. A nil diff is a no-op.
type ApplyDiffNode struct {
	inspector *scene.Inspector
	recorder  EditRecorder
	logger    *slog.Logger
}

type applyPrep struct {
	intent   Intent
	document string
	diff     *string
	sink     jobs.Sink
}

func (n *ApplyDiffNode) Name() string { return NodeApplyDiff }

func (n *ApplyDiffNode) Actions() []engine.Action { return []engine.Action{engine.ActionDone} }

func (n *ApplyDiffNode) Prepare(_ context.Context, s *FlowContext) (any, error) {
	return applyPrep{intent: s.CurrentIntent, document: s.Document, diff: s.DiffContent, sink: s.Sink}, nil
}

func (n *ApplyDiffNode) Execute(ctx context.Context, prep any) (any, error) {
	p := prep.(applyPrep)
	ctx = logging.WithIntent(ctx, string(p.intent))

	if p.diff == nil {
		n.record(p.intent, OutcomeSkipped)
		p.sink.Emit(ctx, schema.StepDiffSkipped, "The model returned no applicable diff; the scene is unchanged.", map[string]any{
			"intent": string(p.intent),
		})
		return (*EditResult)(nil), nil
	}

	res, err := n.apply(ctx, p)
	if err != nil {
		n.record(p.intent, schema.CodeOf(err))
		logging.LogWith(ctx, n.logger).Warn("scene edit failed",
			slog.String("code", schema.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	n.record(p.intent, OutcomeApplied)
	p.sink.Emit(ctx, schema.StepEditFinished, "", res)
	return res, nil
}

func (n *ApplyDiffNode) apply(ctx context.Context, p applyPrep) (*EditResult, error) {
	updated, err := patch.Apply(p.document, *p.diff)
	if err != nil {
		return nil, err
	}
	inspection, err := n.inspector.Inspect(ctx, updated)
	if err != nil {
		return nil, err
	}
	preview, err := patch.Preview(p.document, updated, "scene.json")
	if err != nil {
		preview = ""
	}
	return &EditResult{
		Intent:   p.intent,
		Scene:    inspection.Document,
		Summary:  inspection.Summary,
		Warnings: inspection.Report.Warnings,
		Preview:  preview,
	}, nil
}

func (n *ApplyDiffNode) Finalize(_ context.Context, s *FlowContext, _, exec any) (engine.Action, error) {
	s.Result = exec.(*EditResult)
	return engine.ActionDone, nil
}

func (n *ApplyDiffNode) record(intent Intent, outcome string) {
	if n.recorder != nil {
		n.recorder.EditApplied(string(intent), outcome)
	}
}
