package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/internal/patch"
	"github.com/rendis/scenecraft/internal/reply"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Node names.
const (
	NodeIntentRecognition = "intent_recognition"
	NodeChat              = "chat"
	NodeApplyDiff         = "apply_diff"
)

// ActionApplyDiff routes an edit step to the patch step.
const ActionApplyDiff engine.Action = "apply_diff"

// maxReplyDetail bounds how much of an unparseable reply is kept in errors.
const maxReplyDetail = 500

type llmPrep struct {
	model    string
	messages []llm.Message
	sink     jobs.Sink
	query    string
}

// --- Intent recognition ---

// IntentRecognitionNode classifies the request and routes on the intent.
type IntentRecognitionNode struct {
	client  llm.Client
	prompts *Prompts
	logger  *slog.Logger
}

type recognition struct {
	intent Intent
	reason string
}

func (n *IntentRecognitionNode) Name() string { return NodeIntentRecognition }

func (n *IntentRecognitionNode) Actions() []engine.Action {
	out := make([]engine.Action, len(Intents))
	for i, intent := range Intents {
		out[i] = intent.Action()
	}
	return out
}

func (n *IntentRecognitionNode) Prepare(_ context.Context, s *FlowContext) (any, error) {
	msgs, err := n.prompts.Intent(PromptData{UserQuery: s.UserQuery})
	if err != nil {
		return nil, err
	}
	return llmPrep{model: s.Model, messages: msgs, sink: s.Sink, query: s.UserQuery}, nil
}

func (n *IntentRecognitionNode) Execute(ctx context.Context, prep any) (any, error) {
	p := prep.(llmPrep)
	p.sink.Emit(ctx, schema.StepThinking, "Starting intent recognition for user query:\n"+p.query, nil)

	text, err := llm.StreamText(ctx, n.client, p.model, p.messages, nil)
	if err != nil {
		return nil, err
	}

	parsed := reply.ParseYAML(text)
	if parsed == nil {
		return nil, schema.NewError(schema.ErrCodeRecognition, "intent reply is not a YAML mapping").
			WithDetails(map[string]any{"reply": truncate(text)})
	}
	intent, err := ParseIntent(reply.String(parsed, "next_action"))
	if err != nil {
		return nil, err
	}
	rec := recognition{intent: intent, reason: reply.String(parsed, "reason")}

	p.sink.Emit(ctx, schema.StepIntentRecognition, "next_action: "+string(intent), map[string]any{
		"next_action": string(intent),
		"reason":      rec.reason,
	})
	logging.LogWith(logging.WithIntent(ctx, string(intent)), n.logger).Info("intent recognized")
	return rec, nil
}

func (n *IntentRecognitionNode) Finalize(_ context.Context, s *FlowContext, _, exec any) (engine.Action, error) {
	rec := exec.(recognition)
	if s.CurrentIntent != "" {
		return "", schema.NewErrorf(schema.ErrCodeConflict, "intent already set to %s", s.CurrentIntent)
	}
	s.CurrentIntent = rec.intent
	s.Reason = rec.reason
	return rec.intent.Action(), nil
}

// --- Edit steps ---

// editNode is the shared implementation of the four edit intents. They
// differ only in prompt and event classifier.
type editNode struct {
	intent  Intent
	client  llm.Client
	prompts *Prompts
}

type editPrep struct {
	llmPrep
	document string
}

func (n *editNode) Name() string { return string(n.intent) }

func (n *editNode) Actions() []engine.Action { return []engine.Action{ActionApplyDiff} }

func (n *editNode) Prepare(_ context.Context, s *FlowContext) (any, error) {
	doc := s.Request.SceneText()
	if strings.TrimSpace(doc) == "" {
		doc = schema.EmptyScene
	}
	msgs, err := n.prompts.Edit(n.intent, PromptData{
		UserQuery:  s.UserQuery,
		Scene:      doc,
		Catalog:    s.Request.CatalogText(),
		Guidelines: s.Request.SceneGenerationGuidelines,
	})
	if err != nil {
		return nil, err
	}
	return editPrep{
		llmPrep:  llmPrep{model: s.Model, messages: msgs, sink: s.Sink, query: s.UserQuery},
		document: doc,
	}, nil
}

func (n *editNode) Execute(ctx context.Context, prep any) (any, error) {
	p := prep.(editPrep)
	step := n.intent.Step()
	p.sink.Emit(ctx, step, n.intent.startMessage(), nil)

	text, err := llm.StreamText(ctx, n.client, p.model, p.messages, func(chunk string) error {
		p.sink.Emit(ctx, step, chunk, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	text = patch.StripFences(text)
	if !patch.HasEnvelope(text) {
		return (*string)(nil), nil
	}
	return &text, nil
}

func (n *editNode) Finalize(_ context.Context, s *FlowContext, prep, exec any) (engine.Action, error) {
	if s.DiffContent != nil || s.Document != "" {
		return "", schema.NewError(schema.ErrCodeConflict, "diff already produced by another edit step")
	}
	s.Document = prep.(editPrep).document
	s.DiffContent = exec.(*string)
	return ActionApplyDiff, nil
}

// --- Chat ---

// ChatNode answers requests that are not edits, streaming the reply.
type ChatNode struct {
	client  llm.Client
	prompts *Prompts
}

func (n *ChatNode) Name() string { return NodeChat }

func (n *ChatNode) Actions() []engine.Action { return []engine.Action{engine.ActionDone} }

func (n *ChatNode) Prepare(_ context.Context, s *FlowContext) (any, error) {
	msgs, err := n.prompts.Chat(PromptData{UserQuery: s.UserQuery})
	if err != nil {
		return nil, err
	}
	return llmPrep{model: s.Model, messages: msgs, sink: s.Sink, query: s.UserQuery}, nil
}

func (n *ChatNode) Execute(ctx context.Context, prep any) (any, error) {
	p := prep.(llmPrep)
	return llm.StreamText(ctx, n.client, p.model, p.messages, func(chunk string) error {
		p.sink.Emit(ctx, schema.StepChat, chunk, nil)
		return nil
	})
}

func (n *ChatNode) Finalize(_ context.Context, s *FlowContext, _, exec any) (engine.Action, error) {
	s.Reply = exec.(string)
	return engine.ActionDone, nil
}

// truncate cuts s to at most maxReplyDetail bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxReplyDetail {
		return s
	}
	cut := maxReplyDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:cut], len(s))
}
