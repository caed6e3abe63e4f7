package scene

import (
	"context"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Inspection is everything known about a patched scene.
type Inspection struct {
	Document Document       `json:"scene"`
	Summary  *Summary       `json:"summary,omitempty"`
	Report   *schema.Report `json:"report"`
}

// Inspector combines parsing, schema validation, rule linting and
// summarizing.
type Inspector struct {
	validator *Validator
	linter    *Linter
}

// NewInspector builds an Inspector with the embedded schemas and the given
// rules; nil rules selects DefaultRules.
func NewInspector(rules []Rule) (*Inspector, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = DefaultRules
	}
	l, err := NewLinter(rules)
	if err != nil {
		return nil, err
	}
	return &Inspector{validator: v, linter: l}, nil
}

// Validator exposes the schema validator for request checks.
func (i *Inspector) Validator() *Validator { return i.validator }

// Inspect parses text and runs every check. Invalid JSON or schema
// violations return MALFORMED_DOCUMENT; rule failures only add warnings.
// A scene without an edges key gets an empty edge list.
func (i *Inspector) Inspect(ctx context.Context, text string) (*Inspection, error) {
	doc, err := Parse(text)
	if err != nil {
		return nil, err
	}

	report, err := i.validator.ValidateScene(text)
	if err != nil {
		return nil, err
	}
	if err := report.Err(); err != nil {
		return nil, err
	}

	if _, ok := doc["edges"]; !ok {
		doc["edges"] = []any{}
	}
	report.Merge(i.linter.Lint(doc))

	summary, err := Summarize(ctx, doc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedDocument, "summarize scene: %v", err).WithCause(err)
	}

	return &Inspection{Document: doc, Summary: summary, Report: report}, nil
}
