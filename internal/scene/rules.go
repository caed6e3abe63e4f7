package scene

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Rule is a CEL expression over the variable `scene` that must evaluate to
// true for a well-formed scene. Failing rules produce warnings, not errors:
// the edit is still delivered.
type Rule struct {
	Name    string `json:"name"`
	Expr    string `json:"expr"`
	Message string `json:"message"`
}

// DefaultRules encode the scene conventions the prompts ask the model to
// follow.
var DefaultRules = []Rule{
	{
		Name:    "output_node",
		Expr:    `scene.nodes.exists(n, n.type == "output")`,
		Message: "scene has no output node",
	},
	{
		Name:    "unique_node_ids",
		Expr:    `scene.nodes.all(n, scene.nodes.filter(m, m.id == n.id).size() == 1)`,
		Message: "node ids are not unique",
	},
	{
		Name:    "edge_endpoints",
		Expr:    `scene.edges.all(e, scene.nodes.exists(n, n.id == e.source) && scene.nodes.exists(n, n.id == e.target))`,
		Message: "an edge references a node that does not exist",
	},
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Linter evaluates compiled rules. It is safe for concurrent use.
type Linter struct {
	rules []compiledRule
}

// NewLinter compiles rules. A rule that does not compile is a configuration
// error.
func NewLinter(rules []Rule) (*Linter, error) {
	env, err := cel.NewEnv(
		cel.Variable("scene", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	l := &Linter{}
	for _, r := range rules {
		ast, iss := env.Compile(r.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %s: %s", r.Name, iss.Err()).
				WithDetails(map[string]any{"expr": r.Expr})
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %s: %v", r.Name, err).WithCause(err)
		}
		l.rules = append(l.rules, compiledRule{Rule: r, prg: prg})
	}
	return l, nil
}

// Lint evaluates every rule against doc and records failures as warnings.
func (l *Linter) Lint(doc Document) *schema.Report {
	report := &schema.Report{}
	vars := map[string]any{"scene": map[string]any(doc)}
	for _, r := range l.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			report.Warn("/", r.Name, fmt.Sprintf("%s (rule not evaluable: %v)", r.Message, err))
			continue
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			report.Warn("/", r.Name, r.Message)
		}
	}
	return report
}
