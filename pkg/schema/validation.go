package schema

import "fmt"

// Severity indicates whether a scene issue blocks the edit or is advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single problem found in a scene document, located by JSON pointer.
type Issue struct {
	Pointer  string   `json:"pointer"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Report aggregates the issues found by schema validation and scene rules.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// OK returns true if there are no errors. Warnings are acceptable.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Fail records an error-severity issue.
func (r *Report) Fail(pointer, rule, message string) {
	r.Errors = append(r.Errors, Issue{Pointer: pointer, Rule: rule, Message: message, Severity: SeverityError})
}

// Warn records a warning-severity issue.
func (r *Report) Warn(pointer, rule, message string) {
	r.Warnings = append(r.Warnings, Issue{Pointer: pointer, Rule: rule, Message: message, Severity: SeverityWarning})
}

// Merge appends another report's issues to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err converts the report into a MALFORMED_DOCUMENT error, or nil when OK.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("scene has %d errors", len(r.Errors))
	}
	return NewError(ErrCodeMalformedDocument, msg).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}
