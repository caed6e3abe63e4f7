package patch

import "github.com/pmezard/go-difflib/difflib"

// Preview renders a unified diff between two document versions.
func Preview(original, updated, name string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(updated),
		FromFile: name + ".orig",
		ToFile:   name,
		Context:  3,
	})
}
