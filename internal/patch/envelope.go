package patch

import "strings"

// StripFences removes an optional fenced code block wrapping the whole text,
// including a language tag on the opening fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimRight(text, " \t\r\n"), "```")
	return strings.TrimSpace(text)
}

// HasEnvelope reports whether text starts with a SEARCH marker and ends with
// a REPLACE marker, the shape edit steps require before handing text on.
func HasEnvelope(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, MarkerSearch) && strings.HasSuffix(text, MarkerReplace)
}
