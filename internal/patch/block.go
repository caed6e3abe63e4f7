// Package patch parses SEARCH/REPLACE diff blocks authored by a model and
// applies them to a line-oriented document.
package patch

import (
	"strings"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Structural markers. Each must stand alone on its line; trailing
// whitespace is tolerated.
const (
	MarkerSearch    = "<<<<<<< SEARCH"
	MarkerSeparator = "======="
	MarkerReplace   = ">>>>>>> REPLACE"
)

// escapePrefix turns a marker line into payload text.
const escapePrefix = `\`

// Block is one search/replace pair. The two sides need not have the same
// number of lines.
type Block struct {
	Search  []string `json:"search"`
	Replace []string `json:"replace"`
}

type parseState int

const (
	stateOutside parseState = iota
	stateSearch
	stateReplace
)

// Parse extracts diff blocks from text in left-to-right order. Text outside
// blocks is ignored. A payload line consisting of a backslash followed by a
// marker is unescaped and kept as content.
func Parse(diff string) ([]Block, error) {
	var (
		blocks []Block
		cur    Block
		state  = stateOutside
		start  int
	)

	lines := splitLines(diff)
	for i, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")
		marker := markerOf(line)

		switch state {
		case stateOutside:
			switch marker {
			case MarkerSearch:
				cur = Block{Search: []string{}, Replace: []string{}}
				state = stateSearch
				start = i + 1
			case MarkerSeparator, MarkerReplace:
				return nil, malformed(i+1, "%q outside of a block", marker)
			}

		case stateSearch:
			switch marker {
			case MarkerSearch, MarkerReplace:
				return nil, malformed(i+1, "%q before separator of block opened on line %d", marker, start)
			case MarkerSeparator:
				if len(cur.Search) == 0 {
					return nil, malformed(i+1, "block opened on line %d has an empty search section", start)
				}
				state = stateReplace
			default:
				cur.Search = append(cur.Search, unescape(line))
			}

		case stateReplace:
			switch marker {
			case MarkerSearch, MarkerSeparator:
				return nil, malformed(i+1, "%q before end of block opened on line %d", marker, start)
			case MarkerReplace:
				blocks = append(blocks, cur)
				state = stateOutside
			default:
				cur.Replace = append(cur.Replace, unescape(line))
			}
		}
	}

	if state != stateOutside {
		return nil, malformed(len(lines), "block opened on line %d is not terminated", start)
	}
	return blocks, nil
}

// markerOf returns the marker a line represents, or "" for payload text.
func markerOf(line string) string {
	switch strings.TrimRight(line, " \t") {
	case MarkerSearch:
		return MarkerSearch
	case MarkerSeparator:
		return MarkerSeparator
	case MarkerReplace:
		return MarkerReplace
	}
	return ""
}

func unescape(line string) string {
	if rest, ok := strings.CutPrefix(line, escapePrefix); ok && markerOf(rest) != "" {
		return rest
	}
	return line
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func malformed(line int, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeMalformedDiff, format, args...).
		WithDetails(map[string]any{"line": line})
}
