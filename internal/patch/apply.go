package patch

import (
	"errors"
	"strings"

	"github.com/rendis/scenecraft/pkg/schema"
)

// ErrSearchNotFound is the cause carried by every SEARCH_NOT_FOUND error.
var ErrSearchNotFound = errors.New("search block not found")

// Apply parses diff and applies its blocks to original. Blocks are applied in
// textual order, each against the document as left by the previous one, and
// each replaces the earliest match of its search lines. Apply is
// all-or-nothing: on any failure it returns "" and the error.
func Apply(original, diff string) (string, error) {
	blocks, err := Parse(diff)
	if err != nil {
		return "", err
	}
	return ApplyBlocks(original, blocks)
}

// ApplyBlocks applies already parsed blocks to original.
func ApplyBlocks(original string, blocks []Block) (string, error) {
	doc := newDocument(original)
	lines := doc.lines

	for i, b := range blocks {
		at := indexOf(lines, b.Search)
		if at < 0 {
			search := strings.Join(b.Search, "\n")
			return "", schema.NewErrorf(schema.ErrCodeSearchNotFound,
				"search block %d not found:\n%s", i+1, search).
				WithCause(ErrSearchNotFound).
				WithDetails(map[string]any{"block": i + 1, "search": search})
		}
		lines = splice(lines, at, len(b.Search), b.Replace)
	}

	doc.lines = lines
	return doc.String(), nil
}

// indexOf returns the first index at which needle occurs as a contiguous run
// of hay, or -1.
func indexOf(hay, needle []string) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func splice(lines []string, at, n int, repl []string) []string {
	out := make([]string, 0, len(lines)-n+len(repl))
	out = append(out, lines[:at]...)
	out = append(out, repl...)
	return append(out, lines[at+n:]...)
}

// document remembers the line-break convention of the original text.
type document struct {
	lines    []string
	eol      string
	trailing bool
}

func newDocument(text string) *document {
	d := &document{eol: "\n"}
	if strings.Contains(text, "\r\n") {
		d.eol = "\r\n"
	}
	if strings.HasSuffix(text, d.eol) {
		d.trailing = true
		text = strings.TrimSuffix(text, d.eol)
	}
	d.lines = strings.Split(text, d.eol)
	return d
}

func (d *document) String() string {
	s := strings.Join(d.lines, d.eol)
	if d.trailing {
		s += d.eol
	}
	return s
}
