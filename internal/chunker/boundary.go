package chunker

import (
	"strings"
	"unicode"

	"github.com/dgallion1/docflow/internal/doctree"
)

// A matcher reports whether a chunk may end just before runes[p], so that
// runes[p] starts the next unit. Callers guarantee 0 < p < len(runes).
type matcher func(runes []rune, p int) bool

// The page matcher depends on the document; see splitter.matcher.
var matchers = map[doctree.BoundaryKind]matcher{
	doctree.BoundaryPage:      func([]rune, int) bool { return false },
	doctree.BoundaryHeading:   isHeadingStart,
	doctree.BoundaryParagraph: isParagraphStart,
	doctree.BoundarySentence:  isSentenceStart,
	doctree.BoundaryWord:      isWordStart,
	doctree.BoundaryCharacter: func([]rune, int) bool { return true },
}

func isHeadingStart(r []rune, p int) bool {
	return r[p-1] == '\n' && r[p] == '#'
}

// isParagraphStart matches the first character of a non-blank line that
// follows a blank line.
func isParagraphStart(r []rune, p int) bool {
	if r[p-1] != '\n' || unicode.IsSpace(r[p]) {
		return false
	}
	for i := p - 2; i >= 0; i-- {
		switch r[i] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return true
}

func isSentenceTerminator(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}

func isWideTerminator(c rune) bool {
	return c == '。' || c == '！' || c == '？'
}

// isSentenceStart matches a non-space character that directly follows a
// full-width terminator, or follows whitespace after ". ! ?".
func isSentenceStart(r []rune, p int) bool {
	if unicode.IsSpace(r[p]) {
		return false
	}
	if isWideTerminator(r[p-1]) {
		return true
	}
	if !unicode.IsSpace(r[p-1]) {
		return false
	}
	i := p - 1
	for i >= 0 && unicode.IsSpace(r[i]) {
		i--
	}
	return i >= 0 && (isSentenceTerminator(r[i]) || isWideTerminator(r[i]))
}

func isWordStart(r []rune, p int) bool {
	return unicode.IsSpace(r[p-1]) && !unicode.IsSpace(r[p])
}

// headingTracker follows markdown-style heading lines through the text so
// each chunk can report the section it starts in.
type headingTracker struct {
	runes []rune
	pos   int // start of the next unscanned line
	stack []heading
}

type heading struct {
	level int
	title string
}

// at returns the heading hierarchy in effect at offset, including a heading
// that starts exactly there. Offsets must be non-decreasing across calls.
func (h *headingTracker) at(offset int) []string {
	for h.pos < len(h.runes) && h.pos <= offset {
		end := h.pos
		for end < len(h.runes) && h.runes[end] != '\n' {
			end++
		}
		if level, title, ok := parseHeading(h.runes[h.pos:end]); ok {
			for len(h.stack) > 0 && h.stack[len(h.stack)-1].level >= level {
				h.stack = h.stack[:len(h.stack)-1]
			}
			h.stack = append(h.stack, heading{level: level, title: title})
		}
		h.pos = end + 1
	}
	if len(h.stack) == 0 {
		return nil
	}
	out := make([]string, len(h.stack))
	for i, hd := range h.stack {
		out[i] = hd.title
	}
	return out
}

func parseHeading(line []rune) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(string(line[level:]))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
