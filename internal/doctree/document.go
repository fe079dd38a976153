package doctree

import (
	"sort"
	"unicode/utf8"
)

// SourceKind identifies where a document's bytes came from.
type SourceKind string

const (
	SourceFile   SourceKind = "file"
	SourceStream SourceKind = "stream"
	SourceRemote SourceKind = "remote"
)

// Format is the detected source format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// PageSpan maps a source page to a character range of Document.Text.
type PageSpan struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Position is a 1-based line/column location in a document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Document is the canonical, decoded form of a source. It is treated as
// immutable once the loader returns it. All offsets are in characters
// (Unicode code points), not bytes.
type Document struct {
	ID         string     `json:"id"`
	SourceKind SourceKind `json:"source_kind"`
	Source     string     `json:"source"`
	Format     Format     `json:"format"`
	Title      string     `json:"title,omitempty"`
	ByteLength int64      `json:"byte_length"`
	Encoding   string     `json:"encoding"`
	HadBOM     bool       `json:"had_bom"`
	Text       string     `json:"text"`
	Length     int        `json:"length"` // characters in Text
	LineStarts []int      `json:"line_starts"`
	Pages      []PageSpan `json:"pages,omitempty"`
}

// Len returns the length of the text in characters.
func (d Document) Len() int {
	if d.Length > 0 {
		return d.Length
	}
	return utf8.RuneCountInString(d.Text)
}

// Position maps a character offset to its line and column.
func (d Document) Position(offset int) Position {
	if len(d.LineStarts) == 0 {
		return Position{Line: 1, Column: offset + 1}
	}
	// Index of the last line start <= offset.
	i := sort.Search(len(d.LineStarts), func(i int) bool { return d.LineStarts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return Position{Line: i + 1, Column: offset - d.LineStarts[i] + 1}
}

// PageAt returns the page containing offset, or 0 when the document has no
// page information.
func (d Document) PageAt(offset int) int {
	for _, p := range d.Pages {
		if offset >= p.Start && offset < p.End {
			return p.Page
		}
	}
	return 0
}

// Slice returns the text in the character range [start, end).
func (d Document) Slice(start, end int) string {
	runes := []rune(d.Text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// BuildLineStarts returns the character offset of every line start in text.
// The first entry is always 0.
func BuildLineStarts(text string) []int {
	starts := []int{0}
	pos := 0
	for _, r := range text {
		pos++
		if r == '\n' {
			starts = append(starts, pos)
		}
	}
	return starts
}
