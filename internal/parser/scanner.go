package parser

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
)

// state is the scanner's position in the record state machine:
// scanning -> inRecord -> emitting -> scanning, with recovering entered
// on a line no rule accepts.
type state int

const (
	scanning state = iota
	inRecord
	emitting
	recovering
)

var (
	// thematicBreak matches separator lines such as "---", "***" or "= = =".
	thematicBreak = regexp.MustCompile(`^([-=*_~]\s*){3,}$`)
	// cellSep splits tab-separated or space-aligned table rows.
	cellSep = regexp.MustCompile(`\t+| {2,}`)
	// tableDivider matches the "|---|:--:|" row under a table header.
	tableDivider = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

// line is one line of the chunk with chunk-local character offsets.
type line struct {
	text  string
	start int // offset of the first character
	end   int // offset just past the last non-space character
	lead  int // leading whitespace characters
}

// openRecord accumulates the lines of the record being built. rule is nil
// while recovering.
type openRecord struct {
	rule   *compiledRule
	start  int
	end    int
	fields map[string]string
}

// scanner holds all per-chunk parse state. A fresh scanner is created for
// every call so nothing leaks between chunks.
type scanner struct {
	g     *Grammar
	chunk doctree.Chunk
	doc   doctree.Document
	runes []rune
	state state
	open  *openRecord
	out   []doctree.Record
}

func newScanner(g *Grammar, chunk doctree.Chunk, doc doctree.Document) *scanner {
	return &scanner{
		g:     g,
		chunk: chunk,
		doc:   doc,
		runes: []rune(chunk.Text),
		out:   []doctree.Record{},
	}
}

func (s *scanner) run() {
	for _, ln := range splitLines(s.runes) {
		s.feed(ln)
	}
	s.emit()
}

func (s *scanner) feed(ln line) {
	trimmed := strings.TrimSpace(ln.text)
	switch {
	case trimmed == "" || thematicBreak.MatchString(trimmed):
		s.emit()
		return
	case tableDivider.MatchString(trimmed):
		// Keep a table open across its header divider.
		if s.state != inRecord {
			s.emit()
		}
		return
	}

	body := strings.TrimRight(ln.text, " \t\r")
	rule, m := s.g.match(body)

	switch s.state {
	case inRecord:
		if rule != nil && rule.interrupts && rule != s.open.rule {
			s.emit()
			s.begin(rule, m, ln)
			return
		}
		if cont := s.open.rule.cont; cont != nil {
			if cm := cont.FindStringSubmatch(body); cm != nil {
				s.extend(s.open.rule.contNames, cm, ln)
				return
			}
		}
		s.emit()
		s.begin(rule, m, ln)

	case recovering:
		if rule != nil {
			s.emit()
			s.begin(rule, m, ln)
			return
		}
		s.open.end = ln.end

	default:
		s.begin(rule, m, ln)
	}
}

// begin opens a record for rule, or starts recovering when rule is nil.
func (s *scanner) begin(rule *compiledRule, m []string, ln line) {
	s.open = &openRecord{
		rule:  rule,
		start: ln.start + ln.lead,
		end:   ln.end,
	}
	if rule == nil {
		s.state = recovering
		return
	}
	s.open.fields = make(map[string]string)
	s.extend(rule.startNames, m, ln)
	s.state = inRecord
	if rule.cont == nil {
		s.emit()
	}
}

func (s *scanner) extend(names []string, m []string, ln line) {
	for i := 1; i < len(m) && i < len(names); i++ {
		name, v := names[i], strings.TrimSpace(m[i])
		if name == "" || v == "" {
			continue
		}
		if prev, ok := s.open.fields[name]; ok {
			s.open.fields[name] = prev + "\n" + v
		} else {
			s.open.fields[name] = v
		}
	}
	s.open.end = ln.end
}

// emit closes the open record, if any, and returns to scanning.
func (s *scanner) emit() {
	if s.open == nil {
		s.state = scanning
		return
	}
	s.state = emitting
	o := s.open
	text := string(s.runes[o.start:o.end])
	pos := s.doc.Position(s.chunk.Start + o.start)

	rec := doctree.Record{
		ChunkIndex: s.chunk.Index,
		Page:       s.doc.PageAt(s.chunk.Start + o.start),
		Text:       text,
		Start:      o.start,
		End:        o.end,
		Line:       pos.Line,
		Column:     pos.Column,
	}
	if o.rule == nil {
		rec.Kind = doctree.KindRecovered
		rec.Fields = map[string]string{"raw": text}
		rec.Recovered = true
	} else {
		rec.Kind = o.rule.kind
		rec.Fields = o.fields
		if len(rec.Fields) == 0 {
			rec.Fields["text"] = text
		}
		if row, ok := rec.Fields["row"]; ok && rec.Kind == doctree.KindTable {
			rec.Fields["cells"] = tableCells(row)
		}
		rec.Confidence = 1
	}
	s.out = append(s.out, rec)

	s.open = nil
	s.state = scanning
}

// tableCells splits each row on pipes, tabs or runs of two or more spaces
// and returns one tab-joined line of trimmed cells per row.
func tableCells(rows string) string {
	var out []string
	for row := range strings.SplitSeq(rows, "\n") {
		row = strings.TrimSpace(row)
		var cells []string
		if strings.HasPrefix(row, "|") {
			row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
			cells = strings.Split(row, "|")
		} else {
			cells = cellSep.Split(row, -1)
		}
		for i, c := range cells {
			cells[i] = strings.TrimSpace(c)
		}
		out = append(out, strings.Join(cells, "\t"))
	}
	return strings.Join(out, "\n")
}

func splitLines(runes []rune) []line {
	var lines []line
	start := 0
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}
		seg := runes[start:i]
		lead := 0
		for lead < len(seg) && (seg[lead] == ' ' || seg[lead] == '\t') {
			lead++
		}
		end := len(seg)
		for end > lead && (seg[end-1] == ' ' || seg[end-1] == '\t' || seg[end-1] == '\r') {
			end--
		}
		lines = append(lines, line{
			text:  string(seg),
			start: start,
			end:   start + end,
			lead:  lead,
		})
		start = i + 1
	}
	return lines
}
