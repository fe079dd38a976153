// Package parser turns chunks into structured records using an ordered
// grammar of line rules.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Rule is one line-oriented production of a grammar.
//
// Start is matched against each line (trailing whitespace removed); the
// first rule whose Start matches opens a record. If Continue is set, the
// following lines that match it extend the record. Named capture groups
// become record fields; values captured on several lines are joined with
// "\n". Fields optionally names every capture group positionally.
type Rule struct {
	Name       string   `json:"name" toml:"name"`
	Kind       string   `json:"kind,omitempty" toml:"kind"`
	Start      string   `json:"start" toml:"start"`
	Continue   string   `json:"continue,omitempty" toml:"continue"`
	Fields     []string `json:"fields,omitempty" toml:"fields"`
	Interrupts bool     `json:"interrupts,omitempty" toml:"interrupts"` // a matching line closes any open record
}

// Config is the parser configuration.
type Config struct {
	Rules []Rule `json:"rules" toml:"rule"`
}

// DefaultConfig returns the built-in grammar.
func DefaultConfig() Config {
	return Config{Rules: DefaultRules()}
}

// ErrorKind classifies parser failures.
type ErrorKind string

// Fatal is the only parser error kind: malformed data never fails a parse.
const Fatal ErrorKind = "fatal"

// ParseError reports a malformed grammar or an invalid chunk/document pair.
type ParseError struct {
	Kind ErrorKind
	Rule string
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Rule != "" {
		msg = fmt.Sprintf("rule %q: %s", e.Rule, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", msg, e.Err)
	}
	return "parse: " + msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func fatal(rule, format string, args ...any) *ParseError {
	return &ParseError{Kind: Fatal, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is a fatal ParseError.
func IsFatal(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == Fatal
}

// Grammar is a compiled, immutable rule set. It is safe for concurrent use.
type Grammar struct {
	rules []*compiledRule
}

type compiledRule struct {
	name       string
	kind       string
	start      *regexp.Regexp
	cont       *regexp.Regexp
	startNames []string // field name per capture group, "" to ignore
	contNames  []string
	interrupts bool
}

// Compile validates cfg and compiles its rules.
func Compile(cfg Config) (*Grammar, error) {
	if len(cfg.Rules) == 0 {
		return nil, fatal("", "grammar has no rules")
	}
	g := &Grammar{}
	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		name := normalizeName(r.Name)
		if name == "" {
			return nil, fatal("", "rule %d has no name", i)
		}
		if seen[name] {
			return nil, fatal(name, "duplicate rule name")
		}
		seen[name] = true

		cr, err := compileRule(name, r)
		if err != nil {
			return nil, err
		}
		g.rules = append(g.rules, cr)
	}
	return g, nil
}

func compileRule(name string, r Rule) (*compiledRule, error) {
	if r.Start == "" {
		return nil, fatal(name, "start pattern is empty")
	}
	start, err := regexp.Compile(r.Start)
	if err != nil {
		return nil, &ParseError{Kind: Fatal, Rule: name, Msg: "invalid start pattern", Err: err}
	}
	if start.MatchString("") {
		return nil, fatal(name, "start pattern matches an empty line")
	}

	cr := &compiledRule{
		name:       name,
		kind:       normalizeName(r.Kind),
		start:      start,
		interrupts: r.Interrupts,
	}
	if cr.kind == "" {
		cr.kind = name
	}

	if len(r.Fields) > 0 && len(r.Fields) != start.NumSubexp() {
		return nil, fatal(name, "fields names %d groups but start pattern has %d", len(r.Fields), start.NumSubexp())
	}
	cr.startNames = groupNames(start, r.Fields)

	if r.Continue != "" {
		cont, err := regexp.Compile(r.Continue)
		if err != nil {
			return nil, &ParseError{Kind: Fatal, Rule: name, Msg: "invalid continue pattern", Err: err}
		}
		cr.cont = cont
		cr.contNames = groupNames(cont, nil)
	}
	return cr, nil
}

func groupNames(re *regexp.Regexp, positional []string) []string {
	names := re.SubexpNames()
	out := make([]string, len(names))
	for i := 1; i < len(names); i++ {
		switch {
		case len(positional) >= i && positional[i-1] != "":
			out[i] = normalizeName(positional[i-1])
		default:
			out[i] = normalizeName(names[i])
		}
	}
	return out
}

// match returns the first rule whose start pattern matches line.
func (g *Grammar) match(line string) (*compiledRule, []string) {
	for _, r := range g.rules {
		if m := r.start.FindStringSubmatch(line); m != nil {
			return r, m
		}
	}
	return nil, nil
}

// RuleNames lists the compiled rule names in priority order.
func (g *Grammar) RuleNames() []string {
	out := make([]string, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.name
	}
	return out
}

// Parse compiles cfg and parses chunk. Callers parsing many chunks should
// Compile once and use Grammar.Parse.
func Parse(chunk doctree.Chunk, doc doctree.Document, cfg Config) ([]doctree.Record, error) {
	g, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return g.Parse(chunk, doc)
}

// Parse extracts records from chunk. doc is used only to validate the
// chunk's range and to resolve record positions. Malformed text produces
// recovered records, never an error.
func (g *Grammar) Parse(chunk doctree.Chunk, doc doctree.Document) ([]doctree.Record, error) {
	if chunk.Start < 0 || chunk.End < chunk.Start || chunk.End > doc.Len() {
		return nil, fatal("", "chunk %d range [%d,%d) outside document of length %d", chunk.Index, chunk.Start, chunk.End, doc.Len())
	}
	if n := utf8.RuneCountInString(chunk.Text); n != chunk.End-chunk.Start {
		return nil, fatal("", "chunk %d text has %d characters, range has %d", chunk.Index, n, chunk.End-chunk.Start)
	}

	s := newScanner(g, chunk, doc)
	s.run()
	return s.out, nil
}
