package parser

import (
	"fmt"
	"os"

	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/pelletier/go-toml/v2"
)

// Row pattern shared by the table rules: pipe-delimited, tab-separated, or
// columns aligned with two or more spaces.
const tableRow = `^\s*(?P<row>\|.*\||[^\t]*\S\t+\S.*|\S.*?\S {2,}\S.*)$`

// DefaultRules returns the built-in grammar, in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "heading",
			Kind:       doctree.KindHeading,
			Start:      `^\s{0,3}(?P<marker>#{1,6})\s+(?P<title>.+?)(?:\s+#+)?$`,
			Interrupts: true,
		},
		{
			// Chinese chapter/section numbering: 第一章, 一、, （二）, (3).
			Name:       "cjk_title",
			Kind:       doctree.KindHeading,
			Start:      `^\s*(?P<number>第[一二三四五六七八九十百千万0-9]+[章节篇条]|[一二三四五六七八九十]+、|[（(][一二三四五六七八九十0-9]+[）)]|（[A-Z]）)\s*(?P<title>\S.*)$`,
			Interrupts: true,
		},
		{
			// Outline numbering: "A. Scope", "2.1 Background", "3.4.1. Limits".
			Name:       "numbered_title",
			Kind:       doctree.KindHeading,
			Start:      `^\s*(?P<number>[A-Z]\.|\d+(?:\.\d+)+\.?)\s+(?P<title>\S.{0,100})$`,
			Interrupts: true,
		},
		{
			Name:       "list_item",
			Kind:       doctree.KindListItem,
			Start:      `^\s*(?P<marker>[-*+•]|\d+[.)])\s+(?P<item>\S.*)$`,
			Continue:   `^\s{2,}(?P<item>[^-*+•\s].*)$`,
			Interrupts: true,
		},
		{
			Name:       "pipe_table",
			Kind:       doctree.KindTable,
			Start:      `^\s*(?P<row>\|.*\|)$`,
			Continue:   tableRow,
			Interrupts: true,
		},
		{
			Name:     "aligned_table",
			Kind:     doctree.KindTable,
			Start:    `^\s*(?P<row>[^\t]*\S\t+\S.*|\S.*?\S {2,}\S.*)$`,
			Continue: tableRow,
		},
		{
			// A "Key: value" line closes an open paragraph.
			Name:       "key_value",
			Kind:       doctree.KindKeyValue,
			Start:      `^\s*(?P<key>[\p{L}\p{N}][\p{L}\p{N} _\-/()]{0,40}?)\s*(?::\s+|：\s*)(?P<value>\S.*)$`,
			Interrupts: true,
		},
		{
			Name:     "paragraph",
			Kind:     doctree.KindParagraph,
			Start:    `^\s*(?P<text>[\p{L}\p{N}"'“‘(\[].*)$`,
			Continue: `^\s*(?P<text>\S.*)$`,
		},
	}
}

// grammarFile is the on-disk TOML layout:
//
//	[[rule]]
//	name = "invoice_line"
//	start = '^(?P<sku>[A-Z]{3}-\d+)\s+(?P<qty>\d+)$'
type grammarFile struct {
	Rule []Rule `toml:"rule"`
}

// LoadGrammarFile reads a TOML grammar and compiles it to check it.
func LoadGrammarFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read grammar: %w", err)
	}
	return ParseGrammar(data)
}

// ParseGrammar decodes a TOML grammar and validates it.
func ParseGrammar(data []byte) (Config, error) {
	var gf grammarFile
	if err := toml.Unmarshal(data, &gf); err != nil {
		return Config{}, &ParseError{Kind: Fatal, Msg: "decode grammar", Err: err}
	}
	cfg := Config{Rules: gf.Rule}
	if _, err := Compile(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
