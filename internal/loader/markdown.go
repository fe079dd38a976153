package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownDecoder handles Markdown files using goldmark. Inline markup is
// dropped; lists, tables and code blocks keep their line structure.
type MarkdownDecoder struct{}

func (d *MarkdownDecoder) Decode(r io.Reader, name string) (*doctree.DocTree, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	tree := &doctree.DocTree{Title: trimExt(name)}
	b := newTreeBuilder(tree.Title)

	titled := false
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			title := inlineText(h, src)
			if h.Level == 1 && !titled && title != "" {
				tree.Title = title
				titled = true
			}
			b.heading(title, h.Level, 0)
			continue
		}
		b.text(renderBlock(n, src), 0)
	}

	tree.Children = b.finish()
	return tree, nil
}

// renderBlock renders a top-level block node as plain text.
func renderBlock(n ast.Node, src []byte) string {
	switch node := n.(type) {
	case *ast.ThematicBreak, *ast.HTMLBlock:
		return ""
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return blockLines(node, src)
	case *ast.List:
		return renderList(node, src, "")
	case *east.Table:
		return renderTable(node, src)
	case *ast.Blockquote:
		var parts []string
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t := renderBlock(c, src); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	}
	return inlineText(n, src)
}

func renderList(list *ast.List, src []byte, indent string) string {
	var lines []string
	num := list.Start
	if num == 0 {
		num = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if sub, ok := c.(*ast.List); ok {
				lines = append(lines, renderList(sub, src, indent+"  "))
				continue
			}
			t := inlineText(c, src)
			if t == "" {
				continue
			}
			if first {
				lines = append(lines, indent+marker+t)
				first = false
			} else {
				lines = append(lines, indent+"  "+t)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func renderTable(table *east.Table, src []byte) string {
	var lines []string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

func blockLines(n ast.Node, src []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// inlineText gets the text content of a goldmark AST node.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				sb.Write(t.Value(src))
				if t.HardLineBreak() || t.SoftLineBreak() {
					sb.WriteByte('\n')
				}
			case *ast.String:
				sb.Write(t.Value)
			case *ast.AutoLink:
				sb.Write(t.Label(src))
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
