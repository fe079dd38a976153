package loader

import (
	"path/filepath"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
)

// treeBuilder nests sections under headings by level. Text blocks attach
// to the innermost open section.
type treeBuilder struct {
	root    *doctree.DocNode
	stack   []stackEntry
	pending []string
	page    int
}

type stackEntry struct {
	node  *doctree.DocNode
	level int
}

func newTreeBuilder(title string) *treeBuilder {
	root := &doctree.DocNode{Title: title}
	return &treeBuilder{
		root:  root,
		stack: []stackEntry{{node: root, level: 0}},
	}
}

func (b *treeBuilder) flushText() {
	if len(b.pending) == 0 {
		return
	}
	t := strings.Join(b.pending, "\n\n")
	top := b.stack[len(b.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
		if top.Page == 0 {
			top.Page = b.page
		}
	}
	b.pending = b.pending[:0]
}

func (b *treeBuilder) heading(title string, level, page int) {
	if title == "" {
		return
	}
	b.flushText()
	n := &doctree.DocNode{Title: title, Level: level, Page: page}

	// Pop stack until we find a parent with lower level.
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1].node
	parent.Children = append(parent.Children, n)
	b.stack = append(b.stack, stackEntry{node: n, level: level})
}

func (b *treeBuilder) text(t string, page int) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if len(b.pending) == 0 {
		b.page = page
	}
	b.pending = append(b.pending, t)
}

// finish returns the top-level nodes. Text that appeared before the first
// heading is kept as a leading untitled node.
func (b *treeBuilder) finish() []*doctree.DocNode {
	b.flushText()
	children := b.root.Children
	if b.root.Text != "" {
		lead := &doctree.DocNode{Text: b.root.Text, Page: b.root.Page}
		children = append([]*doctree.DocNode{lead}, children...)
	}
	return children
}

func trimExt(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
