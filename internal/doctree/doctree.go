package doctree

import "strings"

// DocTree is the intermediate structure produced by the format decoders
// before it is flattened into a Document's text.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Level    int        // Heading level, 1-6 (0 for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page (0 if N/A)
	Children []*DocNode // Subsections
}

// Flatten renders the tree as text. Headings become "#"-prefixed lines and
// blocks are separated by a blank line, so the chunker and parser see the
// same structure regardless of source format. Page spans are reported as
// character offsets into the returned text.
func (t *DocTree) Flatten() (string, []PageSpan) {
	var (
		sb    strings.Builder
		pages []PageSpan
		pos   int
	)

	write := func(s string, page int) {
		if s == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
			pos += 2
		}
		start := pos
		sb.WriteString(s)
		pos += runeLen(s)
		if page <= 0 {
			return
		}
		if n := len(pages); n > 0 && pages[n-1].Page == page {
			pages[n-1].End = pos
			return
		}
		pages = append(pages, PageSpan{Page: page, Start: start, End: pos})
	}

	var walk func(nodes []*DocNode, depth int)
	walk = func(nodes []*DocNode, depth int) {
		for _, n := range nodes {
			if n.Title != "" {
				level := n.Level
				if level <= 0 {
					level = min(depth, 6)
				}
				write(strings.Repeat("#", level)+" "+n.Title, n.Page)
			}
			write(n.Text, n.Page)
			walk(n.Children, depth+1)
		}
	}
	walk(t.Children, 1)

	return sb.String(), pages
}

// Walk calls fn for every node, parents before children.
func (t *DocTree) Walk(fn func(*DocNode)) {
	var walk func(nodes []*DocNode)
	walk = func(nodes []*DocNode) {
		for _, n := range nodes {
			fn(n)
			walk(n.Children)
		}
	}
	walk(t.Children)
}

func runeLen(s string) int {
	return len([]rune(s))
}
