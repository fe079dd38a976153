package loader

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXDecoder handles .docx files. Heading styles open sections.
type DOCXDecoder struct{}

func (d *DOCXDecoder) Decode(r io.Reader, name string) (tree *doctree.DocTree, err error) {
	// go-docx reads through io.ReaderAt; the loader already holds the bytes.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			tree, err = nil, fmt.Errorf("malformed docx: %v", r)
		}
	}()
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	tree = &doctree.DocTree{Title: trimExt(name)}
	b := newTreeBuilder(tree.Title)

	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := docxParagraphText(para)
		if level := docxHeadingLevel(para); level > 0 {
			b.heading(text, level, 0)
			continue
		}
		b.text(text, 0)
	}

	tree.Children = b.finish()
	return tree, nil
}

// docxHeadingLevel reads the level from styles like "Heading2" or "heading 2".
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if !strings.HasPrefix(style, "heading") || len(style) != len("heading")+1 {
		return 0
	}
	c := style[len(style)-1]
	if c < '1' || c > '6' {
		return 0
	}
	return int(c - '0')
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
