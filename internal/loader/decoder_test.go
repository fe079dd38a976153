package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/dgallion1/docflow/internal/doctree"
)

func TestMarkdownDecoder_ListsAndTables(t *testing.T) {
	input := `# Guide

Intro text with *emphasis*.

## Steps

- one
- two

| a | b |
|---|---|
| 1 | 2 |
`
	doc, err := Load(context.Background(), StreamSource("guide.md", strings.NewReader(input)), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Guide\n\nIntro text with emphasis.\n\n## Steps\n\n- one\n- two\n\n| a | b |\n| 1 | 2 |"
	if doc.Text != want {
		t.Errorf("expected text\n%q\ngot\n%q", want, doc.Text)
	}
	if doc.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", doc.Title)
	}
}

func TestMarkdownDecoder_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	d := &MarkdownDecoder{}
	tree, err := d.Decode(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 top-level child (h1), got %d", len(tree.Children))
	}
	h1 := tree.Children[0]
	if h1.Title != "Title" || h1.Text != "Intro text." {
		t.Errorf("unexpected h1 %q / %q", h1.Title, h1.Text)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}
	if h1.Children[0].Title != "Section A" || h1.Children[1].Title != "Section B" {
		t.Errorf("unexpected h2 titles %q, %q", h1.Children[0].Title, h1.Children[1].Title)
	}
	if len(h1.Children[0].Children) != 1 || h1.Children[0].Children[0].Level != 3 {
		t.Errorf("expected one h3 under Section A")
	}
}

func TestMarkdownDecoder_TextBeforeFirstHeadingIsKept(t *testing.T) {
	d := &MarkdownDecoder{}
	tree, err := d.Decode(strings.NewReader("Preamble.\n\n# Head\n\nBody.\n"), "x.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, _ := tree.Flatten()
	if text != "Preamble.\n\n# Head\n\nBody." {
		t.Errorf("unexpected flattened text %q", text)
	}
}

func TestHTMLDecoder(t *testing.T) {
	input := `<html><head><title>Doc Title</title></head><body>
<nav>skip me</nav>
<h1>Main</h1>
<p>First   para.</p>
<ul><li>a</li><li>b</li></ul>
<script>x()</script>
<table><tr><th>k</th><th>v</th></tr><tr><td>1</td><td>2</td></tr></table>
</body></html>`
	doc, err := Load(context.Background(), StreamSource("page.html", strings.NewReader(input)), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Main\n\nFirst para.\n\n- a\n- b\n\n| k | v |\n| 1 | 2 |"
	if doc.Text != want {
		t.Errorf("expected text\n%q\ngot\n%q", want, doc.Text)
	}
	if doc.Title != "Doc Title" {
		t.Errorf("expected title %q, got %q", "Doc Title", doc.Title)
	}
	if doc.Format != doctree.FormatHTML {
		t.Errorf("expected html, got %s", doc.Format)
	}
}

func TestCSVDecoder(t *testing.T) {
	doc, err := Load(context.Background(), StreamSource("people.csv", strings.NewReader("name,age\nann,3\nbob,4,extra\n")), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "## Rows 2-3\n\n| name | age |\n| ann | 3 |\n| bob | 4 | extra |"
	if doc.Text != want {
		t.Errorf("expected text\n%q\ngot\n%q", want, doc.Text)
	}
}

func TestCSVDecoder_Batches(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id\n")
	for i := range 45 {
		sb.WriteString(strings.Repeat("x", i%3+1) + "\n")
	}
	tree, err := (&CSVDecoder{}).Decode(strings.NewReader(sb.String()), "ids.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(tree.Children))
	}
	if tree.Children[2].Title != "Rows 42-46" {
		t.Errorf("unexpected last batch title %q", tree.Children[2].Title)
	}
}

func TestHTMLHeadingLevel(t *testing.T) {
	if lvl := headingLevel("h3"); lvl != 3 {
		t.Errorf("expected h3 -> 3, got %d", lvl)
	}
	if lvl := headingLevel("hr"); lvl != 0 {
		t.Errorf("expected hr -> 0, got %d", lvl)
	}
}

func TestFormatForName(t *testing.T) {
	tests := map[string]doctree.Format{
		"a.TXT":       doctree.FormatText,
		"b.markdown":  doctree.FormatMarkdown,
		"dir/c.htm":   doctree.FormatHTML,
		"report.PDF":  doctree.FormatPDF,
		"letter.docx": doctree.FormatDOCX,
		"sheet.csv":   doctree.FormatCSV,
	}
	for name, want := range tests {
		got, ok := FormatForName(name)
		if !ok || got != want {
			t.Errorf("FormatForName(%q) = %s,%v; want %s", name, got, ok, want)
		}
	}
	if IsSupportedExtension("image.png") {
		t.Error("expected .png to be unsupported")
	}
}

func TestPDFDecoder_MalformedInput(t *testing.T) {
	_, err := Load(context.Background(), StreamSource("broken.pdf", strings.NewReader("%PDF-1.4 not really")), Options{})
	if KindOf(err) != Unsupported {
		t.Fatalf("expected unsupported for malformed pdf, got %v", err)
	}
}
