package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docflow/internal/doctree"
)

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(context.Background(), FileSource(filepath.Join(t.TempDir(), "missing.txt")), Options{})
	if KindOf(err) != NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(context.Background(), FileSource(path), Options{MaxBytes: 10})
	if KindOf(err) != TooLarge {
		t.Fatalf("expected too_large, got %v", err)
	}
}

func TestLoad_StreamTooLargeMidRead(t *testing.T) {
	_, err := Load(context.Background(), StreamSource("s.txt", strings.NewReader("0123456789ABC")), Options{MaxBytes: 12})
	if KindOf(err) != TooLarge {
		t.Fatalf("expected too_large, got %v", err)
	}

	doc, err := Load(context.Background(), StreamSource("s.txt", strings.NewReader("0123456789AB")), Options{MaxBytes: 12})
	if err != nil {
		t.Fatalf("unexpected error at exact limit: %v", err)
	}
	if doc.Len() != 12 {
		t.Errorf("expected 12 chars, got %d", doc.Len())
	}
}

func TestLoad_DirectoryIsUnreadable(t *testing.T) {
	_, err := Load(context.Background(), FileSource(t.TempDir()), Options{})
	if KindOf(err) != Unreadable {
		t.Fatalf("expected unreadable, got %v", err)
	}
}

func TestLoad_StreamWithoutReader(t *testing.T) {
	_, err := Load(context.Background(), Source{Kind: doctree.SourceStream}, Options{})
	if KindOf(err) != Unreadable {
		t.Fatalf("expected unreadable, got %v", err)
	}
}

func TestLoad_NormalizesBOMAndLineEndings(t *testing.T) {
	raw := "\xEF\xBB\xBFline one\r\nline two\rline three\n"
	doc, err := Load(context.Background(), StreamSource("notes.txt", strings.NewReader(raw)), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.HadBOM {
		t.Error("expected HadBOM to be recorded")
	}
	want := "line one\nline two\nline three\n"
	if doc.Text != want {
		t.Errorf("expected text %q, got %q", want, doc.Text)
	}
	if doc.ByteLength != int64(len(raw)) {
		t.Errorf("expected byte length %d, got %d", len(raw), doc.ByteLength)
	}
	if got := doc.LineStarts; len(got) != 4 || got[1] != 9 || got[2] != 18 || got[3] != 29 {
		t.Errorf("unexpected line starts %v", got)
	}
	if doc.Format != doctree.FormatText {
		t.Errorf("expected text format, got %s", doc.Format)
	}
	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
}

func TestLoad_UTF16(t *testing.T) {
	raw := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	doc, err := Load(context.Background(), StreamSource("", strings.NewReader(string(raw))), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "hi" {
		t.Errorf("expected %q, got %q", "hi", doc.Text)
	}
	if doc.Encoding != "utf-16le" || !doc.HadBOM {
		t.Errorf("expected utf-16le with BOM, got %s bom=%v", doc.Encoding, doc.HadBOM)
	}
}

func TestLoad_NFC(t *testing.T) {
	doc, err := Load(context.Background(), StreamSource("a.txt", strings.NewReader("cafe\u0301")), Options{NormalizeUnicode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "caf\u00e9" {
		t.Errorf("expected NFC text, got %q", doc.Text)
	}
	if doc.Len() != 4 {
		t.Errorf("expected 4 chars, got %d", doc.Len())
	}
}

func TestFlattenTree_PageSpansMatchNormalizedText(t *testing.T) {
	pages := []string{"Page one\r\nhas CRLF\r\nline endings", "Page two caf\u0065\u0301 body"}
	tree := &doctree.DocTree{Children: []*doctree.DocNode{
		{Text: pages[0], Page: 1},
		{Text: pages[1], Page: 2},
	}}

	text, spans := flattenTree(tree, true)
	doc := doctree.Document{Text: text, Pages: spans}

	if len(spans) != 2 {
		t.Fatalf("expected 2 page spans, got %d", len(spans))
	}
	for i, sp := range spans {
		if sp.Start < 0 || sp.End > doc.Len() || sp.Start >= sp.End {
			t.Fatalf("page %d span [%d,%d) outside document of length %d", sp.Page, sp.Start, sp.End, doc.Len())
		}
		want := normalizeText(pages[i], true)
		if got := doc.Slice(sp.Start, sp.End); got != want {
			t.Errorf("page %d: expected %q, got %q", sp.Page, want, got)
		}
	}
	if got := doc.PageAt(spans[1].Start); got != 2 {
		t.Errorf("expected page 2 at second span start, got %d", got)
	}
}

func TestLoad_BinaryIsUnsupported(t *testing.T) {
	raw := string([]byte{0x00, 0x01, 0xFF, 0xFE, 0x80})
	_, err := Load(context.Background(), StreamSource("blob", strings.NewReader(raw)), Options{})
	if KindOf(err) != Unsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}

	// Invalid UTF-8 in a .txt file is also undecodable.
	_, err = Load(context.Background(), StreamSource("bad.txt", strings.NewReader("ok \xC3\x28")), Options{})
	if KindOf(err) != Unsupported {
		t.Fatalf("expected unsupported for invalid utf-8, got %v", err)
	}
}

func TestLoad_UnknownFormatOverride(t *testing.T) {
	_, err := Load(context.Background(), StreamSource("a.txt", strings.NewReader("x")), Options{Format: "rtf"})
	if KindOf(err) != Unsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestLoad_DocumentIDDefaultsToContentHash(t *testing.T) {
	a, err := Load(context.Background(), StreamSource("a.txt", strings.NewReader("same")), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(context.Background(), StreamSource("b.txt", strings.NewReader("same")), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID || len(a.ID) != 16 {
		t.Errorf("expected equal 16-char ids, got %q and %q", a.ID, b.ID)
	}

	c, err := Load(context.Background(), StreamSource("c.txt", strings.NewReader("same")), Options{DocumentID: "custom"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "custom" {
		t.Errorf("expected id %q, got %q", "custom", c.ID)
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, StreamSource("a.txt", strings.NewReader("x")), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoad_FileMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.md")
	if err := os.WriteFile(path, []byte("# Guide\n\nIntro text.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(context.Background(), FileSource(path), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Format != doctree.FormatMarkdown {
		t.Errorf("expected markdown, got %s", doc.Format)
	}
	if doc.Text != "# Guide\n\nIntro text." {
		t.Errorf("unexpected text %q", doc.Text)
	}
	if doc.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", doc.Title)
	}
	if doc.SourceKind != doctree.SourceFile || doc.Source != path {
		t.Errorf("unexpected source %s %s", doc.SourceKind, doc.Source)
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		raw  string
		want doctree.Format
		ok   bool
	}{
		{"%PDF-1.7 ...", doctree.FormatPDF, true},
		{"PK\x03\x04rest", doctree.FormatDOCX, true},
		{"  <!DOCTYPE html><html></html>", doctree.FormatHTML, true},
		{"<html><body>x</body></html>", doctree.FormatHTML, true},
		{"plain words", doctree.FormatText, true},
		{"\x00\x01\x02", "", false},
	}
	for _, tt := range tests {
		got, ok := sniffFormat([]byte(tt.raw))
		if got != tt.want || ok != tt.ok {
			t.Errorf("sniffFormat(%q) = %s,%v; want %s,%v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
