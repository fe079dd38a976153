package loader

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFDecoder handles PDF files. It tries the Go library first,
// then falls back to pdftotext if enabled and available.
type PDFDecoder struct {
	FallbackPdftotext bool
}

func (d *PDFDecoder) Decode(r io.Reader, name string) (*doctree.DocTree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	pages, err := extractPDFPages(data)
	if err != nil && d.FallbackPdftotext {
		pages, err = extractPdftotext(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	// Blank pages keep their number so page spans match the source.
	tree := &doctree.DocTree{Title: trimExt(name)}
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		tree.Children = append(tree.Children, &doctree.DocNode{Text: page, Page: i + 1})
	}
	return tree, nil
}

func extractPDFPages(data []byte) (pages []string, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := range reader.NumPage() {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// extractPdftotext pipes data through poppler's pdftotext.
func extractPdftotext(data []byte) ([]string, error) {
	cmd := exec.Command("pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	// Pages are separated by form feeds; the last one is followed by one too.
	text, _ := strings.CutSuffix(string(out), "\f")
	return strings.Split(text, "\f"), nil
}
