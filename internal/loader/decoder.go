package loader

import (
	"bytes"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Decoder converts raw document content into a DocTree.
type Decoder interface {
	Decode(r io.Reader, name string) (*doctree.DocTree, error)
}

// extensionFormats maps file extensions to formats.
var extensionFormats = map[string]doctree.Format{
	".txt":      doctree.FormatText,
	".text":     doctree.FormatText,
	".log":      doctree.FormatText,
	".md":       doctree.FormatMarkdown,
	".markdown": doctree.FormatMarkdown,
	".csv":      doctree.FormatCSV,
	".html":     doctree.FormatHTML,
	".htm":      doctree.FormatHTML,
	".pdf":      doctree.FormatPDF,
	".docx":     doctree.FormatDOCX,
}

var contentTypeFormats = map[string]doctree.Format{
	"text/plain":      doctree.FormatText,
	"text/markdown":   doctree.FormatMarkdown,
	"text/x-markdown": doctree.FormatMarkdown,
	"text/csv":        doctree.FormatCSV,
	"text/html":       doctree.FormatHTML,
	"application/pdf": doctree.FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": doctree.FormatDOCX,
}

// ForFormat returns the decoder for a structured format. Plain text has no
// decoder; its normalized content is used verbatim.
func ForFormat(f doctree.Format, pdfFallback bool) (Decoder, bool) {
	switch f {
	case doctree.FormatMarkdown:
		return &MarkdownDecoder{}, true
	case doctree.FormatCSV:
		return &CSVDecoder{}, true
	case doctree.FormatHTML:
		return &HTMLDecoder{}, true
	case doctree.FormatPDF:
		return &PDFDecoder{FallbackPdftotext: pdfFallback}, true
	case doctree.FormatDOCX:
		return &DOCXDecoder{}, true
	}
	return nil, false
}

// IsKnownFormat reports whether f names a supported format.
func IsKnownFormat(f doctree.Format) bool {
	if f == doctree.FormatText {
		return true
	}
	_, ok := ForFormat(f, false)
	return ok
}

// FormatForName returns the format implied by a filename extension.
func FormatForName(name string) (doctree.Format, bool) {
	f, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(name string) bool {
	_, ok := FormatForName(name)
	return ok
}

func formatForContentType(ct string) (doctree.Format, bool) {
	if ct == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", false
	}
	f, ok := contentTypeFormats[mt]
	return f, ok
}

// sniffFormat guesses the format from leading bytes.
func sniffFormat(raw []byte) (doctree.Format, bool) {
	switch {
	case bytes.HasPrefix(raw, []byte("%PDF-")):
		return doctree.FormatPDF, true
	case bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return doctree.FormatDOCX, true
	case hasUTF16BOM(raw):
		return doctree.FormatText, true
	}

	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(bytes.TrimPrefix(head, utf8BOM)))
	if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
		return doctree.FormatHTML, true
	}

	if utf8.Valid(raw) && bytes.IndexByte(raw, 0) < 0 {
		return doctree.FormatText, true
	}
	return "", false
}
