// Package loader turns files, streams and remote objects into canonical
// Documents.
package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Source describes where to read a document from.
type Source struct {
	Kind     doctree.SourceKind `json:"kind"`
	Location string             `json:"location,omitempty"` // file path or URL
	Name     string             `json:"name,omitempty"`     // filename hint for streams
	Reader   io.Reader          `json:"-"`
}

// FileSource reads the file at path.
func FileSource(path string) Source {
	return Source{Kind: doctree.SourceFile, Location: path}
}

// StreamSource drains r. name is used for format detection and the title.
func StreamSource(name string, r io.Reader) Source {
	return Source{Kind: doctree.SourceStream, Name: name, Reader: r}
}

// RemoteSource fetches an http(s):// or s3:// location.
func RemoteSource(location string) Source {
	return Source{Kind: doctree.SourceRemote, Location: location}
}

func (s Source) label() string {
	if s.Location != "" {
		return s.Location
	}
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Options controls a single Load.
type Options struct {
	MaxBytes         int64          // 0 disables the limit
	Format           doctree.Format // overrides detection when set
	DocumentID       string         // defaults to a content hash
	Title            string
	NormalizeUnicode bool // apply NFC
	PDFFallback      bool // shell out to pdftotext when the Go reader fails
	Fetcher          *Fetcher
}

// Load reads a source and returns its canonical Document. All failures are
// *LoadError. Handles opened by Load are closed before it returns.
func Load(ctx context.Context, src Source, opts Options) (doctree.Document, error) {
	label := src.label()
	if err := ctx.Err(); err != nil {
		return doctree.Document{}, loadErr(Unreadable, label, err)
	}

	raw, name, contentType, err := readSource(ctx, src, opts)
	if err != nil {
		return doctree.Document{}, err
	}

	format, err := detectFormat(opts.Format, name, contentType, raw)
	if err != nil {
		return doctree.Document{}, loadErr(Unsupported, label, err)
	}

	doc := doctree.Document{
		ID:         opts.DocumentID,
		SourceKind: src.Kind,
		Source:     label,
		Format:     format,
		ByteLength: int64(len(raw)),
	}
	if doc.ID == "" {
		doc.ID = ContentHashHex(raw)[:16]
	}

	var title string
	switch format {
	case doctree.FormatPDF, doctree.FormatDOCX:
		doc.Encoding = "binary"
		title, doc.Text, doc.Pages, err = decodeStructured(format, bytes.NewReader(raw), name, opts)
		if err != nil {
			return doctree.Document{}, loadErr(Unsupported, label, err)
		}
	default:
		dt, err := decodeText(raw)
		if err != nil {
			return doctree.Document{}, loadErr(Unsupported, label, err)
		}
		doc.Encoding = dt.Encoding
		doc.HadBOM = dt.HadBOM
		if format == doctree.FormatText {
			doc.Text = normalizeText(dt.Text, opts.NormalizeUnicode)
			title = trimExt(name)
		} else {
			title, doc.Text, doc.Pages, err = decodeStructured(format, bytes.NewReader([]byte(dt.Text)), name, opts)
			if err != nil {
				return doctree.Document{}, loadErr(Unsupported, label, err)
			}
		}
	}

	doc.LineStarts = doctree.BuildLineStarts(doc.Text)
	doc.Length = utf8.RuneCountInString(doc.Text)
	doc.Title = title
	if opts.Title != "" {
		doc.Title = opts.Title
	}
	return doc, nil
}

func decodeStructured(format doctree.Format, r io.Reader, name string, opts Options) (string, string, []doctree.PageSpan, error) {
	dec, ok := ForFormat(format, opts.PDFFallback)
	if !ok {
		return "", "", nil, fmt.Errorf("no decoder for %s", format)
	}
	tree, err := dec.Decode(r, name)
	if err != nil {
		return "", "", nil, err
	}
	text, pages := flattenTree(tree, opts.NormalizeUnicode)
	return tree.Title, text, pages, nil
}

// flattenTree normalizes every node before flattening so page spans are
// measured on the final text.
func flattenTree(tree *doctree.DocTree, nfc bool) (string, []doctree.PageSpan) {
	tree.Walk(func(n *doctree.DocNode) {
		n.Title = normalizeText(n.Title, nfc)
		n.Text = normalizeText(n.Text, nfc)
	})
	return tree.Flatten()
}

// readSource returns the raw bytes, a name for format detection and the
// content type when the transport provided one.
func readSource(ctx context.Context, src Source, opts Options) ([]byte, string, string, error) {
	label := src.label()
	switch src.Kind {
	case doctree.SourceFile:
		data, err := readFile(src.Location, opts.MaxBytes)
		return data, src.Location, "", err

	case doctree.SourceStream:
		if src.Reader == nil {
			return nil, "", "", loadErr(Unreadable, label, errors.New("stream source has no reader"))
		}
		if c, ok := src.Reader.(io.Closer); ok {
			defer c.Close()
		}
		data, err := readLimited(src.Reader, opts.MaxBytes)
		if err != nil {
			if errors.Is(err, errTooLarge) {
				return nil, "", "", loadErr(TooLarge, label, err)
			}
			return nil, "", "", loadErr(Unreadable, label, err)
		}
		return data, src.Name, "", nil

	case doctree.SourceRemote:
		f := opts.Fetcher
		if f == nil {
			f = &Fetcher{MaxRetries: 1}
		}
		blob, err := f.Fetch(ctx, src.Location, opts.MaxBytes)
		if err != nil {
			return nil, "", "", err
		}
		name := blob.Name
		if src.Name != "" {
			name = src.Name
		}
		return blob.Data, name, blob.ContentType, nil
	}
	return nil, "", "", loadErr(Unsupported, label, fmt.Errorf("unknown source kind %q", src.Kind))
}

func readFile(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, loadErr(NotFound, path, err)
		}
		return nil, loadErr(Unreadable, path, err)
	}
	if info.IsDir() {
		return nil, loadErr(Unreadable, path, errors.New("is a directory"))
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, loadErr(TooLarge, path, fmt.Errorf("size %d exceeds %d", info.Size(), maxBytes))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, loadErr(Unreadable, path, err)
	}
	defer f.Close()

	data, err := readLimited(f, maxBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, loadErr(TooLarge, path, err)
		}
		return nil, loadErr(Unreadable, path, err)
	}
	return data, nil
}

func detectFormat(override doctree.Format, name, contentType string, raw []byte) (doctree.Format, error) {
	if override != "" {
		if !IsKnownFormat(override) {
			return "", fmt.Errorf("unknown format %q", override)
		}
		return override, nil
	}
	if f, ok := FormatForName(name); ok {
		return f, nil
	}
	if f, ok := formatForContentType(contentType); ok {
		return f, nil
	}
	if f, ok := sniffFormat(raw); ok {
		return f, nil
	}
	return "", fmt.Errorf("cannot detect format of %s", filepath.Base(name))
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
