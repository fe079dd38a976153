package loader

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func hasUTF16BOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF})
}

// decodedText is raw bytes turned into a Go string plus what was learned
// along the way.
type decodedText struct {
	Text     string
	Encoding string
	HadBOM   bool
}

// decodeText strips a byte-order mark, transcodes UTF-16 to UTF-8, and
// rejects anything that is not valid text.
func decodeText(raw []byte) (decodedText, error) {
	out := decodedText{Encoding: "utf-8"}

	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		out.HadBOM = true
		raw = raw[len(utf8BOM):]
	case hasUTF16BOM(raw):
		out.HadBOM = true
		out.Encoding = "utf-16le"
		if raw[0] == 0xFE {
			out.Encoding = "utf-16be"
		}
		dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		b, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return decodedText{}, errUndecodable
		}
		raw = b
	}

	if !utf8.Valid(raw) || bytes.IndexByte(raw, 0) >= 0 {
		return decodedText{}, errUndecodable
	}
	out.Text = string(raw)
	return out, nil
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// normalizeText converts line endings to \n and optionally applies Unicode
// NFC normalization.
func normalizeText(s string, nfc bool) string {
	s = newlineReplacer.Replace(s)
	if nfc {
		s = norm.NFC.String(s)
	}
	return s
}
