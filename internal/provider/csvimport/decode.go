package csvimport

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText converts raw file bytes to UTF-8. An explicit charset name
// wins; otherwise a BOM selects UTF-8 or UTF-16, valid UTF-8 passes through
// and anything else is read as Windows-1252, the usual bank export charset.
func decodeText(data []byte, charset string) ([]byte, string, error) {
	if charset != "" {
		enc, err := htmlindex.Get(strings.ToLower(charset))
		if err != nil {
			return nil, "", fmt.Errorf("unknown encoding %q: %w", charset, err)
		}
		out, err := decodeWith(enc, data)
		return out, charset, err
	}

	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], "utf-8-bom", nil
	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data)
		return out, "utf-16le", err
	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data)
		return out, "utf-16be", err
	case utf8.Valid(data):
		return data, "utf-8", nil
	default:
		out, err := decodeWith(charmap.Windows1252, data)
		return out, "windows-1252", err
	}
}

func decodeWith(enc encoding.Encoding, data []byte) ([]byte, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return bytes.TrimPrefix(out, bomUTF8), nil
}
