package normalizer

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readArtifact loads an artifact as UTF-8. Content that is not valid UTF-8 is
// assumed to be Windows-1252, the usual encoding of government exports.
func readArtifact(a Artifact) ([]byte, error) {
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", a.Name, err)
	}
	return decodeText(raw)
}

func decodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding windows-1252: %w", err)
	}
	return decoded, nil
}
