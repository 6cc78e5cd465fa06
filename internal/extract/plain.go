package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as a string. A UTF-8 byte order mark is dropped and invalid
// sequences are replaced with U+FFFD.
func extractPlain(content []byte) (string, error) {
	s := strings.TrimPrefix(string(content), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return s, nil
}
