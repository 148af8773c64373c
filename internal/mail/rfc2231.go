package mail

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const upperHex = "0123456789ABCDEF"

// maxParamSegment bounds the encoded length of one parameter section so a
// folded header line stays below the preferred line length.
const maxParamSegment = 60

// encodeRFC2231 encodes a parameter value as utf-8''<percent-encoded>, the
// extended notation of RFC 2231 section 4. Only unreserved characters are
// left as they are.
func encodeRFC2231(value string) string {
	return strings.Join(splitRFC2231(value, len(value)*3+1), "")
}

// formatExtParam formats name as an extended parameter. Values longer than
// maxParamSegment are split into numbered continuations (RFC 2231 section 3),
// never inside a character.
func formatExtParam(name, value string) string {
	sections := splitRFC2231(value, maxParamSegment)
	if len(sections) == 1 {
		return name + "*=" + sections[0]
	}

	params := make([]string, len(sections))
	for i, section := range sections {
		params[i] = fmt.Sprintf("%s*%d*=%s", name, i, section)
	}
	return strings.Join(params, "; ")
}

// splitRFC2231 percent-encodes value into sections of at most limit encoded
// bytes. The first section carries the charset prefix.
func splitRFC2231(value string, limit int) []string {
	var (
		sections []string
		b        strings.Builder
	)
	b.WriteString(charsetUTF8)
	b.WriteString("''")
	start := b.Len()

	for i := 0; i < len(value); {
		_, size := utf8.DecodeRuneInString(value[i:])
		token := percentEncode(value[i : i+size])
		i += size

		if b.Len()-start > 0 && b.Len()-start+len(token) > limit {
			sections = append(sections, b.String())
			b.Reset()
			start = 0
		}
		b.WriteString(token)
	}

	return append(sections, b.String())
}

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
