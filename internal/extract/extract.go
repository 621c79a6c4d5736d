// Package extract pulls one JSON string value out of a provider response body
// without decoding the whole document.
//
// The scanner finds the first occurrence of a marker, then the first literal
// `"<key>":"` after it, and copies the string value up to the next unescaped
// quote while reversing JSON escapes in a single pass.
//
// Escape table:
//
//	\"  \\  \/     the character itself
//	\b  \f         backspace, form feed
//	\n  \r  \t     newline, carriage return, tab
//	\uXXXX         one UTF-16 code unit; a high surrogate directly followed by a
//	               \uXXXX low surrogate is joined into one code point
//	\<other>       the other character, copied verbatim
//
// Lenient policy: an unpaired surrogate or a \u followed by four characters that
// are not hex digits contributes nothing to the output and does not fail the
// extraction. Unknown escapes pass through. Both are deliberate; only a dangling
// backslash, a \u with fewer than four characters left, or a missing closing
// quote fail with ErrMalformed.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when the marker or the key pattern is absent.
	ErrNotFound = errors.New("extract: field not found")
	// ErrMalformed is returned when the string value cannot be decoded.
	ErrMalformed = errors.New("extract: malformed string value")
)

// Extract returns the decoded string value of key in the first object located by
// marker. It never returns a partially decoded value.
//
// Expectations:
//   - Uses the first marker occurrence; later occurrences are ignored
//   - Searches for `"<key>":"` only in the text after the marker
//   - Returns ErrNotFound when the marker or the key pattern is absent
//   - Returns ErrMalformed when input ends before the closing quote
//   - Returns ErrMalformed on a dangling backslash or a truncated \u escape
//   - Skips unpaired surrogates and non-hex \u escapes without failing
func Extract(raw, marker, key string) (string, error) {
	pos := strings.Index(raw, marker)
	if pos < 0 {
		return "", fmt.Errorf("%w: marker %s", ErrNotFound, marker)
	}
	rest := raw[pos+len(marker):]

	pattern := `"` + key + `":"`
	kpos := strings.Index(rest, pattern)
	if kpos < 0 {
		return "", fmt.Errorf("%w: key %q after marker %s", ErrNotFound, key, marker)
	}
	return unquote(rest[kpos+len(pattern):])
}

// unquote decodes s up to the first unescaped quote. s starts just after the
// opening quote.
func unquote(s string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			return out.String(), nil
		}
		if c != '\\' {
			// '"' and '\\' never occur inside a multi-byte UTF-8 sequence, so
			// copying bytes keeps non-ASCII text intact.
			out.WriteByte(c)
			continue
		}

		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling backslash", ErrMalformed)
		}
		switch esc := s[i]; esc {
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'u':
			r, n, err := decodeEscapedRune(s[i+1:])
			if err != nil {
				return "", err
			}
			if r >= 0 {
				out.WriteRune(r)
			}
			i += n
		default:
			// '"', '\\', '/' and any unknown escape.
			out.WriteByte(esc)
		}
	}
	return "", fmt.Errorf("%w: unterminated string", ErrMalformed)
}

// decodeEscapedRune decodes the hex digits of a \u escape at the start of s.
// It returns the rune, or -1 when the escape is skipped, and the number of
// bytes of s consumed.
func decodeEscapedRune(s string) (rune, int, error) {
	if len(s) < 4 {
		return -1, 0, fmt.Errorf("%w: truncated \\u escape", ErrMalformed)
	}
	hi, ok := hex4(s[:4])
	if !ok {
		return -1, 4, nil
	}
	if !utf16.IsSurrogate(hi) {
		return hi, 4, nil
	}
	if hi < 0xDC00 && len(s) >= 10 && s[4] == '\\' && s[5] == 'u' {
		if lo, ok := hex4(s[6:10]); ok {
			if r := utf16.DecodeRune(hi, lo); r != utf8.RuneError {
				return r, 10, nil
			}
		}
	}
	return -1, 4, nil
}

func hex4(s string) (rune, bool) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
