package whatsapp

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextSize bounds the byte length of an inbound text body.
// The Cloud API caps text at 4096 characters, so 4 bytes per rune is the ceiling.
const MaxTextSize = 4096 * utf8.UTFMax

var (
	ErrTextTooLarge = errors.New("text exceeds maximum allowed size")
	ErrInvalidUTF8  = errors.New("text contains invalid UTF-8 sequences")
)

// Sanitize rejects oversized or malformed text and strips control
// characters other than newline, tab and carriage return.
func Sanitize(s string) (string, error) {
	if len(s) > MaxTextSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrTextTooLarge, len(s), MaxTextSize)
	}
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range s {
		if unsafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unsafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

// sanitizeBody cleans the scalar fields of a text or reply body in place.
func sanitizeBody(body map[string]any, fields ...string) error {
	for _, f := range fields {
		s, ok := body[f].(string)
		if !ok {
			continue
		}
		clean, err := Sanitize(s)
		if err != nil {
			return err
		}
		body[f] = clean
	}
	return nil
}
