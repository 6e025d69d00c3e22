package ast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrSegmentCount is returned by Template.Replace when the number of new
// segments does not match the template.
var ErrSegmentCount = errors.New("segment count mismatch")

// Template is a typed view of a template_string node: N+1 literal
// segments (quasis) interleaved with N holes (expressions).
type Template struct {
	Node        *Node
	Quasis      []*Node
	Expressions []*Node
}

// AsTemplate returns the template view of n. It reports false when n is not
// a template_string or when its shape is malformed (missing fields, a quasi
// without raw text, or a segment count that is not one more than the hole
// count).
func AsTemplate(n *Node) (*Template, bool) {
	if n == nil || n.Type != TypeTemplate {
		return nil, false
	}
	quasis, ok := n.List(FieldQuasis)
	if !ok || len(quasis) == 0 {
		return nil, false
	}
	exprs, ok := n.List(FieldExpressions)
	if !ok {
		return nil, false
	}
	if len(quasis) != len(exprs)+1 {
		return nil, false
	}
	for _, q := range quasis {
		if q == nil || q.Type != TypeTemplateElement {
			return nil, false
		}
		if _, ok := q.Scalar(FieldRaw); !ok {
			return nil, false
		}
	}
	return &Template{Node: n, Quasis: quasis, Expressions: exprs}, true
}

// Segments returns the raw text of every literal segment.
func (t *Template) Segments() []string {
	out := make([]string, len(t.Quasis))
	for i, q := range t.Quasis {
		out[i], _ = q.Scalar(FieldRaw)
	}
	return out
}

// Holes returns the number of interpolation holes.
func (t *Template) Holes() int {
	return len(t.Expressions)
}

// Replace overwrites the raw and cooked text of every segment. Either all
// segments are replaced or, on error, none are.
func (t *Template) Replace(raw []string) error {
	if len(raw) != len(t.Quasis) {
		return fmt.Errorf("%w: have %d segments, got %d", ErrSegmentCount, len(t.Quasis), len(raw))
	}
	cooked := make([]string, len(raw))
	for i, r := range raw {
		cooked[i] = Cook(r)
	}
	for i, q := range t.Quasis {
		q.SetScalar(FieldRaw, raw[i])
		q.SetScalar(FieldCooked, cooked[i])
	}
	return nil
}

// SafeRaw reports whether s can be placed verbatim between the delimiters
// of a template literal segment: no unescaped backtick, no unescaped "${"
// and no trailing lone backslash.
func SafeRaw(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i == len(s)-1 {
				return false
			}
			i++
		case '`':
			return false
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				return false
			}
		}
	}
	return true
}

// Cook computes the cooked value of raw template text the way a JavaScript
// engine would. Invalid escapes are kept as written.
func Cook(raw string) string {
	if !strings.Contains(raw, "\\") && !strings.Contains(raw, "\r") {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\r' {
			// CRLF and lone CR are normalised to LF in template text.
			b.WriteByte('\n')
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
			continue
		}
		if c != '\\' || i+1 >= len(raw) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := raw[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case 'x':
			if r, n := hexRune(raw[i+1:], 2); n > 0 {
				b.WriteRune(r)
				i += n
			} else {
				b.WriteString(`\x`)
			}
		case 'u':
			if r, n := unicodeEscape(raw[i+1:]); n > 0 {
				b.WriteRune(r)
				i += n
			} else {
				b.WriteString(`\u`)
			}
		default:
			b.WriteByte(e)
		}
	}
	return b.String()
}

func hexRune(s string, digits int) (rune, int) {
	if len(s) < digits {
		return 0, 0
	}
	v, err := strconv.ParseUint(s[:digits], 16, 32)
	if err != nil {
		return 0, 0
	}
	return rune(v), digits
}

func unicodeEscape(s string) (rune, int) {
	if strings.HasPrefix(s, "{") {
		end := strings.IndexByte(s, '}')
		if end < 2 {
			return 0, 0
		}
		v, err := strconv.ParseUint(s[1:end], 16, 32)
		if err != nil || v > utf8.MaxRune {
			return 0, 0
		}
		return rune(v), end + 1
	}
	return hexRune(s, 4)
}
