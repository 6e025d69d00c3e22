package embed

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"dqlfmt/internal/ast"
	"dqlfmt/internal/formatter"
)

// DefaultPlaceholder is the marker used to stand in for holes.
const DefaultPlaceholder = "dql_placeholder"

// Status is the result class of one splice.
type Status int

const (
	Unchanged Status = iota
	Formatted
)

func (s Status) String() string {
	if s == Formatted {
		return "formatted"
	}
	return "unchanged"
}

// Reason explains an Unchanged outcome. Formatted outcomes carry ReasonNone.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonFormatterFailed Reason = "formatter-failed"
	ReasonMismatch        Reason = "placeholder-mismatch"
	ReasonCollision       Reason = "placeholder-collision"
	ReasonUnsafeOutput    Reason = "unsafe-output"
	ReasonIdentical       Reason = "identical"
	ReasonMalformed       Reason = "malformed"
)

// Outcome describes what one splice did to its target.
type Outcome struct {
	Status Status
	Reason Reason
	// Err is the formatter error for ReasonFormatterFailed.
	Err error
}

func unchanged(reason Reason, err error) Outcome {
	return Outcome{Status: Unchanged, Reason: reason, Err: err}
}

var errNoFormatter = errors.New("no formatter configured")

// Splicer formats the DQL inside one template at a time. During Splice it
// is the only writer of the target's segments.
type Splicer struct {
	Formatter formatter.Formatter
	// Placeholder is the hole marker; tokens are Placeholder_0,
	// Placeholder_1 and so on.
	Placeholder string
}

// NewSplicer returns a splicer using f and the default placeholder.
func NewSplicer(f formatter.Formatter) *Splicer {
	return &Splicer{Formatter: f, Placeholder: DefaultPlaceholder}
}

func (s *Splicer) marker() string {
	if s.Placeholder == "" {
		return DefaultPlaceholder
	}
	return s.Placeholder
}

func (s *Splicer) token(i int) string {
	return s.marker() + "_" + strconv.Itoa(i)
}

// Splice formats target in place. The template is either rewritten in
// full or left exactly as it was; the outcome says which and why.
func (s *Splicer) Splice(ctx context.Context, target *ast.Node) Outcome {
	tmpl, ok := ast.AsTemplate(target)
	if !ok {
		return unchanged(ReasonMalformed, nil)
	}
	if s.Formatter == nil {
		return unchanged(ReasonFormatterFailed, errNoFormatter)
	}

	segments := tmpl.Segments()
	var parts []string
	if len(segments) == 1 {
		out, err := s.Formatter.Format(ctx, segments[0])
		if err != nil {
			return unchanged(ReasonFormatterFailed, err)
		}
		parts = []string{out}
	} else {
		joined, ok := s.encode(segments)
		if !ok {
			return unchanged(ReasonCollision, nil)
		}
		out, err := s.Formatter.Format(ctx, joined)
		if err != nil {
			return unchanged(ReasonFormatterFailed, err)
		}
		parts, ok = s.decode(out, segments)
		if !ok {
			return unchanged(ReasonMismatch, nil)
		}
	}

	for _, p := range parts {
		if !ast.SafeRaw(p) {
			return unchanged(ReasonUnsafeOutput, nil)
		}
	}
	if equal(parts, segments) {
		return unchanged(ReasonIdentical, nil)
	}
	if err := tmpl.Replace(parts); err != nil {
		return unchanged(ReasonMismatch, err)
	}
	return Outcome{Status: Formatted}
}

// encode joins segments with one token per hole. It fails when a segment
// already contains the marker, since decoding could not tell the two apart.
func (s *Splicer) encode(segments []string) (string, bool) {
	marker := s.marker()
	var b strings.Builder
	for i, seg := range segments {
		if strings.Contains(seg, marker) {
			return "", false
		}
		if i > 0 {
			b.WriteString(s.token(i - 1))
		}
		b.WriteString(seg)
	}
	return b.String(), true
}

// decode splits formatted text back into one part per original segment.
// Every token must appear exactly once and in order, and the marker must
// not appear anywhere else. Because a segment may itself start with digits,
// the whole digit run after each token is compared against the hole index
// followed by the digits the next segment originally started with.
func (s *Splicer) decode(out string, segments []string) ([]string, bool) {
	marker := s.marker()
	holes := len(segments) - 1
	if strings.Count(out, marker) != holes {
		return nil, false
	}
	parts := make([]string, 0, len(segments))
	rest := out
	for i := 0; i < holes; i++ {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			return nil, false
		}
		tok := s.token(i)
		if !strings.HasPrefix(rest[idx:], tok) {
			return nil, false
		}
		digits := leadingDigits(rest[idx+len(marker)+1:])
		if digits != strconv.Itoa(i)+leadingDigits(segments[i+1]) {
			return nil, false
		}
		parts = append(parts, rest[:idx])
		rest = rest[idx+len(tok):]
	}
	parts = append(parts, rest)
	return parts, true
}

func leadingDigits(s string) string {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return s[:n]
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
