// Package formatter defines the boundary to the external DSL formatter.
//
// dqlfmt never interprets DSL text itself. A Formatter takes raw DSL text
// and returns formatted text or an error; the splice engine treats any
// error as "leave the source alone".
package formatter

import (
	"context"
	"errors"
)

var (
	// ErrEmptyOutput is returned when a formatter produced no text for a
	// non-empty input.
	ErrEmptyOutput = errors.New("formatter returned empty output")
	// ErrTimeout is returned when a formatter call exceeded its deadline.
	ErrTimeout = errors.New("formatter timed out")
)

// Formatter formats one piece of DSL text. Implementations must be safe for
// concurrent use; the workspace runner formats several files at once.
type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Identifier is implemented by formatters that can name their own
// configuration. The cache keys entries by identity so that switching the
// formatter command never serves stale output.
type Identifier interface {
	Identity() string
}

// Func adapts a plain function to Formatter.
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Format(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// IdentityOf returns f's identity, or fallback when f does not provide one.
func IdentityOf(f Formatter, fallback string) string {
	if id, ok := f.(Identifier); ok {
		return id.Identity()
	}
	return fallback
}
