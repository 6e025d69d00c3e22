package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"dqlfmt/internal/ast"
	"dqlfmt/internal/embed"
	"dqlfmt/internal/parse"
)

// ErrSyntax is returned for host files that only parsed with error
// recovery, unless the engine allows them.
var ErrSyntax = errors.New("host file has syntax errors")

// DocumentExtension marks standalone DQL files.
const DocumentExtension = ".dql"

// Engine formats the embedded DQL of single host sources.
type Engine struct {
	Pipeline          *embed.Pipeline
	AllowSyntaxErrors bool
}

// NewEngine returns an engine running p.
func NewEngine(p *embed.Pipeline) *Engine {
	return &Engine{Pipeline: p}
}

// IsDocument reports whether path names a standalone DQL file.
func IsDocument(path string) bool {
	return strings.EqualFold(filepath.Ext(path), DocumentExtension)
}

// FormatSource parses src as the host language implied by path, formats
// every embedded DQL template and returns the new source. When nothing
// changed the returned slice equals src. Standalone .dql files skip the
// host parser and are formatted as one document.
func (e *Engine) FormatSource(ctx context.Context, parser *parse.Parser, path string, src []byte) ([]byte, embed.Stats, error) {
	if IsDocument(path) {
		out, stats := e.Pipeline.RunDocument(ctx, path, src)
		return out, stats, nil
	}
	file, err := parser.Parse(ctx, path, src)
	if err != nil {
		return nil, embed.Stats{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if file.HasErrors && !e.AllowSyntaxErrors {
		return nil, embed.Stats{}, fmt.Errorf("%s: %w", path, ErrSyntax)
	}

	stats := e.Pipeline.Run(ctx, file)
	if !stats.Changed() {
		return src, stats, nil
	}
	out := ast.Print(file)
	if bytes.Equal(out, src) {
		return src, stats, nil
	}
	return out, stats, nil
}
