// Package parse builds ast trees from JavaScript and TypeScript source using
// tree-sitter.
package parse

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dqlfmt/internal/ast"
	"dqlfmt/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ErrUnsupported is returned for files whose extension has no grammar.
var ErrUnsupported = errors.New("unsupported file type")

// Language identifies a host grammar.
type Language string

const (
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
)

var extensions = map[string]Language{
	".js":  JavaScript,
	".jsx": JavaScript,
	".mjs": JavaScript,
	".cjs": JavaScript,
	".ts":  TypeScript,
	".mts": TypeScript,
	".cts": TypeScript,
	".tsx": TSX,
}

// SupportedExtensions returns every extension a grammar is registered for.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// LanguageFor picks the grammar for path from its extension.
func LanguageFor(path string) (Language, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensions[ext]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

func (l Language) grammar() *sitter.Language {
	switch l {
	case TypeScript:
		return typescript.GetLanguage()
	case TSX:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// Parser converts host source into ast.Files. A Parser is not safe for
// concurrent use; create one per goroutine.
type Parser struct {
	ts *sitter.Parser
}

// NewParser creates a parser. Call Close when done.
func NewParser() *Parser {
	return &Parser{ts: sitter.NewParser()}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.ts.Close()
}

// Parse parses src, choosing the grammar from path.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) (*ast.File, error) {
	lang, err := LanguageFor(path)
	if err != nil {
		return nil, err
	}
	return p.ParseLanguage(ctx, lang, path, src)
}

// ParseLanguage parses src with an explicit grammar.
func (p *Parser) ParseLanguage(ctx context.Context, lang Language, path string, src []byte) (*ast.File, error) {
	start := time.Now()
	p.ts.SetLanguage(lang.grammar())
	tree, err := p.ts.ParseCtx(ctx, nil, src)
	if err != nil {
		logging.ParseWarn("tree-sitter failed on %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	c := &converter{src: src}
	file := &ast.File{
		Path:      path,
		Source:    src,
		HasErrors: root.HasError(),
	}
	file.Root = c.convert(root)
	file.Comments = c.comments

	logging.ParseDebug("parsed %s (%s): %d nodes, %d comments in %v",
		filepath.Base(path), lang, c.nodes, len(c.comments), time.Since(start))
	return file, nil
}
