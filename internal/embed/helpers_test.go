package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"dqlfmt/internal/ast"
	"dqlfmt/internal/formatter"
	"dqlfmt/internal/parse"

	"github.com/stretchr/testify/require"
)

func ident(name string) *ast.Node {
	n := &ast.Node{Type: ast.TypeIdentifier}
	n.SetScalar(ast.FieldText, name)
	return n
}

// newTemplate builds a template_string starting at start whose holes are
// identifiers h0, h1, ...
func newTemplate(start uint32, segments ...string) *ast.Node {
	n := &ast.Node{Type: ast.TypeTemplate, Span: ast.Span{Start: start, End: start + 64}}
	quasis := make([]*ast.Node, 0, len(segments))
	exprs := make([]*ast.Node, 0, len(segments))
	for i, s := range segments {
		if i > 0 {
			exprs = append(exprs, ident(fmt.Sprintf("h%d", i-1)))
		}
		q := &ast.Node{Type: ast.TypeTemplateElement}
		q.SetScalar(ast.FieldRaw, s)
		q.SetScalar(ast.FieldCooked, ast.Cook(s))
		quasis = append(quasis, q)
	}
	n.SetList(ast.FieldQuasis, quasis)
	n.SetList(ast.FieldExpressions, exprs)
	return n
}

func newTagged(tag string, tmpl *ast.Node) *ast.Node {
	call := &ast.Node{Type: ast.TypeCall, Span: ast.Span{Start: tmpl.Span.Start - uint32(len(tag)), End: tmpl.Span.End}}
	call.Append(ast.FieldFunction, ident(tag))
	call.Append(ast.FieldArguments, tmpl)
	return call
}

func segmentsOf(t *testing.T, n *ast.Node) []string {
	t.Helper()
	tmpl, ok := ast.AsTemplate(n)
	require.True(t, ok)
	return tmpl.Segments()
}

func cookedOf(t *testing.T, n *ast.Node) []string {
	t.Helper()
	tmpl, ok := ast.AsTemplate(n)
	require.True(t, ok)
	out := make([]string, len(tmpl.Quasis))
	for i, q := range tmpl.Quasis {
		out[i], _ = q.Scalar(ast.FieldCooked)
	}
	return out
}

// recorder is a formatter that records its inputs and answers from fn.
type recorder struct {
	mu     sync.Mutex
	inputs []string
	fn     func(string) (string, error)
}

func (r *recorder) Format(_ context.Context, text string) (string, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, text)
	r.mu.Unlock()
	return r.fn(text)
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func fixed(out string) *recorder {
	return &recorder{fn: func(string) (string, error) { return out, nil }}
}

var keywords = strings.NewReplacer("select", "SELECT", "from", "FROM", "where", "WHERE")

// upper is a deterministic, idempotent stand-in for the DQL formatter.
func upper() *recorder {
	return &recorder{fn: func(s string) (string, error) { return keywords.Replace(s), nil }}
}

var _ formatter.Formatter = (*recorder)(nil)

func parseFile(t *testing.T, path, src string) *ast.File {
	t.Helper()
	p := parse.NewParser()
	defer p.Close()
	f, err := p.Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return f
}
