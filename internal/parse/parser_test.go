package parse

import (
	"context"
	"testing"

	"dqlfmt/internal/ast"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseString(t *testing.T, path, src string) *ast.File {
	t.Helper()
	p := NewParser()
	defer p.Close()
	f, err := p.Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	require.NotNil(t, f.Root)
	return f
}

func findAll(root *ast.Node, typ string) []*ast.Node {
	var out []*ast.Node
	ast.Walk(root, func(n *ast.Node) bool {
		if n.Type == typ {
			out = append(out, n)
		}
		return true
	})
	return out
}

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"a.js", JavaScript},
		{"a.MJS", JavaScript},
		{"a.jsx", JavaScript},
		{"src/a.ts", TypeScript},
		{"a.cts", TypeScript},
		{"a.tsx", TSX},
	}
	for _, tt := range tests {
		got, err := LanguageFor(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := LanguageFor("main.go")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.Contains(t, exts, ".ts")
	assert.Contains(t, exts, ".js")
	assert.IsIncreasing(t, exts)
}

func TestParse_TaggedTemplate(t *testing.T) {
	src := "const q = dql`SELECT ${cols} FROM ${table} WHERE x = 1`;\n"
	f := parseString(t, "q.js", src)
	assert.False(t, f.HasErrors)

	calls := findAll(f.Root, ast.TypeCall)
	require.Len(t, calls, 1)
	fn := calls[0].Child(ast.FieldFunction)
	require.NotNil(t, fn)
	assert.Equal(t, ast.TypeIdentifier, fn.Type)
	assert.Equal(t, "dql", fn.Text())

	tmpl, ok := ast.AsTemplate(calls[0].Child(ast.FieldArguments))
	require.True(t, ok)
	assert.Equal(t, []string{"SELECT ", " FROM ", " WHERE x = 1"}, tmpl.Segments())
	assert.Equal(t, 2, tmpl.Holes())

	for i, q := range tmpl.Quasis {
		raw, _ := q.Scalar(ast.FieldRaw)
		assert.Equal(t, raw, string(f.Slice(q.Span)), "segment %d span", i)
	}
}

func TestParse_TemplateEdgeShapes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"empty", "x = ``;", []string{""}},
		{"hole only", "x = `${a}`;", []string{"", ""}},
		{"adjacent holes", "x = `${a}${b}`;", []string{"", "", ""}},
		{"escapes kept raw", "x = `a\\nb \\` c`;", []string{"a\\nb \\` c"}},
		{"multiline", "x = `\n  SELECT *\n  FROM t\n`;", []string{"\n  SELECT *\n  FROM t\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseString(t, "x.js", tt.src)
			tmpls := findAll(f.Root, ast.TypeTemplate)
			require.Len(t, tmpls, 1)
			tmpl, ok := ast.AsTemplate(tmpls[0])
			require.True(t, ok)
			assert.Equal(t, tt.want, tmpl.Segments())
		})
	}
}

func TestParse_NestedTemplateInHole(t *testing.T) {
	f := parseString(t, "x.js", "x = dql`SELECT ${dql`inner`} FROM t`;")
	tmpls := findAll(f.Root, ast.TypeTemplate)
	require.Len(t, tmpls, 2)
	outer, ok := ast.AsTemplate(tmpls[0])
	require.True(t, ok)
	inner, ok := ast.AsTemplate(tmpls[1])
	require.True(t, ok)
	assert.Equal(t, []string{"SELECT ", " FROM t"}, outer.Segments())
	assert.Equal(t, []string{"inner"}, inner.Segments())
	assert.True(t, inner.Node.Span.Start > outer.Quasis[0].Span.End)
}

func TestParse_Comments(t *testing.T) {
	src := "// header\nconst q = /* dql */ `SELECT 1`;\nconst r = /* dql */ 1 + `x`;\n"
	f := parseString(t, "q.js", src)

	require.Len(t, f.Comments, 3)
	assert.Equal(t, "header", f.Comments[0].Text)
	assert.Equal(t, "dql", f.Comments[1].Text)
	assert.Equal(t, "/* dql */", string(f.Slice(f.Comments[1].Span)))

	tmpls := findAll(f.Root, ast.TypeTemplate)
	require.Len(t, tmpls, 2)

	leading := tmpls[0].LeadingComments()
	require.Len(t, leading, 1)
	assert.Equal(t, "dql", leading[0].Text)

	// The second comment precedes the binary expression, not the template.
	assert.Empty(t, tmpls[1].LeadingComments())
}

func TestParse_CommentsAreNotStructural(t *testing.T) {
	f := parseString(t, "q.js", "/* dql */\nfoo(`a`);")
	assert.Empty(t, findAll(f.Root, "comment"))
	require.Len(t, f.Comments, 1)
}

func TestParse_TypeScript(t *testing.T) {
	src := "const q: string = dql`SELECT ${id as number}`;\n"
	f := parseString(t, "q.ts", src)
	assert.False(t, f.HasErrors)
	calls := findAll(f.Root, ast.TypeCall)
	require.Len(t, calls, 1)
	_, ok := ast.AsTemplate(calls[0].Child(ast.FieldArguments))
	assert.True(t, ok)
}

func TestParse_TSX(t *testing.T) {
	src := "const C = () => <div>{dql`SELECT 1`}</div>;\n"
	f := parseString(t, "c.tsx", src)
	assert.False(t, f.HasErrors)
	assert.Len(t, findAll(f.Root, ast.TypeTemplate), 1)
}

func TestParse_SyntaxErrorIsRecovered(t *testing.T) {
	f := parseString(t, "bad.js", "const = dql`SELECT 1`;;; {")
	assert.True(t, f.HasErrors)
}

func TestParse_Unsupported(t *testing.T) {
	p := NewParser()
	defer p.Close()
	_, err := p.Parse(context.Background(), "x.py", []byte("x = 1"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCommentText(t *testing.T) {
	assert.Equal(t, "dql", commentText("// dql"))
	assert.Equal(t, "dql", commentText("/* dql */"))
	assert.Equal(t, "dql", commentText("/*dql*/"))
	assert.Equal(t, "dql", commentText("/** dql */"))
	assert.Equal(t, "dql", commentText("/**dql*/"))
	assert.Equal(t, "", commentText("/**/"))
	assert.Equal(t, "* dql", commentText("// * dql"))
}
