package parse

import (
	"strings"

	"dqlfmt/internal/ast"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	sitterTemplate     = "template_string"
	sitterSubstitution = "template_substitution"
	sitterComment      = "comment"
	sitterBacktick     = "`"
)

// converter mirrors a tree-sitter tree into ast nodes. Named children become
// fields (keyed by their grammar field name, or "children"), anonymous
// tokens are dropped, leaves carry their source text, and comments are
// lifted out of the structure into the file-level comment list.
type converter struct {
	src      []byte
	comments []*ast.Comment
	nodes    int
}

func span(n *sitter.Node) ast.Span {
	return ast.Span{Start: n.StartByte(), End: n.EndByte()}
}

func (c *converter) convert(n *sitter.Node) *ast.Node {
	if n.Type() == sitterTemplate {
		return c.template(n)
	}
	c.nodes++
	node := &ast.Node{Type: n.Type(), Span: span(n)}

	var pending []*ast.Comment
	named := 0
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == sitterComment {
			pending = append(pending, c.comment(child))
			continue
		}
		if !child.IsNamed() {
			continue
		}
		named++
		conv := c.convert(child)
		conv.Attach(c.adjacent(pending, conv.Span.Start)...)
		pending = nil

		if name := n.FieldNameForChild(i); name != "" {
			node.Append(name, conv)
		} else {
			node.AppendList(ast.FieldChildren, conv)
		}
	}
	if named == 0 && n.IsNamed() {
		node.SetScalar(ast.FieldText, n.Content(c.src))
	}
	return node
}

// adjacent returns the trailing run of pending comments that are separated
// from each other and from offset by whitespace only.
func (c *converter) adjacent(pending []*ast.Comment, offset uint32) []*ast.Comment {
	next := offset
	first := len(pending)
	for i := len(pending) - 1; i >= 0; i-- {
		if !c.blank(pending[i].Span.End, next) {
			break
		}
		first = i
		next = pending[i].Span.Start
	}
	return pending[first:]
}

func (c *converter) blank(start, end uint32) bool {
	if start > end || int(end) > len(c.src) {
		return false
	}
	return strings.TrimSpace(string(c.src[start:end])) == ""
}

func (c *converter) comment(n *sitter.Node) *ast.Comment {
	cm := &ast.Comment{Text: commentText(n.Content(c.src)), Span: span(n)}
	c.comments = append(c.comments, cm)
	return cm
}

// commentText strips // or /* */ delimiters and surrounding space. The
// extra star of a JSDoc opener (/** dql */) is stripped too.
func commentText(s string) string {
	switch {
	case strings.HasPrefix(s, "//"):
		s = s[2:]
	case strings.HasPrefix(s, "/*"):
		s = strings.TrimSuffix(s[2:], "*/")
		if strings.HasPrefix(s, "*") {
			s = s[1:]
		}
	}
	return strings.TrimSpace(s)
}

// template converts a template_string into the quasis/expressions shape.
// Segment boundaries are derived from the substitution spans so that raw
// text is taken byte for byte from the source, escapes included.
func (c *converter) template(n *sitter.Node) *ast.Node {
	c.nodes++
	node := &ast.Node{Type: ast.TypeTemplate, Span: span(n)}

	count := int(n.ChildCount())
	start, end := n.StartByte(), n.EndByte()
	if count > 0 {
		if first := n.Child(0); first != nil && first.Type() == sitterBacktick {
			start = first.EndByte()
		}
		if last := n.Child(count - 1); count > 1 && last != nil && last.Type() == sitterBacktick {
			end = last.StartByte()
		}
	}

	var quasis, exprs []*ast.Node
	cursor := start
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil || child.Type() != sitterSubstitution {
			continue
		}
		quasis = append(quasis, c.element(cursor, child.StartByte()))
		exprs = append(exprs, c.convert(child))
		cursor = child.EndByte()
	}
	if end < cursor {
		end = cursor
	}
	quasis = append(quasis, c.element(cursor, end))

	node.SetList(ast.FieldQuasis, quasis)
	node.SetList(ast.FieldExpressions, exprs)
	return node
}

func (c *converter) element(start, end uint32) *ast.Node {
	c.nodes++
	raw := string(c.src[start:end])
	el := &ast.Node{Type: ast.TypeTemplateElement, Span: ast.Span{Start: start, End: end}}
	el.SetScalar(ast.FieldRaw, raw)
	el.SetScalar(ast.FieldCooked, ast.Cook(raw))
	return el
}
