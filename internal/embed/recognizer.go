// Package embed finds DQL embedded in host template literals and splices
// formatted DQL back into them.
//
// A Pipeline walks one parsed file. At every node the Recognizer decides
// whether the node carries embedded DQL, either through a tag
// (dql`...`) or through a marker comment in front of a plain template
// literal. Each target is handed to the Splicer, which flattens the
// template into one string, formats it and writes the result back only if
// every hole can be located again in the output.
package embed

import (
	"sort"
	"strings"
	"unicode/utf8"

	"dqlfmt/internal/ast"
)

// DefaultMarker is used for both the tag name and the comment marker.
const DefaultMarker = "dql"

// DefaultProximity is the maximum distance in characters (exclusive)
// between the end of a marker comment and the start of the template it
// annotates.
const DefaultProximity = 20

// Rule identifies which recognition rule produced a match.
type Rule int

const (
	RuleNone Rule = iota
	RuleTag
	RuleComment
	// RuleDocument marks a whole standalone DQL file.
	RuleDocument
)

func (r Rule) String() string {
	switch r {
	case RuleTag:
		return "tag"
	case RuleComment:
		return "comment"
	case RuleDocument:
		return "document"
	}
	return "none"
}

// Recognizer classifies nodes. The zero value is not useful; use
// NewRecognizer or fill every field.
type Recognizer struct {
	TagName       string
	CommentMarker string
	Proximity     uint32
}

// NewRecognizer returns a recognizer with default markers.
func NewRecognizer() *Recognizer {
	return &Recognizer{
		TagName:       DefaultMarker,
		CommentMarker: DefaultMarker,
		Proximity:     DefaultProximity,
	}
}

// Match reports the template targeted by n, if any. For the tag rule the
// target is the template argument of the call, not the call itself.
// comments may be nil, in which case only attached comments are consulted.
func (r *Recognizer) Match(n *ast.Node, comments *CommentIndex) (*ast.Node, Rule) {
	if n == nil {
		return nil, RuleNone
	}
	if target := r.matchTag(n); target != nil {
		return target, RuleTag
	}
	if r.matchComment(n, comments) {
		return n, RuleComment
	}
	return nil, RuleNone
}

func (r *Recognizer) matchTag(n *ast.Node) *ast.Node {
	if r.TagName == "" || n.Type != ast.TypeCall {
		return nil
	}
	fn := n.Child(ast.FieldFunction)
	if fn == nil || fn.Type != ast.TypeIdentifier || fn.Text() != r.TagName {
		return nil
	}
	arg := n.Child(ast.FieldArguments)
	if arg == nil || arg.Type != ast.TypeTemplate {
		return nil
	}
	return arg
}

func (r *Recognizer) matchComment(n *ast.Node, comments *CommentIndex) bool {
	if r.CommentMarker == "" || n.Type != ast.TypeTemplate {
		return false
	}
	for _, c := range n.LeadingComments() {
		if strings.TrimSpace(c.Text) == r.CommentMarker {
			return true
		}
	}
	c := comments.Preceding(n.Span.Start)
	if c == nil || strings.TrimSpace(c.Text) != r.CommentMarker {
		return false
	}
	return comments.Distance(c, n.Span.Start) < r.Proximity
}

// CommentIndex answers nearest-preceding-comment queries over a file's
// ambient comments.
type CommentIndex struct {
	comments []*ast.Comment
	src      []byte
}

// NewCommentIndex sorts a copy of comments by end offset. src is the file
// the offsets refer to; with a nil src distances are counted in bytes.
func NewCommentIndex(src []byte, comments []*ast.Comment) *CommentIndex {
	sorted := make([]*ast.Comment, 0, len(comments))
	for _, c := range comments {
		if c != nil {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Span.End < sorted[j].Span.End
	})
	return &CommentIndex{comments: sorted, src: src}
}

// Preceding returns the comment with the greatest end offset strictly
// before offset, or nil.
func (x *CommentIndex) Preceding(offset uint32) *ast.Comment {
	if x == nil || len(x.comments) == 0 {
		return nil
	}
	i := sort.Search(len(x.comments), func(i int) bool {
		return x.comments[i].Span.End >= offset
	})
	if i == 0 {
		return nil
	}
	return x.comments[i-1]
}

// Distance returns the number of characters between the end of c and
// offset.
func (x *CommentIndex) Distance(c *ast.Comment, offset uint32) uint32 {
	if offset <= c.Span.End {
		return 0
	}
	if x == nil || int(offset) > len(x.src) {
		return offset - c.Span.End
	}
	return uint32(utf8.RuneCount(x.src[c.Span.End:offset]))
}

// Len returns the number of indexed comments.
func (x *CommentIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.comments)
}
