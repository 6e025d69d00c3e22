// Package ast is the host source tree that dqlfmt operates on.
//
// A File owns a tree of Nodes built by the parse package. Each Node has a
// type discriminant, a byte span into the original source and an ordered
// list of Fields. A Field has exactly one shape: a single child, an ordered
// list of children, a scalar string, or metadata (attached comments). Only
// node and list fields are structural; Walk never descends into scalars or
// metadata.
package ast

import "fmt"

// Node types the rest of dqlfmt relies on. Every other type string is
// whatever the host grammar produced and is treated opaquely.
const (
	TypeTemplate        = "template_string"
	TypeTemplateElement = "template_element"
	TypeCall            = "call_expression"
	TypeIdentifier      = "identifier"
	TypeComment         = "comment"
)

// Well-known field names.
const (
	FieldQuasis      = "quasis"
	FieldExpressions = "expressions"
	FieldRaw         = "raw"
	FieldCooked      = "cooked"
	FieldText        = "text"
	FieldFunction    = "function"
	FieldArguments   = "arguments"
	FieldChildren    = "children"
	FieldComments    = "comments"
)

// Span is a half-open byte range [Start, End) into File.Source.
type Span struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() uint32 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start, s.End)
}

// FieldKind is the shape of a Field.
type FieldKind int

const (
	FieldNode FieldKind = iota
	FieldList
	FieldScalar
	FieldMeta
)

func (k FieldKind) String() string {
	switch k {
	case FieldNode:
		return "node"
	case FieldList:
		return "list"
	case FieldScalar:
		return "scalar"
	case FieldMeta:
		return "meta"
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// Field is one named edge out of a Node. Which member is populated depends
// on Kind.
type Field struct {
	Name     string
	Kind     FieldKind
	Node     *Node
	List     []*Node
	Value    string
	Comments []*Comment
}

// Comment is a host comment with its delimiters stripped from Text.
type Comment struct {
	Text string
	Span Span
}

// Node is one element of the host tree.
type Node struct {
	Type   string
	Span   Span
	Fields []*Field
}

// File is a parsed host source file.
type File struct {
	Path   string
	Source []byte
	Root   *Node

	// Comments holds every comment in the file ordered by position,
	// independent of the structural edges of the tree.
	Comments []*Comment

	// HasErrors is set when the host parser had to recover from syntax
	// errors while building the tree.
	HasErrors bool
}

// Field returns the field called name, or nil.
func (n *Node) Field(name string) *Field {
	if n == nil {
		return nil
	}
	for _, f := range n.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Child returns the single child stored under name, or nil when the field
// is missing or has a different shape.
func (n *Node) Child(name string) *Node {
	f := n.Field(name)
	if f == nil || f.Kind != FieldNode {
		return nil
	}
	return f.Node
}

// List returns the children stored under name. The second result is false
// when the field is missing or is not a list.
func (n *Node) List(name string) ([]*Node, bool) {
	f := n.Field(name)
	if f == nil || f.Kind != FieldList {
		return nil, false
	}
	return f.List, true
}

// Scalar returns the scalar value stored under name.
func (n *Node) Scalar(name string) (string, bool) {
	f := n.Field(name)
	if f == nil || f.Kind != FieldScalar {
		return "", false
	}
	return f.Value, true
}

// Text is shorthand for the "text" scalar carried by leaf nodes.
func (n *Node) Text() string {
	v, _ := n.Scalar(FieldText)
	return v
}

// LeadingComments returns the comments attached directly in front of n.
func (n *Node) LeadingComments() []*Comment {
	f := n.Field(FieldComments)
	if f == nil || f.Kind != FieldMeta {
		return nil
	}
	return f.Comments
}

// SetScalar creates or overwrites the scalar field name.
func (n *Node) SetScalar(name, value string) {
	if f := n.Field(name); f != nil {
		f.Kind = FieldScalar
		f.Node, f.List, f.Comments = nil, nil, nil
		f.Value = value
		return
	}
	n.Fields = append(n.Fields, &Field{Name: name, Kind: FieldScalar, Value: value})
}

// SetList creates or overwrites the list field name.
func (n *Node) SetList(name string, list []*Node) {
	if f := n.Field(name); f != nil {
		f.Kind = FieldList
		f.Node, f.Value, f.Comments = nil, "", nil
		f.List = list
		return
	}
	n.Fields = append(n.Fields, &Field{Name: name, Kind: FieldList, List: list})
}

// Append adds child under name. The first child under a name is stored as
// a single node; a repeated name turns the field into a list.
func (n *Node) Append(name string, child *Node) {
	f := n.Field(name)
	switch {
	case f == nil:
		n.Fields = append(n.Fields, &Field{Name: name, Kind: FieldNode, Node: child})
	case f.Kind == FieldNode:
		f.Kind = FieldList
		f.List = []*Node{f.Node, child}
		f.Node = nil
	case f.Kind == FieldList:
		f.List = append(f.List, child)
	default:
		panic(fmt.Sprintf("ast: cannot append child to %s field %q", f.Kind, name))
	}
}

// AppendList adds child to the list field name, creating it if needed.
func (n *Node) AppendList(name string, child *Node) {
	f := n.Field(name)
	if f == nil {
		n.Fields = append(n.Fields, &Field{Name: name, Kind: FieldList, List: []*Node{child}})
		return
	}
	if f.Kind == FieldNode {
		f.Kind = FieldList
		f.List = []*Node{f.Node}
		f.Node = nil
	}
	f.List = append(f.List, child)
}

// Attach records comments as directly attached leading comments of n.
func (n *Node) Attach(comments ...*Comment) {
	if len(comments) == 0 {
		return
	}
	if f := n.Field(FieldComments); f != nil && f.Kind == FieldMeta {
		f.Comments = append(f.Comments, comments...)
		return
	}
	n.Fields = append(n.Fields, &Field{Name: FieldComments, Kind: FieldMeta, Comments: comments})
}

// Slice returns the source bytes covered by span, clamped to the source.
func (f *File) Slice(s Span) []byte {
	end := int(s.End)
	if end > len(f.Source) {
		end = len(f.Source)
	}
	start := int(s.Start)
	if start > end {
		start = end
	}
	return f.Source[start:end]
}
