package ast

import (
	"bytes"
	"sort"
)

// Edit replaces the source bytes in Span with Text.
type Edit struct {
	Span Span
	Text string
}

// Edits returns the source edits implied by template segments whose raw
// text no longer matches the bytes they were parsed from, ordered by
// position.
func Edits(f *File) []Edit {
	var edits []Edit
	Walk(f.Root, func(n *Node) bool {
		if n.Type != TypeTemplateElement {
			return true
		}
		raw, ok := n.Scalar(FieldRaw)
		if !ok {
			return true
		}
		if raw != string(f.Slice(n.Span)) {
			edits = append(edits, Edit{Span: n.Span, Text: raw})
		}
		return true
	})
	sort.Slice(edits, func(i, j int) bool {
		return edits[i].Span.Start < edits[j].Span.Start
	})
	return edits
}

// Print renders the file with every mutated template segment written back
// into the original source. Bytes outside mutated segments are copied
// verbatim.
func Print(f *File) []byte {
	edits := Edits(f)
	if len(edits) == 0 {
		return bytes.Clone(f.Source)
	}
	var out bytes.Buffer
	out.Grow(len(f.Source))
	var pos uint32
	for _, e := range edits {
		if e.Span.Start < pos {
			// overlapping edits cannot come from a well-formed tree
			continue
		}
		out.Write(f.Slice(Span{Start: pos, End: e.Span.Start}))
		out.WriteString(e.Text)
		pos = e.Span.End
	}
	out.Write(f.Slice(Span{Start: pos, End: uint32(len(f.Source))}))
	return out.Bytes()
}
