package ast

// Walk traverses the tree rooted at root depth-first, calling visit for each
// node before its children. Children are visited in field order, and inside
// a list field in list order. Scalar and metadata fields are never entered,
// so attached comments are not mistaken for sub-trees. If visit returns
// false the children of that node are skipped.
//
// Every node is visited at most once even if the tree shares a node between
// two parents or contains a cycle.
func Walk(root *Node, visit func(*Node) bool) {
	if root == nil {
		return
	}
	seen := make(map[*Node]struct{})
	walk(root, visit, seen)
}

func walk(n *Node, visit func(*Node) bool, seen map[*Node]struct{}) {
	if _, ok := seen[n]; ok {
		return
	}
	seen[n] = struct{}{}
	if !visit(n) {
		return
	}
	for _, f := range n.Fields {
		switch f.Kind {
		case FieldNode:
			if f.Node != nil {
				walk(f.Node, visit, seen)
			}
		case FieldList:
			for _, child := range f.List {
				if child != nil {
					walk(child, visit, seen)
				}
			}
		case FieldScalar, FieldMeta:
		}
	}
}
