package syntax

// MarkKind classifies a flattened syntax mark.
type MarkKind string

const (
	MarkStart MarkKind = "start"
	MarkEnd   MarkKind = "end"
	MarkError MarkKind = "error"
)

// Mark is one entry of a flattened tree. Start and End marks bracket the
// marks of a node's children; error nodes produce a single Error mark.
type Mark struct {
	Mark    MarkKind `json:"mark" yaml:"mark"`
	Node    string   `json:"node,omitempty" yaml:"node,omitempty"`
	Offset  int      `json:"offset" yaml:"offset"`
	End     int      `json:"end,omitempty" yaml:"end,omitempty"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Flatten turns the tree into a mark stream in document order, for editor
// tooling that highlights without walking trees.
func Flatten(root *Node) []Mark {
	var out []Mark
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Kind == KindError {
			out = append(out, Mark{Mark: MarkError, Offset: n.Span.Start, End: n.Span.End, Message: n.Text})
			return
		}
		out = append(out, Mark{Mark: MarkStart, Node: n.Kind.String(), Offset: n.Span.Start})
		for _, c := range n.Children {
			walk(c)
		}
		out = append(out, Mark{Mark: MarkEnd, Offset: n.Span.End})
	}
	walk(root)
	return out
}
