package tree

import (
	"fmt"
	"strings"
)

// NumberedNewick renders t as Newick text with every edge annotated
// "{branch_id}" in post-order, spec.md §4.12's "numbered Newick" string
// embedded in every JPlace output. The root inner node's three ring
// directions are printed as a trifurcation, since an unrooted tree has no
// single basal bifurcation to prefer.
func (t *Tree) NumberedNewick() string {
	var b strings.Builder
	b.WriteByte('(')
	first := true
	t.Ring(t.Root, func(ring int32) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		t.writeChild(&b, ring)
	})
	b.WriteByte(')')
	b.WriteByte(';')
	return b.String()
}

// writeChild writes the clade attached via half-edge h (the subtree rooted
// at whatever lies on the far side of h), followed by h's own
// ":length{branch_id}" annotation.
func (t *Tree) writeChild(b *strings.Builder, h int32) {
	node := t.Back(h)
	if t.IsTip(node) {
		b.WriteString(t.Halfedges[node].Label)
	} else {
		b.WriteByte('(')
		first := true
		t.Ring(node, func(ring int32) {
			if ring == node {
				return
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			t.writeChild(b, ring)
		})
		b.WriteByte(')')
	}
	fmt.Fprintf(b, ":%g{%d}", t.Halfedges[h].Length, t.BranchID(h))
}
