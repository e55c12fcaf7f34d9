package tree

import (
	"strconv"
	"strings"

	"github.com/epa-ng/epa-ng/epaerr"
)

// nwNode is the intermediate parent/child representation the Newick parser
// builds before conversion to the half-edge arena, in the style of
// _examples/pythseq-gotree/tree/tree.go's Node/Edge: a node has a slice of
// neighbors and a parallel slice of the edges to them. It is unexported and
// discarded once FromNewick returns.
type nwNode struct {
	label   string
	neigh   []*nwNode
	edgeLen []float64
	hasLen  []bool
}

func newNwNode() *nwNode { return &nwNode{} }

// parser is a minimal recursive-descent Newick reader. The low-level
// tokenizer is intentionally small: spec.md §1 treats "the low-level Newick
// parser" as an out-of-scope external collaborator, so only the minimum
// needed to exercise construction/unrooting/numbering is implemented here.
type parser struct {
	s   string
	pos int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) next() byte {
	c := p.peek()
	p.pos++
	return c
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

// parseNewick parses a single Newick tree (terminated by ';') into an
// nwNode tree rooted at the returned node.
func parseNewick(s string) (*nwNode, error) {
	p := &parser{s: s}
	root, err := p.parseClade()
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindParse, err, "newick: parse failure")
	}
	p.skipSpace()
	if p.peek() == ';' {
		p.next()
	}
	return root, nil
}

func (p *parser) parseClade() (*nwNode, error) {
	p.skipSpace()
	n := newNwNode()
	if p.peek() == '(' {
		p.next()
		for {
			child, err := p.parseClade()
			if err != nil {
				return nil, err
			}
			length, hasLen, err := p.parseLabelAndLength(child)
			if err != nil {
				return nil, err
			}
			n.neigh = append(n.neigh, child)
			n.edgeLen = append(n.edgeLen, length)
			n.hasLen = append(n.hasLen, hasLen)
			child.neigh = append(child.neigh, n)
			child.edgeLen = append(child.edgeLen, length)
			child.hasLen = append(child.hasLen, hasLen)
			p.skipSpace()
			if p.peek() == ',' {
				p.next()
				continue
			}
			break
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, epaerr.New(epaerr.KindParse, "newick: expected ')'")
		}
		p.next()
	}
	// The label/length immediately following this clade's own token belongs
	// to the *parent* edge and is consumed by the caller via
	// parseLabelAndLength; here we only grab this node's own label, if any
	// (used for tips and, harmlessly, ignored for internal node "support"
	// labels).
	label := p.parseToken()
	if len(n.neigh) == 0 {
		n.label = label
	}
	return n, nil
}

// parseLabelAndLength consumes an optional ":<length>" following a clade,
// and (for internal nodes) a support-value token preceding it; both are
// already absorbed by parseClade's parseToken call on the child, so this
// just looks for the branch length colon.
func (p *parser) parseLabelAndLength(_ *nwNode) (float64, bool, error) {
	p.skipSpace()
	if p.peek() == ':' {
		p.next()
		numStr := p.parseNumber()
		v, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, false, epaerr.New(epaerr.KindParse, "newick: bad branch length")
		}
		return v, true, nil
	}
	return 0, false, nil
}

func (p *parser) parseToken() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '(' || c == ')' || c == ',' || c == ':' || c == ';' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.s[start:p.pos])
}

func (p *parser) parseNumber() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	return p.s[start:p.pos]
}

// degree returns the number of neighbors of n.
func (n *nwNode) degree() int { return len(n.neigh) }

func (n *nwNode) isTip() bool { return len(n.neigh) == 0 }

// lenTo returns the (possibly absent) branch length recorded on the edge to
// neigh[i], defaulting to defaultBranchLength when absent.
func (n *nwNode) lenTo(i int, defaultBranchLength float64) float64 {
	if n.hasLen[i] {
		return n.edgeLen[i]
	}
	return defaultBranchLength
}

func (n *nwNode) edgeIndexTo(other *nwNode) int {
	for i, nb := range n.neigh {
		if nb == other {
			return i
		}
	}
	return -1
}

func (n *nwNode) removeNeighbor(other *nwNode) {
	idx := n.edgeIndexTo(other)
	if idx < 0 {
		return
	}
	n.neigh = append(n.neigh[:idx], n.neigh[idx+1:]...)
	n.edgeLen = append(n.edgeLen[:idx], n.edgeLen[idx+1:]...)
	n.hasLen = append(n.hasLen[:idx], n.hasLen[idx+1:]...)
}

// connect adds a bidirectional edge a<->b with the given length/presence.
func connect(a, b *nwNode, length float64, hasLen bool) {
	a.neigh = append(a.neigh, b)
	a.edgeLen = append(a.edgeLen, length)
	a.hasLen = append(a.hasLen, hasLen)
	b.neigh = append(b.neigh, a)
	b.edgeLen = append(b.edgeLen, length)
	b.hasLen = append(b.hasLen, hasLen)
}

// countTips counts tip nodes reachable from n (the whole tree, since n is
// assumed to be the parse root).
func countTips(n *nwNode) int {
	count := 0
	visited := map[*nwNode]bool{}
	var walk func(cur, prev *nwNode)
	walk = func(cur, prev *nwNode) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		if cur.isTip() {
			count++
		}
		for _, nb := range cur.neigh {
			if nb != prev {
				walk(nb, cur)
			}
		}
	}
	walk(n, nil)
	return count
}

// unroot removes a bifurcating root (degree 2), connecting its two children
// directly and preferring to keep a non-tip node as the new pseudo-root, the
// same tip-preference rule as _examples/pythseq-gotree/tree/tree.go's
// UnRoot. Returns the new pseudo-root, the far side of the merged edge (for
// buildArena to resolve RootBranchID against), and the RootedMapper
// describing how to translate placements back to the original rooted
// numbering, or (root, nil, nil) if the input was already unrooted (root
// degree != 2).
func unroot(root *nwNode, defaultBranchLength float64) (newRoot, otherChild *nwNode, mapper *RootedMapper) {
	if root.degree() != 2 {
		return root, nil, nil
	}
	n1, n2 := root.neigh[0], root.neigh[1]
	l1, l2 := root.lenTo(0, defaultBranchLength), root.lenTo(1, defaultBranchLength)

	n1.removeNeighbor(root)
	n2.removeNeighbor(root)

	left := !n1.isTip()
	if left {
		connect(n1, n2, l1+l2, true)
		newRoot, otherChild = n1, n2
	} else {
		connect(n2, n1, l1+l2, true)
		newRoot, otherChild = n2, n1
	}
	mapper = &RootedMapper{
		Left:                left,
		OriginalProximalLen: l1,
		OriginalDistalLen:   l2,
	}
	return newRoot, otherChild, mapper
}

// Branch ids are assigned during arena construction (see buildArena in
// arena.go) by the same deterministic post-order DFS that lays out the
// half-edge arena itself, so traversal order and numbering can never drift
// apart: a subtree's edges are all numbered before the edge connecting that
// subtree to its parent, exactly spec.md §3's "deterministic post-order
// traversal".
