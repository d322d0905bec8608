package scene

// WalkFunc is called for each visited node. Returning false skips the
// node's descendants.
type WalkFunc func(id NodeID, depth int) bool

// Walk visits every node depth-first, parents before children, roots and
// children in their stored order.
func (g *Graph) Walk(fn WalkFunc) {
	for _, r := range g.Roots() {
		g.walkFrom(r, 0, fn)
	}
}

// WalkFrom visits id and its descendants like Walk.
func (g *Graph) WalkFrom(id NodeID, fn WalkFunc) error {
	if _, err := g.mustLookup(id); err != nil {
		return err
	}
	g.walkFrom(id, 0, fn)
	return nil
}

type walkItem struct {
	id    NodeID
	depth int
}

func (g *Graph) walkFrom(root NodeID, depth int, fn WalkFunc) {
	stack := []walkItem{{root, depth}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.lookup(it.id)
		if !ok {
			continue
		}
		if !fn(it.id, it.depth) {
			continue
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, walkItem{n.children[i], it.depth + 1})
		}
	}
}

// Descendants returns every node below id in walk order, id excluded.
func (g *Graph) Descendants(id NodeID) ([]NodeID, error) {
	if _, err := g.mustLookup(id); err != nil {
		return nil, err
	}
	all := g.subtree(id)
	return all[1:], nil
}

// FindByName returns the first node in walk order carrying name.
func (g *Graph) FindByName(name string) (NodeID, bool) {
	found := NoNode
	g.Walk(func(id NodeID, _ int) bool {
		if found != NoNode {
			return false
		}
		if n, _ := g.lookup(id); n.name == name {
			found = id
			return false
		}
		return true
	})
	return found, found != NoNode
}

func (g *Graph) subtree(id NodeID) []NodeID {
	var out []NodeID
	g.walkFrom(id, 0, func(c NodeID, _ int) bool {
		out = append(out, c)
		return true
	})
	return out
}
