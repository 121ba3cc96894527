package dal

import "sort"

// ThreadNode is a message with its replies attached.
type ThreadNode struct {
	Message  Message
	Children []*ThreadNode
}

// BuildThread turns a flat message list into a forest. Children are attached
// through parentMessageId in input order; a message whose parent is not in
// the list becomes a root. Messages whose parent links form a cycle are
// broken at the first of them in input order, which becomes a root, so
// every message appears exactly once.
func BuildThread(msgs []Message) []*ThreadNode {
	nodes := make(map[string]*ThreadNode, len(msgs))
	order := make(map[*ThreadNode]int, len(msgs))
	parents := make(map[*ThreadNode]*ThreadNode, len(msgs))
	for i, m := range msgs {
		n := &ThreadNode{Message: m}
		nodes[m.ID] = n
		order[n] = i
	}
	roots := make([]*ThreadNode, 0)
	for _, m := range msgs {
		n := nodes[m.ID]
		if m.ParentMessageID != nil {
			if parent, ok := nodes[*m.ParentMessageID]; ok && parent != n {
				parent.Children = append(parent.Children, n)
				parents[n] = parent
				continue
			}
		}
		roots = append(roots, n)
	}

	reached := make(map[*ThreadNode]bool, len(msgs))
	var mark func(n *ThreadNode)
	mark = func(n *ThreadNode) {
		reached[n] = true
		for _, c := range n.Children {
			mark(c)
		}
	}
	for _, r := range roots {
		mark(r)
	}
	if len(reached) == len(nodes) {
		return roots
	}
	for _, m := range msgs {
		n := nodes[m.ID]
		if reached[n] {
			continue
		}
		p := parents[n]
		for i, c := range p.Children {
			if c == n {
				p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
				break
			}
		}
		roots = append(roots, n)
		mark(n)
	}
	sort.SliceStable(roots, func(i, j int) bool { return order[roots[i]] < order[roots[j]] })
	return roots
}
