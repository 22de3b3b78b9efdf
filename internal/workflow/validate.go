package workflow

import "fmt"

// Validate checks the structural invariants every stored graph must satisfy:
// at least one node, a kind and an inputs object on each node, and every
// connection resolving to a node of the same graph. Nodes are checked in
// insertion order and the first violation is returned as *MalformedError.
func (g *Graph) Validate() error {
	if g.Len() == 0 {
		return &MalformedError{Msg: "graph must contain at least one node"}
	}
	for _, id := range g.ids {
		n := g.nodes[id]
		if n == nil || n.Kind == "" {
			return &MalformedError{Node: id, Msg: "missing class_type"}
		}
		if n.Inputs == nil {
			return &MalformedError{Node: id, Msg: "missing inputs"}
		}
		for _, name := range n.Inputs.names {
			c, ok := n.Inputs.values[name].Connection()
			if !ok {
				continue
			}
			if _, exists := g.nodes[c.Node]; !exists {
				return &MalformedError{
					Node:  id,
					Input: name,
					Msg:   fmt.Sprintf("dangling connection to unknown node %q", c.Node),
				}
			}
		}
	}
	return nil
}
