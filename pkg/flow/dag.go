package flow

import (
	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/exprx"
)

// Graph is the pure, acyclic dependency structure derived from a flow
// Definition: for each node, which other nodes its inputs and activation
// condition reference. It holds no execution state — that lives in
// RunState, one instance per line, so many lines can be scheduled
// against the same Graph concurrently.
type Graph struct {
	def   *Definition
	index map[string]int
	// deps[name] is the set of node names "name" must wait on.
	deps map[string][]string
	// dependents[name] is the set of node names that wait on "name".
	dependents map[string][]string
}

// BuildGraph derives a Graph from a parsed Definition, extracting
// dependencies from every ${node...} reference found in each node's
// Inputs values and its Activate.When condition.
func BuildGraph(def *Definition) (*Graph, error) {
	g := &Graph{
		def:        def,
		index:      make(map[string]int, len(def.Nodes)),
		deps:       make(map[string][]string, len(def.Nodes)),
		dependents: make(map[string][]string, len(def.Nodes)),
	}

	for i, n := range def.Nodes {
		g.index[n.Name] = i
	}

	for _, n := range def.Nodes {
		depSet := make(map[string]bool)

		for _, v := range n.Inputs {
			s, ok := v.(string)
			if !ok {
				continue
			}
			for _, ref := range exprx.References(s) {
				collectReferencedNode(ref, g.index, n.Name, depSet)
			}
		}

		if n.Activate != nil {
			for _, ref := range exprx.References(n.Activate.When) {
				collectReferencedNode(ref, g.index, n.Name, depSet)
			}
			// A bare boolean expression (no ${} wrapper) over another
			// node's field, e.g. "classify.output.score > 0", is valid
			// expr-lang and also names its dependency directly.
			for name := range g.index {
				if name == n.Name {
					continue
				}
				if referencesIdentifier(n.Activate.When, name) {
					depSet[name] = true
				}
			}
		}

		deps := make([]string, 0, len(depSet))
		for dep := range depSet {
			deps = append(deps, dep)
		}
		g.deps[n.Name] = deps
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], n.Name)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

func collectReferencedNode(ref string, index map[string]int, self string, depSet map[string]bool) {
	name := firstIdentifier(ref)
	if name == "" || name == "inputs" || name == self {
		return
	}
	if _, ok := index[name]; ok {
		depSet[name] = true
	}
}

// firstIdentifier returns the leading dotted-path identifier of an
// expr-lang expression, e.g. "classify.output.category" -> "classify".
func firstIdentifier(expr string) string {
	end := 0
	for end < len(expr) {
		c := expr[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			end++
			continue
		}
		break
	}
	return expr[:end]
}

// referencesIdentifier does a conservative word-boundary scan for name
// inside expr, used to pick up bare (non-${}) node references in
// activation conditions.
func referencesIdentifier(expr, name string) bool {
	for i := 0; i+len(name) <= len(expr); i++ {
		if expr[i:i+len(name)] != name {
			continue
		}
		beforeOK := i == 0 || !isIdentChar(expr[i-1])
		afterOK := i+len(name) == len(expr) || !isIdentChar(expr[i+len(name)])
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.index))
	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, dep := range g.deps[name] {
			switch color[dep] {
			case gray:
				return &errors.UserError{Node: name, Message: "dependency cycle detected involving node " + dep}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for name := range g.index {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dependencies returns the node names that node must wait on.
func (g *Graph) Dependencies(node string) []string {
	return g.deps[node]
}

// Dependents returns the node names that wait on node.
func (g *Graph) Dependents(node string) []string {
	return g.dependents[node]
}

// NodeNames returns every node name in the graph, in declaration order.
func (g *Graph) NodeNames() []string {
	return g.def.NodeNames()
}
