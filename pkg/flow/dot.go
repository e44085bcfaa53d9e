package flow

import (
	"fmt"
	"sort"
	"strconv"

	gographviz "github.com/awalterschulze/gographviz"
)

// ExportDOT renders a definition as a Graphviz digraph for inspection.
// Nodes are labelled with their kind, expression edges with their condition,
// and conditional edges fan out to each listed target.
func ExportDOT(def *Definition) (string, error) {
	graphName := def.Name
	if graphName == "" {
		graphName = "flow"
	}
	graphName = strconv.Quote(graphName)

	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}

	addNode := func(name string, attrs map[string]string) error {
		return g.AddNode(graphName, strconv.Quote(name), attrs)
	}
	if err := addNode(Start, map[string]string{"shape": "circle"}); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}
	if err := addNode(End, map[string]string{"shape": "doublecircle"}); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}

	names := make([]string, 0, len(def.Nodes))
	for name := range def.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		label := fmt.Sprintf("%s\\n(%s)", name, def.Nodes[name].Kind)
		if err := addNode(name, map[string]string{
			"shape": "box",
			"label": strconv.Quote(label),
		}); err != nil {
			return "", fmt.Errorf("dot export: %w", err)
		}
	}

	for _, e := range def.Edges {
		attrs := map[string]string{}
		if e.Condition != "" {
			attrs["label"] = strconv.Quote(e.Condition)
		}
		if e.Kind == EdgeConditional {
			attrs["style"] = "dashed"
		}
		for _, to := range edgeTargets(e) {
			if err := g.AddEdge(strconv.Quote(e.From), strconv.Quote(to), true, attrs); err != nil {
				return "", fmt.Errorf("dot export: %w", err)
			}
		}
	}

	return g.String(), nil
}
