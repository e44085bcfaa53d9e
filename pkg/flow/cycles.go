package flow

// DetectCycles returns the set of node names that lie on a cycle. When a
// back edge is found during the depth-first walk, every node on the current
// path from the revisited node onward is marked. The marking is conservative
// for nodes shared between overlapping cycles, never for acyclic ancestors.
func DetectCycles(edges []*EdgeSpec) map[string]bool {
	adj := make(map[string][]string)
	nodes := make(map[string]bool)
	for _, e := range edges {
		for _, to := range edgeTargets(e) {
			if e.From == End || to == Start {
				continue
			}
			adj[e.From] = append(adj[e.From], to)
			nodes[e.From] = true
			nodes[to] = true
		}
	}

	const (
		unvisited = iota
		onPath
		done
	)
	colour := make(map[string]int, len(nodes))
	cyclic := make(map[string]bool)
	var path []string

	var walk func(n string)
	walk = func(n string) {
		colour[n] = onPath
		path = append(path, n)
		for _, m := range adj[n] {
			switch colour[m] {
			case unvisited:
				walk(m)
			case onPath:
				for i := len(path) - 1; i >= 0; i-- {
					cyclic[path[i]] = true
					if path[i] == m {
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		colour[n] = done
	}

	for n := range nodes {
		if colour[n] == unvisited {
			walk(n)
		}
	}
	delete(cyclic, Start)
	delete(cyclic, End)
	return cyclic
}

// edgeTargets enumerates every destination an edge can reach.
func edgeTargets(e *EdgeSpec) []string {
	if len(e.Targets) > 0 {
		return e.Targets
	}
	if e.To != "" {
		return []string{e.To}
	}
	return nil
}
