package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <flow.yaml>",
		Short: "Print a human-readable summary of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			def, err := flow.Load(args[0])
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "dot":
				dot, err := flow.ExportDOT(def)
				if err != nil {
					return err
				}
				fmt.Print(dot)
			case "text", "":
				fmt.Print(renderText(def))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// walkOrder returns node names in BFS order from START; unreachable nodes are
// appended in sorted order at the end.
func walkOrder(def *flow.Definition) []string {
	visited := map[string]bool{}
	var order []string

	queue := []string{flow.Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if _, ok := def.Nodes[cur]; ok {
			order = append(order, cur)
		}
		for _, e := range def.OutgoingEdges(cur) {
			if e.To != "" {
				queue = append(queue, e.To)
			}
			queue = append(queue, e.Targets...)
		}
	}

	var rest []string
	for name := range def.Nodes {
		if !visited[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// nodeDetail summarises the attributes worth showing per kind.
func nodeDetail(n *flow.NodeSpec) string {
	var parts []string
	switch n.Kind {
	case flow.KindLLM:
		if n.LLM.Model != "" {
			parts = append(parts, "model="+n.LLM.Model)
		}
		if n.LLM.Output != "" {
			parts = append(parts, "output="+n.LLM.Output)
		}
	case flow.KindRouter:
		routes := make([]string, 0, len(n.Router.Routes))
		for name := range n.Router.Routes {
			routes = append(routes, name)
		}
		sort.Strings(routes)
		parts = append(parts, "routes="+strings.Join(routes, "|"))
	case flow.KindShell:
		parts = append(parts, "command="+truncate(n.Shell.Command, 50))
	case flow.KindMap:
		parts = append(parts, "over="+truncate(n.Map.Over, 40), "collect="+n.Map.Collect)
	case flow.KindAgent:
		if len(n.Agent.Tools) > 0 {
			parts = append(parts, "tools="+strings.Join(n.Agent.Tools, "|"))
		}
	case flow.KindInterrupt:
		parts = append(parts, "write_to="+n.Interrupt.WriteTo)
	case flow.KindSubgraph:
		if n.Subgraph.Path != "" {
			parts = append(parts, "path="+n.Subgraph.Path)
		}
	}
	if n.OnError != flow.PolicyFail {
		parts = append(parts, "on_error="+string(n.OnError))
	}
	return strings.Join(parts, " ")
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// renderText produces the human-readable text summary.
func renderText(def *flow.Definition) string {
	var sb strings.Builder

	order := walkOrder(def)
	fmt.Fprintf(&sb, "Workflow: %s  (%d nodes, %d edges)\n", def.Name, len(def.Nodes), len(def.Edges))

	maxNameLen := 4
	for name := range def.Nodes {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, name := range order {
		n := def.Nodes[name]
		fmt.Fprintf(&sb, "  %-*s  %-12s  %s\n", maxNameLen, name, string(n.Kind), nodeDetail(n))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range def.Edges {
		if len(e.From) > maxFromLen {
			maxFromLen = len(e.From)
		}
	}
	for _, e := range def.Edges {
		switch e.Kind {
		case flow.EdgeExpression:
			fmt.Fprintf(&sb, "  %-*s  →  %s  [%s]\n", maxFromLen, e.From, e.To, e.Condition)
		case flow.EdgeConditional:
			fmt.Fprintf(&sb, "  %-*s  →  {%s}\n", maxFromLen, e.From, strings.Join(e.Targets, ", "))
		default:
			fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, e.From, e.To)
		}
	}

	if len(def.LoopLimits) > 0 {
		limited := make([]string, 0, len(def.LoopLimits))
		for name := range def.LoopLimits {
			limited = append(limited, name)
		}
		sort.Strings(limited)
		fmt.Fprintf(&sb, "\nLoop limits:\n")
		for _, name := range limited {
			fmt.Fprintf(&sb, "  %-*s  %d\n", maxNameLen, name, def.LoopLimits[name])
		}
	}

	return sb.String()
}
