package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

func graphCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [name]",
		Short: "Print a human-readable summary of a workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := workflowName(args)
			repo, closeRepo, err := a.repository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()
			g, err := repo.Load(cmd.Context(), name)
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), workflow.MarshalDOT(g, name))
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), renderText(g, name))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// truncate shortens s to maxLen runes, appending "…" if needed. Newlines
// are flattened so each node stays on one line.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// nodeAttrs lists the interesting fields of a node as key=value pairs.
func nodeAttrs(n *workflow.Node) []string {
	var parts []string
	switch p := n.Payload.(type) {
	case *workflow.ModelPayload:
		parts = append(parts, "provider="+string(p.Provider))
		if p.ModelName != "" {
			parts = append(parts, "model="+p.ModelName)
		}
		if p.Thinking {
			parts = append(parts, "thinking")
		}
		if len(p.Messages) > 0 {
			parts = append(parts, fmt.Sprintf("turns=%d", len(p.Messages)))
		}
	case *workflow.FileImportPayload:
		if p.FilePath != nil {
			parts = append(parts, "file="+*p.FilePath)
		}
	case *workflow.FileExportPayload:
		if p.FolderPath != nil && p.FileName != nil {
			parts = append(parts, fmt.Sprintf("target=%s/%s.%s", *p.FolderPath, *p.FileName, p.FileType))
		}
	}
	if n.NeedsExecution && n.Kind() == workflow.KindModel {
		parts = append(parts, "stale")
	}
	if n.Output != nil {
		parts = append(parts, "output="+truncate(*n.Output, 40))
	}
	return parts
}

// renderText produces the human-readable text summary.
func renderText(g *workflow.Graph, name string) string {
	var sb strings.Builder

	conns := g.Connections()
	fmt.Fprintf(&sb, "Workflow: %s  (%d nodes, %d connections)\n", name, g.Len(), len(conns))

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, n := range g.Nodes() {
		attrs := nodeAttrs(n)
		if badge, ok := g.BadgeNumber(n.ID); ok {
			attrs = append([]string{fmt.Sprintf("#%d", badge)}, attrs...)
		}
		fmt.Fprintf(&sb, "  %-4d  %-12s  %-12s  %s\n",
			n.ID, string(n.Kind()), n.Title, strings.Join(attrs, " "))
	}

	fmt.Fprintf(&sb, "\nConnections:\n")
	for _, c := range conns {
		if order, ok := g.InputOrderNumber(c.From, c.To); ok {
			fmt.Fprintf(&sb, "  %-4d  →  %d  [input %d]\n", c.From, c.To, order)
		} else {
			fmt.Fprintf(&sb, "  %-4d  →  %d\n", c.From, c.To)
		}
	}

	if tiers := g.ExecutionTiers(); len(tiers) > 0 {
		fmt.Fprintf(&sb, "\nExecution order:\n")
		for i, tier := range tiers {
			ids := make([]string, len(tier))
			for j, id := range tier {
				ids[j] = fmt.Sprint(id)
			}
			fmt.Fprintf(&sb, "  %d: %s\n", i+1, strings.Join(ids, ", "))
		}
	}
	return sb.String()
}

// renderOutputs prints each model node's latest output after a run.
func renderOutputs(g *workflow.Graph) string {
	var sb strings.Builder
	for _, n := range g.Nodes() {
		if n.Kind() != workflow.KindModel {
			continue
		}
		status := "ok"
		if n.NeedsExecution {
			status = "pending"
		}
		fmt.Fprintf(&sb, "── node %d (%s, %s)\n", n.ID, n.Title, status)
		if n.Output != nil {
			sb.WriteString(*n.Output)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
