// Package viz renders solve results for the terminal: a styled summary
// block and ascii plots of convergence and trajectories.
package viz

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trajopt/internal/ddp"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// SolveSummary writes a styled block with the final solve measures.
func SolveSummary(w io.Writer, problem string, perf ddp.Performance, logs []ddp.IterationLog) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("solve: %s", problem)))

	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	}
	row("iterations", fmt.Sprintf("%d", len(logs)))
	row("cost", fmt.Sprintf("%.6f", perf.TotalCost))
	row("merit", fmt.Sprintf("%.6f", perf.Merit))

	ise := perf.ConstraintISE()
	iseStr := fmt.Sprintf("%.3e", ise)
	if ise < 1e-6 {
		iseStr = goodStyle.Render(iseStr)
	} else {
		iseStr = warnStyle.Render(iseStr)
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("constraint ise"), iseStr)

	if len(logs) > 0 {
		last := logs[len(logs)-1]
		row("final step size", fmt.Sprintf("%.3f", last.StepSize))
		row("last iter time", fmt.Sprintf("%v",
			last.ApproximationTime+last.BackwardTime+last.SearchTime))
	}
}

// ConvergencePlot draws the per-iteration merit as an ascii graph.
func ConvergencePlot(logs []ddp.IterationLog) string {
	if len(logs) < 2 {
		return ""
	}
	data := make([]float64, len(logs))
	for i, l := range logs {
		data[i] = l.Merit
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(70),
		asciigraph.Caption("merit per iteration"))
}

// SeriesPlot draws one sampled signal.
func SeriesPlot(data []float64, caption string) string {
	if len(data) < 2 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(12),
		asciigraph.Width(70),
		asciigraph.Caption(caption))
}

// IterationTable formats the iteration log as fixed-width text rows.
func IterationTable(logs []ddp.IterationLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-14s %-14s %-12s %-8s\n", "iter", "merit", "cost", "eq ise", "alpha")
	for _, l := range logs {
		fmt.Fprintf(&b, "%-6d %-14.6e %-14.6e %-12.3e %-8.3f\n",
			l.Iteration, l.Merit, l.Cost, l.ConstraintISE, l.StepSize)
	}
	return b.String()
}
