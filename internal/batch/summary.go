package batch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(24)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Summary renders the report for a terminal.
func Summary(r *Report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("SUMMARY"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	total := len(r.Images) * len(r.Models)
	row("Images processed", fmt.Sprintf("%d", len(r.Images)))
	row("Total time", fmt.Sprintf("%.2fs", r.Elapsed.Seconds()))
	if abs, err := filepath.Abs(r.OutputDir); err == nil {
		row("Output directory", abs)
	}

	succeeded := r.Succeeded()
	style := okStyle
	if succeeded < total {
		style = failStyle
	}
	row("Successful calls", style.Render(fmt.Sprintf("%d/%d", succeeded, total)))

	b.WriteString("\nAverage processing times:\n")
	for _, m := range r.Models {
		avg, n := r.Average(m)
		if n == 0 {
			row("  "+m, failStyle.Render("no successful calls"))
			continue
		}
		row("  "+m, okStyle.Render(fmt.Sprintf("%.2fs average (%d ok)", avg.Seconds(), n)))
	}

	return b.String()
}
