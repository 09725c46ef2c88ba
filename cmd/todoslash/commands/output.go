package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/DrSkyle/todoslash/pkg/version"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF99")).
			MarginBottom(1)

	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	pathStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFCC00"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
)

func renderHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s %s", strings.ToUpper(version.AppName), version.Current)))
	fmt.Fprintln(out, cmd.Short)
	fmt.Fprintln(out)

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, titleStyle.Render("EXAMPLES"))
		fmt.Fprintln(out, "  todoslash scan './src/**'                 # list TODOs with their authors")
		fmt.Fprintln(out, "  todoslash remind './src/**' --grace 1w    # message authors of week-old TODOs")
		fmt.Fprintln(out, "  todoslash sync './src/**' --table-id tbl  # record new TODOs in Bitable")
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	visit := func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	}
	cmd.LocalFlags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)
	fmt.Fprintln(out)
}

// renderOccurrences prints one block per occurrence followed by a count line.
func renderOccurrences(w io.Writer, occ []scanner.Occurrence) {
	for _, o := range occ {
		fmt.Fprintf(w, "%s  %s\n", pathStyle.Render(o.Key()), dimStyle.Render(fmt.Sprintf("%s <%s> %s", o.Author, o.AuthorEmail, o.AuthorTime.Format("2006-01-02"))))
		fmt.Fprintf(w, "    %s\n", strings.TrimSpace(o.SourceCode))
	}
	fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("%d TODO(s) found", len(occ))))
}

func renderFailures(w io.Writer, errs []error) {
	for _, err := range errs {
		fmt.Fprintln(w, warnStyle.Render("[WARN] "+err.Error()))
	}
}
