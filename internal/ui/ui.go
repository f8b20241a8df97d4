package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	White = lipgloss.Color("#FFFFFF")
	Gray  = lipgloss.Color("#8A8A8A")
	Green = lipgloss.Color("#22C55E")
	Amber = lipgloss.Color("#F59E0B")
	Red   = lipgloss.Color("#EF4444")
	Blue  = lipgloss.Color("#38BDF8")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(Blue)
	warnStyle    = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(Gray)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(White).Underline(true)
)

// Output is where all operator-facing messages go. Standard output is left
// to machine-readable results.
var Output io.Writer = os.Stderr

func Basic(format string, a ...any) {
	fmt.Fprintln(Output, fmt.Sprintf(format, a...))
}

func Info(format string, a ...any) {
	fmt.Fprintln(Output, infoStyle.Render(fmt.Sprintf(format, a...)))
}

func Success(format string, a ...any) {
	fmt.Fprintln(Output, successStyle.Render("✔ "+fmt.Sprintf(format, a...)))
}

func Warn(format string, a ...any) {
	fmt.Fprintln(Output, warnStyle.Render("! "+fmt.Sprintf(format, a...)))
}

func Error(format string, a ...any) {
	fmt.Fprintln(Output, errorStyle.Render("✘ "+fmt.Sprintf(format, a...)))
}

func Muted(format string, a ...any) {
	fmt.Fprintln(Output, mutedStyle.Render(fmt.Sprintf(format, a...)))
}

// Section prints a titled block of lines.
func Section(title string, lines []string) {
	fmt.Fprintln(Output, titleStyle.Render(title))
	for _, line := range lines {
		fmt.Fprintln(Output, "  "+line)
	}
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(Output, t.String())
}

// Status renders a short colored status word.
func Status(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "healthy", "passed", "up":
		return lipgloss.NewStyle().Foreground(Green).Render(status)
	case "warning", "succeeded_with_warnings", "skipped", "degraded", "unknown":
		return lipgloss.NewStyle().Foreground(Amber).Render(status)
	case "failed", "aborted", "unhealthy", "down":
		return lipgloss.NewStyle().Foreground(Red).Render(status)
	default:
		return status
	}
}
