// Package style holds the terminal styles of the CLI.
package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rescp17/devicediscovery/internal/util"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorCyan      = lipgloss.Color("212")
	colorGreen     = lipgloss.Color("42")
	colorOrange    = lipgloss.Color("214")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	WarningStyle = lipgloss.NewStyle().Foreground(colorOrange)
	SuccessStyle = lipgloss.NewStyle().Foreground(colorGreen)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
)

// --- Share and Browse Styles ---
var (
	BaseStyle          = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
	TitleStyle         = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	HeaderStyle        = lipgloss.NewStyle().Bold(true).Foreground(colorLightGray)
)

// Banner frames a title and the lines below it.
func Banner(title string, lines ...string) string {
	body := append([]string{TitleStyle.Render(title)}, lines...)
	return BaseStyle.Render(strings.Join(body, "\n"))
}

// Table lays rows out in columns of the given widths. Cells that do not fit
// are truncated.
func Table(headers []string, widths []int, rows [][]string) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(joinCells(headers, widths)))
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(joinCells(row, widths))
		b.WriteByte('\n')
	}
	return b.String()
}

func joinCells(cells []string, widths []int) string {
	padded := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		padded[i] = util.PadRight(cell, w)
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}
