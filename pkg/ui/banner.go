package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	hotspotFlame = lipgloss.Color("208")
	honeyOrange  = lipgloss.Color("214")
	beeYellow    = lipgloss.Color("226")
	mint         = lipgloss.Color("121")
	cobalt       = lipgloss.Color("33")
	deepIndigo   = lipgloss.Color("61")
	fuchsia      = lipgloss.Color("177")

	gradient = []lipgloss.Color{hotspotFlame, honeyOrange, beeYellow, mint, cobalt, deepIndigo, fuchsia}

	taglineStyle = lipgloss.NewStyle().Bold(true).Foreground(hotspotFlame)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(cobalt)
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(honeyOrange)
)

// Tagline follows the wordmark.
const Tagline = "process memory & CPU exporter"

var hotspotLetters = [][]string{
	{"██╗  ██╗", "██║  ██║", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"},
	{" ██████╗ ", "██╔═████╗", "██║██╔██║", "████╔╝██║", "╚██████╔╝", " ╚═════╝ "},
	{"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "},
	{" ██████╗ ", "██╔════╝ ", "╚█████╗  ", " ╚═══██╗ ", "██████╔╝ ", "╚═════╝  "},
	{"██████╗  ", "██╔══██╗ ", "██████╔╝ ", "██╔═══╝  ", "██║      ", "╚═╝      "},
	{" ██████╗ ", "██╔═████╗", "██║██╔██║", "████╔╝██║", "╚██████╔╝", " ╚═════╝ "},
	{"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "},
}

// Banner renders the hotspot wordmark, one gradient color per letter.
// Colors are dropped when the output is not a color terminal.
func Banner() string {
	var b strings.Builder

	rows := make([]string, len(hotspotLetters[0]))
	for i, letter := range hotspotLetters {
		style := lipgloss.NewStyle().Bold(true).Foreground(gradient[i%len(gradient)])
		for row := range letter {
			rows[row] += style.Render(letter[row]) + "  "
		}
	}
	for _, line := range rows {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(taglineStyle.Render("hotspot") + "  •  " + Tagline + "\n\n")
	return b.String()
}
