// Package ui provides terminal rendering helpers for the fieldsync CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// colorEnabled reports whether the terminal supports color output.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders success output (synced, verified).
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warnings (pending backlog, offline).
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr renders failures (failed entities, broken chains).
func RenderErr(s string) string { return render(errStyle, s) }

// RenderAccent renders identifiers and highlights.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim renders secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderBold renders headings.
func RenderBold(s string) string { return render(boldStyle, s) }

// StatusGlyph maps a sync status to a colored marker.
func StatusGlyph(status string) string {
	switch status {
	case "synced":
		return RenderPass("✓")
	case "pending":
		return RenderWarn("…")
	case "syncing":
		return RenderAccent("↑")
	case "failed":
		return RenderErr("✗")
	default:
		return "?"
	}
}
