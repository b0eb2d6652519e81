// Package ui renders terminal output for the todosync CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	renderer = newRenderer()

	accentStyle = renderer.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = renderer.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = renderer.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = renderer.NewStyle().Foreground(lipgloss.Color("8"))
)

// newRenderer colors stdout only when it is a terminal and NO_COLOR is unset.
func newRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	if !IsTerminal(os.Stdout) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderAccent renders headings and progress markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary detail such as remote ids.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
