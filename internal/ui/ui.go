// Package ui centralizes the lipgloss styles the CLI commands render with.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderErr renders error markers.
func RenderErr(s string) string { return errStyle.Render(s) }

// RenderAccent renders informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim renders de-emphasized detail text.
func RenderDim(s string) string { return dimStyle.Render(s) }
