// Package ui holds the terminal styling helpers shared by the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	headStyle   = lipgloss.NewStyle().Bold(true)
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	delStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles failures.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles highlighted values such as branch names and hashes.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }

// RenderHeader styles section headers.
func RenderHeader(s string) string { return headStyle.Render(s) }

// RenderAdded styles additions in change summaries.
func RenderAdded(s string) string { return addStyle.Render(s) }

// RenderDeleted styles deletions in change summaries.
func RenderDeleted(s string) string { return delStyle.Render(s) }
