package ui

import "github.com/charmbracelet/lipgloss"

// Palette: one teal accent over grays.
const (
	ColorAccent    = "37"  // teal
	ColorAccentDim = "30"  // dim teal for pending stages
	ColorGray      = "245" // labels
	ColorDarkGray  = "238" // borders, separators
	ColorRed       = "196"
	ColorYellow    = "220"
)

// Styles holds the lipgloss styles used by the TUI and status output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Stage   lipgloss.Style
	Active  lipgloss.Style
	Border  lipgloss.Style
	Label   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentDim)),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain,
		Dim: plain, Stage: plain, Active: plain, Border: plain, Label: plain,
	}
}

// GetStyles returns styles for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
