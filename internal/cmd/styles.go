package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/samotage/claude-headspace-sub001/internal/ui"
)

// Color palette
var (
	colorLive  = lipgloss.Color("76")  // green
	colorDead  = lipgloss.Color("242") // gray
	colorWarn  = lipgloss.Color("214") // orange
	colorError = lipgloss.Color("196") // bright red
	colorTitle = lipgloss.Color("39")  // blue
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	liveStyle   = lipgloss.NewStyle().Foreground(colorLive)
	deadStyle   = lipgloss.NewStyle().Foreground(colorDead)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

func init() {
	// Plain output for pipes and NO_COLOR.
	if !ui.ShouldUseColor() {
		plain := lipgloss.NewStyle()
		headerStyle = plain
		liveStyle = plain
		deadStyle = plain
		warnStyle = plain
		errorStyle = plain
	}
}
