package feed

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/v0dev/v0core/internal/opstate"
)

// Color palette, Ayu-derived (this module carries no separate ui package,
// so the hex values are inlined directly).
var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#7fd962"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e6b673", Dark: "#e6b450"}
	colorError   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f26d78"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#787b80", Dark: "#5c6773"}
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
)

func phaseStyle(p opstate.Phase) lipgloss.Style {
	switch p {
	case opstate.PhaseMerged:
		return lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	case opstate.PhaseFailed, opstate.PhaseConflict:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	case opstate.PhaseInterrupted, opstate.PhaseCancelled:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Foreground(colorPrimary)
	}
}

func renderRow(r Row) string {
	held := ""
	if r.Held {
		held = dimStyle.Render(" [held]")
	}
	queue := ""
	if r.QueueStatus != "" {
		queue = dimStyle.Render(fmt.Sprintf(" queue=%s", r.QueueStatus))
	}
	return fmt.Sprintf("  %s %s%s%s", nameStyle.Render(r.Name), phaseStyle(r.Phase).Render(string(r.Phase)), queue, held)
}
