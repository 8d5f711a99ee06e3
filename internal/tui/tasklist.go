package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusIdle    = lipgloss.NewStyle().Foreground(mutedColor)
	statusBusy    = lipgloss.NewStyle().Foreground(warningColor)
	statusActive  = lipgloss.NewStyle().Foreground(cyanColor)
	statusGood    = lipgloss.NewStyle().Foreground(successColor)
	statusBad     = lipgloss.NewStyle().Foreground(errorColor)
	statusPending = lipgloss.NewStyle().Foreground(secondaryColor)
)

// formatStatus colors any task, stage, device or service status.
func formatStatus(status string) string {
	switch status {
	case "Running", "Ok", "Connected", "Succeeded":
		return statusGood.Render("● " + status)
	case "Initializing", "Checking", "Stopping", "Warning":
		return statusBusy.Render("◐ " + status)
	case "Pending":
		return statusPending.Render("○ " + status)
	case "Terminated", "Cancelled", "Disconnected", "Idle":
		return statusIdle.Render("○ " + status)
	case "Error", "Failed":
		return statusBad.Render("✗ " + status)
	case "Unknown", "":
		return statusIdle.Render("? Unknown")
	default:
		return statusActive.Render(status)
	}
}

func (a *App) renderTaskList(height int) string {
	if a.loading {
		return "\n  " + a.spinner.View() + " Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks yet. Type: /start <mode> to begin.\n"
	}

	var lines []string
	for i, task := range a.tasks {
		started := task.CreatedAt.Local().Format("2006-01-02 15:04")
		label := fmt.Sprintf("%s  %-24s %s", started, task.Mode, formatStatus(task.Status))
		if task.IsSimulation {
			label += helpStyle.Render("  practice")
		}
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+label))
		} else {
			lines = append(lines, taskItemStyle.Render("  "+label))
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := max(a.selectedIdx-height/2, 0)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}
