package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor)

	incomingStyle = lipgloss.NewStyle().Foreground(cyanColor)
	outgoingStyle = lipgloss.NewStyle().Foreground(primaryColor)
)

func (a *App) renderTaskDetail(height int) string {
	if a.currentTask == nil {
		return "\n  " + a.spinner.View() + " Loading...\n"
	}

	t := a.currentTask
	var lines []string
	lines = append(lines,
		"  "+lipgloss.NewStyle().Bold(true).Render(t.Name),
		fmt.Sprintf("  %s %s", labelStyle.Render("Status:"), formatStatus(t.Status)),
		fmt.Sprintf("  %s %s", labelStyle.Render("Started:"), t.CreatedAt.Local().Format("2006-01-02 15:04:05")),
	)
	if t.EndedAt != nil {
		lines = append(lines, fmt.Sprintf("  %s %s", labelStyle.Render("Ended:"), t.EndedAt.Local().Format("2006-01-02 15:04:05")))
	}
	if t.Dir != "" {
		lines = append(lines, fmt.Sprintf("  %s %s", labelStyle.Render("Directory:"), t.Dir))
	}

	failed := 0
	for _, st := range t.Stages {
		if st.State == "Failed" {
			failed++
		}
	}
	lines = append(lines, fmt.Sprintf("  %s %d (%d failed)", labelStyle.Render("Stages:"), len(t.Stages), failed))

	lines = append(lines, "", "  "+sectionStyle.Render("Transcript"))
	header := len(lines)
	if len(t.Log) == 0 {
		lines = append(lines, helpStyle.Render("    nothing recorded"))
	}
	for _, l := range t.Log {
		arrow := labelStyle.Render("·")
		switch l.Direction {
		case "Incoming":
			arrow = incomingStyle.Render("◀")
		case "Outgoing":
			arrow = outgoingStyle.Render("▶")
		}
		lines = append(lines, fmt.Sprintf("    %s %s %s", labelStyle.Render(l.Timestamp.Local().Format("15:04:05")), arrow, l.Content))
	}

	// Keep the newest transcript lines when the screen is short.
	if keep := height - header; len(lines) > height && keep > 0 {
		lines = append(lines[:header:header], lines[len(lines)-keep:]...)
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}
