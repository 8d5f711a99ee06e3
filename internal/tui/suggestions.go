package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/elfradio/elfradio/internal/models"
)

// Suggestions provides autocomplete for commands
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/", "@", or "!"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "mode", "task", "phrase"
}

var commandSuggestions = []SuggestionItem{
	{Text: "start", Description: "Start a task in a mode", Type: "command"},
	{Text: "stop", Description: "Stop the active task", Type: "command"},
	{Text: "send", Description: "Transmit text on the active task", Type: "command"},
	{Text: "history", Description: "Browse past tasks", Type: "command"},
	{Text: "status", Description: "Back to the live status view", Type: "command"},
	{Text: "refresh", Description: "Reload status and history", Type: "command"},
	{Text: "clear", Description: "Clear the event log", Type: "command"},
	{Text: "quit", Description: "Leave the console", Type: "command"},
}

var phraseSuggestions = []SuggestionItem{
	{Text: "send CQ CQ CQ", Description: "General call", Type: "phrase"},
	{Text: "send QRZ?", Description: "Who is calling me?", Type: "phrase"},
	{Text: "send QSL, thanks for the contact", Description: "Confirm receipt", Type: "phrase"},
	{Text: "send 73", Description: "Best regards, signing off", Type: "phrase"},
}

var modeDescriptions = map[models.TaskMode]string{
	models.ModeGeneralCommunication:   "Voice QSO on a local radio",
	models.ModeAirbandListening:       "Receive-only SDR listening",
	models.ModeSatelliteCommunication: "Satellite pass with SDR receive",
	models.ModeEmergencyCommunication: "Emergency net operation",
	models.ModeMeshtasticGateway:      "Text gateway to a mesh network",
	models.ModeSimulatedQsoPractice:   "Practice QSO, no hardware",
}

func modeSuggestions() []SuggestionItem {
	items := make([]SuggestionItem, len(models.AllModes))
	for i, m := range models.AllModes {
		items[i] = SuggestionItem{Text: "start " + string(m), Description: modeDescriptions[m], Type: "mode"}
	}
	return items
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	s.currentInput = input
	if input == "" {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	switch input[0] {
	case '/':
		s.prefix = "/"
		query := strings.ToLower(strings.TrimPrefix(input, "/"))
		if strings.HasPrefix(query, "start ") {
			s.items = modeSuggestions()
		} else {
			s.items = commandSuggestions
		}
		s.visible = true
		s.filter(query)
	case '@':
		s.prefix = "@"
		// Task references are supplied by SetTasks.
		if len(s.items) > 0 && s.items[0].Type != "task" {
			s.items = []SuggestionItem{}
		}
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "@")))
	case '!':
		s.prefix = "!"
		s.items = phraseSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "!")))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}
}

// SetTasks updates the task reference suggestions
func (s *Suggestions) SetTasks(tasks []TaskItem) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, len(tasks))
	for i, t := range tasks {
		s.items[i] = SuggestionItem{
			Text:        t.Name,
			Description: fmt.Sprintf("%s, %s", t.Mode, t.Status),
			Type:        "task",
		}
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
}

func (s *Suggestions) filter(query string) {
	s.selectedIdx = 0
	if query == "" {
		s.filtered = s.items
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	selected := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)

	descStyle := lipgloss.NewStyle().
		Foreground(mutedColor).
		Italic(true)

	var header string
	switch s.prefix {
	case "/":
		header = "Commands"
	case "@":
		header = "Past tasks"
	case "!":
		header = "Phrases"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	maxVisible := 6
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}

		var line string
		if i == s.selectedIdx {
			line = selected.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selected.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
