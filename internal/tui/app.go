// Package tui provides the interactive terminal status console for ElfRadio.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// maxLogLines bounds the live event log.
const maxLogLines = 500

// statusRefreshInterval is how often /api/status is polled as a fallback
// to the event stream.
const statusRefreshInterval = 5 * time.Second

type view string

const (
	viewLive    view = "live"
	viewHistory view = "history"
	viewDetail  view = "detail"
)

// App is the main TUI application model.
type App struct {
	client *Client
	stream *events.Client

	input       textinput.Model
	viewport    viewport.Model
	spinner     spinner.Model
	suggestions *Suggestions
	width       int
	height      int
	view        view

	daemonOnline bool
	streamState  events.ConnState
	status       *StatusView
	hardware     map[string]string
	services     map[models.EventType]string
	network      string
	logLines     []string

	tasks       []TaskItem
	selectedIdx int
	currentTask *TaskDetail

	message string
	loading bool
}

// New creates a new TUI application talking to the daemon at apiAddr.
func New(apiAddr, token string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type / for commands, ! for phrases, @ for past tasks"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(cyanColor)

	client := NewClient(apiAddr, token)
	return &App{
		client: client,
		stream: events.NewClient(client.EventsURL(), events.ClientOptions{
			Token:      token,
			Backoff:    time.Second,
			MaxBackoff: 15 * time.Second,
		}),
		input:       ti,
		viewport:    viewport.New(80, 20),
		spinner:     sp,
		suggestions: NewSuggestions(),
		view:        viewLive,
		streamState: events.StateDisconnected,
		hardware:    make(map[string]string),
		services:    make(map[models.EventType]string),
		network:     string(models.ConnUnknown),
	}
}

// Run starts the TUI application and the event stream.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.stream.OnStateChange(func(s events.ConnState) { p.Send(streamStateMsg{s}) })
	go a.stream.Run(ctx, func(ev models.StatusEvent) { p.Send(eventMsg{ev}) })

	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.spinner.Tick,
		a.fetchStatus(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			switch a.view {
			case viewDetail:
				a.view = viewHistory
				a.currentTask = nil
				return a, nil
			case viewHistory:
				a.view = viewLive
				return a, nil
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
				return a, nil
			} else if a.view == viewHistory && a.selectedIdx > 0 {
				a.selectedIdx--
				return a, nil
			}

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
				return a, nil
			} else if a.view == viewHistory && a.selectedIdx < len(a.tasks)-1 {
				a.selectedIdx++
				return a, nil
			}

		case "pgup", "pgdown":
			if a.view == viewLive {
				var cmd tea.Cmd
				a.viewport, cmd = a.viewport.Update(msg)
				return a, cmd
			}

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(cmd)
			} else if a.view == viewHistory && len(a.tasks) > 0 {
				a.view = viewDetail
				return a, a.fetchTaskDetail(a.tasks[a.selectedIdx].ID)
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-12, 3)
		a.refreshViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case statusLoadedMsg:
		a.daemonOnline = true
		a.status = msg.status
		for k, v := range msg.status.Hardware {
			a.hardware[k] = v
		}
		if msg.status.Network != "" {
			a.network = msg.status.Network
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.currentTask = msg.task

	case eventMsg:
		if refresh := a.applyEvent(msg.event); refresh {
			cmds = append(cmds, a.fetchStatus())
		}

	case streamStateMsg:
		a.streamState = msg.state

	case tickMsg:
		return a, tea.Batch(a.fetchStatus(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		cmds = append(cmds, a.fetchStatus())
		if a.view == viewHistory {
			cmds = append(cmds, a.fetchTasks())
		}

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		a.suggestions.SetTasks(a.tasks)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	selected := a.suggestions.Selected()
	if selected == nil {
		return
	}
	switch selected.Type {
	case "task":
		a.input.SetValue("@" + selected.Text)
	default:
		a.input.SetValue("/" + selected.Text + " ")
	}
	a.input.CursorEnd()
	a.suggestions.Update("")
}

// applyEvent folds one status event into the model. It reports whether the
// status snapshot should be refetched.
func (a *App) applyEvent(ev models.StatusEvent) bool {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := lipgloss.NewStyle().Foreground(mutedColor).Render(ts.Format("15:04:05"))

	var line string
	refresh := false
	switch p := ev.Payload.(type) {
	case models.StatusPayload:
		switch ev.Type {
		case models.EventRadioStatus, models.EventSdrStatus:
			kind, _, _ := strings.Cut(p.Message, ":")
			if kind != "" {
				a.hardware[kind] = p.Status
			}
		case models.EventNetwork:
			a.network = p.Status
		default:
			a.services[ev.Type] = p.Status
		}
		line = fmt.Sprintf("%s %s %s", ev.Type, formatStatus(p.Status), p.Message)
	case models.LogPayload:
		line = fmt.Sprintf("%s %s", levelStyle(p.Level).Render(strings.ToUpper(p.Level)), p.Message)
	case models.TaskStatePayload:
		line = fmt.Sprintf("Task %s %s", p.Mode, formatStatus(string(p.Status)))
		refresh = true
	case models.StagePayload:
		line = fmt.Sprintf("%s %s %s", p.Direction, p.Stage, formatStatus(string(p.State)))
		if p.Reason != "" {
			line += " (" + p.Reason + ")"
		}
	default:
		return false
	}

	a.logLines = append(a.logLines, stamp+" "+line)
	if len(a.logLines) > maxLogLines {
		a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
	}
	a.refreshViewport()
	return refresh
}

func (a *App) refreshViewport() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(strings.Join(a.logLines, "\n"))
	if atBottom {
		a.viewport.GotoBottom()
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.renderHeader() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	contentHeight := max(a.height-10, 5)
	switch a.view {
	case viewLive:
		b.WriteString(a.renderLive())
	case viewHistory:
		b.WriteString(a.renderTaskList(contentHeight))
	case viewDetail:
		b.WriteString(a.renderTaskDetail(contentHeight))
	}

	// Message bar
	b.WriteString("\n")
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.view {
	case viewLive:
		status = " /start <mode> | /send <text> | /stop | /history | PgUp/PgDn:scroll | Ctrl+C:quit"
	case viewHistory:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | Esc:back", len(a.tasks))
	default:
		status = " Esc:back | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

func (a *App) renderHeader() string {
	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	stream := onlineStyle.Render("● EVENTS")
	switch a.streamState {
	case events.StateConnecting:
		stream = a.spinner.View() + lipgloss.NewStyle().Foreground(warningColor).Render("EVENTS")
	case events.StateDisconnected:
		stream = offlineStyle.Render("○ EVENTS")
	}

	task := lipgloss.NewStyle().Foreground(mutedColor).Render("idle")
	if a.status != nil && a.status.Task != nil {
		task = fmt.Sprintf("%s %s", a.status.Task.Mode, formatStatus(a.status.Task.Status))
	}

	return titleStyle.Render("ElfRadio") + "  " + daemon + "  " + stream + "  " + task
}

func (a *App) renderLive() string {
	var b strings.Builder

	var devices []string
	for _, k := range models.AllLeaseKinds {
		st := a.hardware[string(k)]
		if st == "" {
			st = string(models.ConnUnknown)
		}
		devices = append(devices, fmt.Sprintf("%s %s", k, formatStatus(st)))
	}
	b.WriteString("  " + strings.Join(devices, "  ") + "\n")

	services := []string{fmt.Sprintf("NET %s", formatStatus(a.network))}
	for _, svc := range []struct {
		label string
		ev    models.EventType
	}{
		{"LLM", models.EventLlmStatus},
		{"STT", models.EventSttStatus},
		{"TTS", models.EventTtsStatus},
		{"TR", models.EventTranslate},
	} {
		st := a.services[svc.ev]
		if st == "" {
			st = string(models.HealthUnknown)
		}
		services = append(services, fmt.Sprintf("%s %s", svc.label, formatStatus(st)))
	}
	b.WriteString("  " + strings.Join(services, "  ") + "\n\n")

	if len(a.logLines) == 0 {
		b.WriteString(helpStyle.Render("  Waiting for events...") + "\n")
		return b.String()
	}
	b.WriteString(a.viewport.View())
	return b.String()
}

func (a *App) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := a.client.Status()
		if err != nil {
			return daemonStatusMsg{online: false}
		}
		return statusLoadedMsg{st}
	}
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(100)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		return taskDetailLoadedMsg{task}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(statusRefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) executeCommand(input string) tea.Cmd {
	if strings.HasPrefix(input, "@") {
		name := strings.TrimPrefix(input, "@")
		for _, t := range a.tasks {
			if t.Name == name {
				a.view = viewDetail
				return a.fetchTaskDetail(t.ID)
			}
		}
		return func() tea.Msg { return commandResultMsg{"Error: unknown task " + name} }
	}

	input = strings.TrimPrefix(input, "/")
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "history":
		a.view = viewHistory
		return a.fetchTasks()
	case "status":
		a.view = viewLive
		return a.fetchStatus()
	case "clear":
		a.logLines = nil
		a.refreshViewport()
		return nil
	case "refresh":
		if a.view == viewHistory {
			return tea.Batch(a.fetchStatus(), a.fetchTasks())
		}
		return a.fetchStatus()
	case "q", "quit", "exit":
		return tea.Quit
	}

	return func() tea.Msg {
		switch cmd {
		case "start":
			if rest == "" {
				return commandResultMsg{"Usage: start <mode>"}
			}
			_, name, err := a.client.StartTask(rest)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Started " + name}

		case "stop":
			if err := a.client.StopTask(); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Stopping"}

		case "send":
			if rest == "" {
				return commandResultMsg{"Usage: send <text>"}
			}
			if err := a.client.SendText(rest); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Queued: " + rest}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: start, send, stop, history)", cmd)}
		}
	}
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return lipgloss.NewStyle().Foreground(errorColor)
	case "warning", "warn":
		return lipgloss.NewStyle().Foreground(warningColor)
	case "debug", "trace":
		return lipgloss.NewStyle().Foreground(mutedColor)
	default:
		return lipgloss.NewStyle().Foreground(cyanColor)
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type statusLoadedMsg struct {
	status *StatusView
}

type daemonStatusMsg struct {
	online bool
}

type tasksLoadedMsg struct {
	tasks []TaskItem
}

type taskDetailLoadedMsg struct {
	task *TaskDetail
}

type eventMsg struct {
	event models.StatusEvent
}

type streamStateMsg struct {
	state events.ConnState
}

type tickMsg time.Time
