package tui

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestionsCommands(t *testing.T) {
	s := NewSuggestions()
	s.Update("/st")
	require.True(t, s.IsVisible())
	var texts []string
	for _, it := range s.filtered {
		texts = append(texts, it.Text)
	}
	assert.Equal(t, []string{"start", "stop", "history", "status"}, texts)

	s.Next()
	assert.Equal(t, "stop", s.Selected().Text)
	s.Prev()
	s.Prev()
	assert.Equal(t, "status", s.Selected().Text)

	s.Update("hello")
	assert.False(t, s.IsVisible())
	assert.Nil(t, s.Selected())
}

func TestSuggestionsModes(t *testing.T) {
	s := NewSuggestions()
	s.Update("/start sim")
	require.True(t, s.IsVisible())
	require.Len(t, s.filtered, 1)
	assert.Equal(t, "start SimulatedQsoPractice", s.Selected().Text)
	assert.Equal(t, "mode", s.Selected().Type)

	s.Update("/start ")
	assert.Len(t, s.filtered, len(models.AllModes))
}

func TestSuggestionsTasks(t *testing.T) {
	s := NewSuggestions()
	s.Update("@air")
	assert.False(t, s.IsVisible())

	s.SetTasks([]TaskItem{
		{ID: "1", Name: "AirbandListening_20240101_000000Z_a", Mode: "AirbandListening", Status: "Terminated"},
		{ID: "2", Name: "GeneralCommunication_20240101_000000Z_b", Mode: "GeneralCommunication", Status: "Terminated"},
	})
	require.True(t, s.IsVisible())
	assert.Equal(t, "AirbandListening_20240101_000000Z_a", s.Selected().Text)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/send_text":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "transmit too soon", "retry_after_ms": 1500})
		case "/api/start_task":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"a task is already running"}`))
		case "/api/status":
			w.Write([]byte(`{"task":{"id":"t1","name":"n","mode":"GeneralCommunication","status":"Running"},"state":"Running","hardware":{"PTT":"Connected"},"network":"Connected"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")

	err := c.SendText("hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int64(1500), apiErr.RetryAfterMs)
	assert.Contains(t, err.Error(), "retry in 1.5s")

	_, _, err = c.StartTask("GeneralCommunication")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "a task is already running", apiErr.Message)

	st, err := c.Status()
	require.NoError(t, err)
	require.NotNil(t, st.Task)
	assert.Equal(t, "Running", st.State)
	assert.Equal(t, "Connected", st.Hardware["PTT"])

	_, err = c.ListTasks(0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestEventsURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:5900/ws", NewClient("http://127.0.0.1:5900", "").EventsURL())
	assert.Equal(t, "wss://radio.example/ws", NewClient("https://radio.example/", "").EventsURL())
}

func TestApplyEvent(t *testing.T) {
	a := New("http://127.0.0.1:1", "")

	assert.False(t, a.applyEvent(models.NewConnEvent(models.EventRadioStatus, models.ConnError, "PTT: port gone")))
	assert.Equal(t, "Error", a.hardware["PTT"])

	a.applyEvent(models.NewConnEvent(models.EventSdrStatus, models.ConnConnected, "SDR"))
	assert.Equal(t, "Connected", a.hardware["SDR"])

	a.applyEvent(models.NewConnEvent(models.EventNetwork, models.ConnDisconnected, ""))
	assert.Equal(t, "Disconnected", a.network)

	a.applyEvent(models.NewHealthEvent(models.EventLlmStatus, models.HealthOk, ""))
	assert.Equal(t, "Ok", a.services[models.EventLlmStatus])

	assert.True(t, a.applyEvent(models.NewTaskStateEvent("t1", models.ModeGeneralCommunication, models.TaskStatusRunning)))
	a.applyEvent(models.NewLogEvent("info", "t1", "PTT asserted"))
	assert.Len(t, a.logLines, 6)
	assert.Contains(t, a.logLines[5], "PTT asserted")

	for i := 0; i < maxLogLines+10; i++ {
		a.applyEvent(models.NewLogEvent("debug", "t1", "tick"))
	}
	assert.Len(t, a.logLines, maxLogLines)
}

func TestLocalCommands(t *testing.T) {
	a := New("http://127.0.0.1:1", "")
	a.applyEvent(models.NewLogEvent("info", "", "hello"))

	assert.Nil(t, a.executeCommand("/clear"))
	assert.Empty(t, a.logLines)

	assert.NotNil(t, a.executeCommand("/history"))
	assert.Equal(t, viewHistory, a.view)
	assert.True(t, a.loading)

	a.Update(tasksLoadedMsg{tasks: []TaskItem{{ID: "x", Name: "GeneralCommunication_1"}}})
	assert.False(t, a.loading)

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Equal(t, viewLive, a.view)

	msg := a.executeCommand("/send")()
	assert.Equal(t, commandResultMsg{"Usage: send <text>"}, msg)

	msg = a.executeCommand("@missing")()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(res.message, "Error"))
}

func TestFormatStatus(t *testing.T) {
	for _, s := range []string{"Running", "Checking", "Pending", "Terminated", "Failed", "Unknown", "Custom"} {
		assert.Contains(t, formatStatus(s), s)
	}
	assert.Contains(t, formatStatus(""), "Unknown")
}
