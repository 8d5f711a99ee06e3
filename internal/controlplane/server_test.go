package controlplane

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/audit"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/registry"
	"github.com/elfradio/elfradio/internal/session"
	"github.com/elfradio/elfradio/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Snapshot() (*config.Config, error) {
	cp := *s.cfg
	return &cp, nil
}

type speaker struct{}

func (speaker) TextToSpeech(ctx context.Context, text, voice string) (ai.Audio, error) {
	return ai.Audio{PCM: hardware.GenerateTones([]int{700}, 10, 16000), SampleRate: 16000}, nil
}

type testServer struct {
	server *Server
	store  *store.Store
	bus    *events.Bus
	reg    *registry.Registry
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.General.TasksBaseDirectory = filepath.Join(dir, "tasks")
	cfg.Timing.PTTPreDelayMs = 0
	cfg.Timing.PTTPostDelayMs = 0
	cfg.Security.APIToken = token
	cfg.AISettings.APIKey = "sk-live-secret"
	return newTestServerWith(t, token, staticConfig{cfg}, dir)
}

func newTestServerWith(t *testing.T, token string, src registry.ConfigSource, dir string) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(1024)
	mgr := hardware.NewManager(logger, bus)
	persister := store.NewAdapter(st, logger, 0)
	t.Cleanup(persister.Close)

	reg := registry.New(registry.Options{
		Config:    src,
		Store:     st,
		Persister: persister,
		Audit:     audit.NewDecisionWriter(st),
		Hardware:  mgr,
		Publisher: bus,
		Logger:    logger,
		Devices: func(task *models.Task, cfg *config.Config) (registry.Devices, error) {
			return registry.Devices{
				PTT:  hardware.NewSimulatedPTT(),
				Sink: hardware.NewPacedSink(task.Dir, 16000),
			}, nil
		},
		Gateway: func(cfg *config.Config) session.Gateway {
			return ai.NewGateway(ai.Providers{TTS: speaker{}}, ai.Options{Timeout: time.Second}, bus, logger)
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	service := NewService(reg, st, mgr, src, nil)
	server := NewServer(service, ServerOptions{
		Addr:   "127.0.0.1:0",
		Token:  token,
		Events: events.NewHub(bus, logger),
		Logger: logger,
	})
	return &testServer{server: server, store: st, bus: bus, reg: reg}
}

func (ts *testServer) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHealthEndpoint_OK(t *testing.T) {
	ts := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	ts.server.handleHealth(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.NotEmpty(t, health.Time)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	ts.server.handleHealth(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthEndpoint_DBError(t *testing.T) {
	ts := newTestServer(t, "")
	// Close the store to simulate DB error
	ts.store.Close()

	w := ts.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestBearerToken(t *testing.T) {
	ts := newTestServer(t, "tok")

	w := ts.do(t, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Error)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/status", "", "wrong").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/status", "", "tok").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/status?token=tok", "", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/health", "", "").Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(t, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var idle StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&idle))
	assert.Nil(t, idle.Task)
	assert.Equal(t, models.TaskStatusIdle, idle.State)
	assert.Len(t, idle.Hardware, len(models.AllLeaseKinds))

	w = ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"GeneralCommunication"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var started startTaskResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&started))
	assert.NotEmpty(t, started.TaskID)
	assert.True(t, strings.HasPrefix(started.TaskName, "GeneralCommunication_"))

	w = ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"AirbandListening"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrAlreadyRunning.Error(), decodeError(t, w).Error)

	require.Eventually(t, func() bool {
		var st StatusResponse
		w := ts.do(t, http.MethodGet, "/api/status", "", "")
		json.NewDecoder(w.Body).Decode(&st)
		return st.State == models.TaskStatusRunning && st.Task != nil && st.Task.ID == started.TaskID
	}, 5*time.Second, 5*time.Millisecond)

	w = ts.do(t, http.MethodPost, "/api/stop_task", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"stopping"}`, w.Body.String())

	require.Eventually(t, func() bool { return ts.reg.Current() == nil }, 5*time.Second, 5*time.Millisecond)
	ts.reg.Wait()
	w = ts.do(t, http.MethodPost, "/api/stop_task", "", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/tasks", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []models.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, started.TaskID, tasks[0].ID)

	w = ts.do(t, http.MethodGet, "/api/tasks/"+started.TaskID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail TaskDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
	assert.Equal(t, models.TaskStatusTerminated, detail.Status)
	assert.NotNil(t, detail.EndedAt)
}

func TestStartTaskValidation(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"Teleport"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/start_task", `not json`, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/start_task", "", "").Code)
}

func TestSendText(t *testing.T) {
	ts := newTestServer(t, "")
	ch, unsub := ts.bus.Subscribe()
	defer unsub()

	w := ts.do(t, http.MethodPost, "/api/send_text", `{"text":"hello"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"GeneralCommunication"}`, "").Code)
	require.Eventually(t, func() bool {
		cur := ts.reg.Current()
		return cur != nil && cur.Status == models.TaskStatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/send_text", `{"text":"  "}`, "").Code)

	w = ts.do(t, http.MethodPost, "/api/send_text", `{"text":"CQ CQ"}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())

	deadline := time.After(5 * time.Second)
	for transmitted := false; !transmitted; {
		select {
		case ev := <-ch:
			p, ok := ev.Payload.(models.StagePayload)
			transmitted = ok && p.Stage == models.StageTransmit && p.State == models.StageSucceeded
		case <-deadline:
			t.Fatal("transmit did not finish")
		}
	}

	// The default transmit interval is 60s.
	w = ts.do(t, http.MethodPost, "/api/send_text", `{"text":"again"}`, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Greater(t, decodeError(t, w).RetryAfterMs, int64(50000))
}

func TestSendTextRejectedInReceiveOnlyMode(t *testing.T) {
	ts := newTestServer(t, "")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"AirbandListening"}`, "").Code)
	require.Eventually(t, func() bool {
		cur := ts.reg.Current()
		return cur != nil && cur.Status == models.TaskStatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	w := ts.do(t, http.MethodPost, "/api/send_text", `{"text":"hello"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrTransmitNotAllowed.Error(), decodeError(t, w).Error)
}

func TestTaskNotFound(t *testing.T) {
	ts := newTestServer(t, "")
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/tasks/nope", "", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/tasks/nope/export", "", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/tasks/nope/other", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/tasks/", "", "").Code)
}

func TestExportTask(t *testing.T) {
	ts := newTestServer(t, "")
	task := &models.Task{
		ID:        "t-1",
		Name:      "GeneralCommunication_20240101_000000Z_abc",
		Mode:      models.ModeGeneralCommunication,
		Status:    models.TaskStatusTerminated,
		Dir:       t.TempDir(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, ts.store.CreateTask(task))

	w := ts.do(t, http.MethodGet, "/api/tasks/t-1/export", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), task.Name+".zip")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func TestConfigIsMasked(t *testing.T) {
	ts := newTestServer(t, "tok")

	w := ts.do(t, http.MethodGet, "/api/config", "", "tok")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "sk-live-secret")
	assert.NotContains(t, body, `"tok"`)
	assert.Contains(t, body, "********")
}

func TestConfigUpdateAppliesToNextTask(t *testing.T) {
	dir := t.TempDir()
	loader := config.NewLoader(dir)
	yml := "general:\n  tasks_base_directory: " + filepath.Join(dir, "tasks") + "\n" +
		"timing:\n  ptt_pre_delay_ms: 0\n  ptt_post_delay_ms: 0\n  tx_interval_s: 0\n"
	require.NoError(t, os.WriteFile(loader.Path(), []byte(yml), 0600))
	ts := newTestServerWith(t, "", loader, dir)

	ch, unsub := ts.bus.Subscribe()
	defer unsub()
	waitTransmitted := func() {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-ch:
				if p, ok := ev.Payload.(models.StagePayload); ok && p.Stage == models.StageTransmit && p.State == models.StageSucceeded {
					return
				}
			case <-deadline:
				t.Fatal("transmit did not finish")
			}
		}
	}
	waitRunning := func() {
		t.Helper()
		require.Eventually(t, func() bool {
			cur := ts.reg.Current()
			return cur != nil && cur.Status == models.TaskStatusRunning
		}, 5*time.Second, 5*time.Millisecond)
	}

	w := ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"SimulatedQsoPractice"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	waitRunning()

	w = ts.do(t, http.MethodPost, "/api/config/update", `{"timing":{"tx_interval_s":600}}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"saved"}`, w.Body.String())

	// The running task keeps its zero interval.
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/send_text", `{"text":"one"}`, "").Code)
	waitTransmitted()
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/send_text", `{"text":"two"}`, "").Code)
	waitTransmitted()

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/stop_task", "", "").Code)
	require.Eventually(t, func() bool { return ts.reg.Current() == nil }, 5*time.Second, 5*time.Millisecond)

	w = ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"SimulatedQsoPractice"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	waitRunning()
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/send_text", `{"text":"three"}`, "").Code)
	waitTransmitted()
	w = ts.do(t, http.MethodPost, "/api/send_text", `{"text":"four"}`, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Greater(t, decodeError(t, w).RetryAfterMs, int64(590000))

	saved, err := loader.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 600, saved.Timing.TxIntervalS)
}

func TestConfigUpdateValidation(t *testing.T) {
	dir := t.TempDir()
	ts := newTestServerWith(t, "", config.NewLoader(dir), dir)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/config/update", `{"hardware":{"ptt_signal":"cts"}}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/config/update", `not json`, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/config/update", "", "").Code)

	static := newTestServer(t, "")
	assert.Equal(t, http.StatusBadRequest, static.do(t, http.MethodPost, "/api/config/update", `{"timing":{"tx_interval_s":5}}`, "").Code)
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t, "tok")
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client := events.NewClient(url, events.ClientOptions{MaxRetries: 3, Backoff: 10 * time.Millisecond, Token: "tok"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan models.StatusEvent, 64)
	go client.Run(ctx, func(ev models.StatusEvent) {
		select {
		case got <- ev:
		default:
		}
	})
	require.Eventually(t, func() bool { return ts.bus.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/start_task", `{"mode":"SimulatedQsoPractice"}`, "tok").Code)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-got:
			if ev.Type == models.EventTaskState {
				return
			}
		case <-deadline:
			t.Fatal("no task state event over websocket")
		}
	}
}
