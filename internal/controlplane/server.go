package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elfradio/elfradio/internal/auth"
	"github.com/sirupsen/logrus"
)

// Version is reported by /api/health. Overridden at build time.
var Version = "0.1.0-dev"

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr string
	// Token, when set, is required as a bearer token on every route but
	// /api/health.
	Token string
	// Events serves /ws. Nil disables the route.
	Events http.Handler
	Logger *logrus.Logger
}

// Server provides the HTTP API for ElfRadio.
type Server struct {
	service *Service
	opts    ServerOptions
	logger  *logrus.Logger
	server  *http.Server
	handler http.Handler
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		service: service,
		opts:    opts,
		logger:  logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/health", s.handleHealth)

	// Task control
	mux.HandleFunc("/api/start_task", s.handleStartTask)
	mux.HandleFunc("/api/stop_task", s.handleStopTask)
	mux.HandleFunc("/api/send_text", s.handleSendText)
	mux.HandleFunc("/api/status", s.handleStatus)

	// Task history
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/update", s.handleConfigUpdate)

	if s.opts.Events != nil {
		mux.Handle("/ws", s.opts.Events)
	}

	return s.authenticate(mux)
}

// authenticate rejects requests without the configured token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			if err := auth.Check(r, s.opts.Token); err != nil {
				writeError(w, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.handler,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /ws and exports are long-lived.
	}

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting ElfRadio API")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return false
	}
	return true
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", ErrInvalidRequest)
	}
	return nil
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.CheckDB(ctx); err != nil {
		resp.OK = false
		resp.DB = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Task Handlers ---

type startTaskRequest struct {
	Mode string `json:"mode"`
}

type startTaskResponse struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req startTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.service.StartTask(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startTaskResponse{TaskID: task.ID, TaskName: task.Name})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StopTask(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

type sendTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req sendTextRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.SendText(req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleTasks handles GET /api/tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: bad limit", ErrInvalidRequest))
			return
		}
		limit = n
	}
	tasks, err := s.service.ListTasks(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskByID handles /api/tasks/{id} and /api/tasks/{id}/export
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		writeError(w, fmt.Errorf("%w: task id required", ErrInvalidRequest))
		return
	}
	if !allow(w, r, http.MethodGet) {
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && len(parts) == 1:
		s.getTask(w, taskID)
	case action == "export" && len(parts) == 2:
		s.exportTask(w, taskID)
	default:
		writeError(w, ErrNotFound)
	}
}

func (s *Server) getTask(w http.ResponseWriter, taskID string) {
	task, err := s.service.GetTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) exportTask(w http.ResponseWriter, taskID string) {
	task, err := s.service.FindTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportName(task)))
	if err := s.service.ExportTask(w, task); err != nil {
		// Headers are gone; the client sees a truncated archive.
		s.logger.WithError(err).WithField("task_id", taskID).Error("Task export failed")
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	cfg, err := s.service.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var updates map[string]interface{}
	if err := decode(r, &updates); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.UpdateConfig(updates); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("keys", len(updates)).Info("Configuration updated, applies from the next task")
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
