// Package controlplane provides the HTTP API and service layer for ElfRadio.
package controlplane

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/netmon"
	"github.com/elfradio/elfradio/internal/registry"
	"github.com/elfradio/elfradio/internal/store"
)

// defaultListLimit bounds GET /api/tasks.
const defaultListLimit = 50

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Task     *models.TaskSnapshot                         `json:"task"`
	State    models.TaskStatus                            `json:"state"`
	Hardware map[models.LeaseKind]models.ConnectionStatus `json:"hardware"`
	Network  models.ConnectionStatus                      `json:"network"`
}

// TaskDetail is a past or current task with its transcript.
type TaskDetail struct {
	models.Task
	Log    []models.LogEntry    `json:"log"`
	Stages []models.StageRecord `json:"stages"`
}

// Service provides the control plane business logic.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	hardware *hardware.Manager
	config   registry.ConfigSource
	network  *netmon.Monitor
}

// NewService creates a new control plane service. network may be nil.
func NewService(reg *registry.Registry, st *store.Store, hw *hardware.Manager, cfg registry.ConfigSource, network *netmon.Monitor) *Service {
	return &Service{
		registry: reg,
		store:    st,
		hardware: hw,
		config:   cfg,
		network:  network,
	}
}

// --- Task Operations ---

// StartTask starts a task in the given mode.
func (s *Service) StartTask(mode string) (*models.Task, error) {
	m, err := models.ParseTaskMode(strings.TrimSpace(mode))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.registry.Start(m)
}

// StopTask asks the active task to stop.
func (s *Service) StopTask() error {
	return s.registry.Stop()
}

// SendText queues text for transmission on the active task.
func (s *Service) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidRequest)
	}
	return s.registry.SendText(text)
}

// Status reports the active task and device health.
func (s *Service) Status() StatusResponse {
	resp := StatusResponse{
		Task:     s.registry.Current(),
		State:    models.TaskStatusIdle,
		Hardware: s.hardware.Statuses(),
		Network:  models.ConnUnknown,
	}
	if resp.Task != nil {
		resp.State = resp.Task.Status
	}
	if s.network != nil {
		resp.Network, _ = s.network.Status()
	}
	return resp
}

// ListTasks returns past and current tasks, newest first.
func (s *Service) ListTasks(limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListTasks(limit)
}

// GetTask returns one task with its transcript.
func (s *Service) GetTask(id string) (*TaskDetail, error) {
	task, err := s.FindTask(id)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogEntries(id)
	if err != nil {
		return nil, err
	}
	stages, err := s.store.ListStageRecords(id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	if stages == nil {
		stages = []models.StageRecord{}
	}
	return &TaskDetail{Task: *task, Log: logs, Stages: stages}, nil
}

// FindTask returns the stored task row without its transcript.
func (s *Service) FindTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, models.ErrTaskNotFound
	}
	return task, nil
}

// ExportTask writes the archive of task to w.
func (s *Service) ExportTask(w io.Writer, task *models.Task) error {
	return store.ExportTask(w, task.Dir)
}

// Config returns the current configuration with secrets masked.
func (s *Service) Config() (*config.Config, error) {
	cfg, err := s.config.Snapshot()
	if err != nil {
		return nil, err
	}
	return cfg.Masked(), nil
}

// ConfigUpdater persists configuration edits for future tasks.
type ConfigUpdater interface {
	Update(updates map[string]interface{}) error
}

// UpdateConfig saves updates for the next task. The running task keeps
// the snapshot it started with.
func (s *Service) UpdateConfig(updates map[string]interface{}) error {
	u, ok := s.config.(ConfigUpdater)
	if !ok {
		return fmt.Errorf("%w: configuration is read-only", ErrInvalidRequest)
	}
	return u.Update(updates)
}

// CheckDB reports whether the database is reachable.
func (s *Service) CheckDB(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ExportName is the download file name for a task archive.
func ExportName(task *models.Task) string {
	return task.Name + ".zip"
}
