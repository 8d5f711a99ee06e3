// Package registry owns the single active task of the process.
package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elfradio/elfradio/internal/audit"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/session"
	"github.com/elfradio/elfradio/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConfigSource yields the configuration snapshot for a new task.
type ConfigSource interface {
	Snapshot() (*config.Config, error)
}

// TaskStore records the task lifecycle.
type TaskStore interface {
	CreateTask(task *models.Task) error
	UpdateTaskStatus(id string, status models.TaskStatus) error
	EndTask(id string, endedAt time.Time) error
}

// Devices are the per-task device handles.
type Devices struct {
	PTT    hardware.PTTDriver
	Sink   hardware.AudioSink
	Source hardware.AudioSource
}

// DeviceFactory opens the devices a task will drive.
type DeviceFactory func(task *models.Task, cfg *config.Config) (Devices, error)

// GatewayFactory builds the AI gateway from a config snapshot.
type GatewayFactory func(cfg *config.Config) session.Gateway

// Options wires a registry.
type Options struct {
	Config    ConfigSource
	Store     TaskStore
	Persister store.Persister
	Audit     audit.Recorder
	Hardware  *hardware.Manager
	Publisher events.Publisher
	Logger    *logrus.Logger
	Devices   DeviceFactory
	Gateway   GatewayFactory
	Clock     session.Clock
}

// Registry enforces that at most one task is active.
type Registry struct {
	opts Options

	mu     sync.Mutex
	active *session.Session
	wg     sync.WaitGroup
}

// New creates a registry.
func New(opts Options) *Registry {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = session.SystemClock
	}
	return &Registry{opts: opts}
}

// Start allocates a task for mode and runs it asynchronously. It returns
// without waiting for hardware acquisition.
func (r *Registry) Start(mode models.TaskMode) (*models.Task, error) {
	task, err := r.start(mode)
	inputs := map[string]string{"mode": string(mode)}
	if err != nil {
		r.record(audit.ActionTaskStart, inputs, audit.OutcomeError, "", err.Error())
		return nil, err
	}
	r.record(audit.ActionTaskStart, inputs, audit.OutcomeOK, task.ID, task.Name)
	return task, nil
}

func (r *Registry) start(mode models.TaskMode) (*models.Task, error) {
	if _, err := models.ParseTaskMode(string(mode)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, models.ErrAlreadyRunning
	}

	cfg, err := r.opts.Config.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	now := r.opts.Clock.Now().UTC()
	id := uuid.New().String()
	name := models.TaskName(mode, id, now)
	task := &models.Task{
		ID:           id,
		Name:         name,
		Mode:         mode,
		Status:       models.TaskStatusInitializing,
		Dir:          filepath.Join(cfg.General.TasksBaseDirectory, name),
		IsSimulation: mode.IsSimulation(),
		CreatedAt:    now,
	}
	if err := os.MkdirAll(task.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	if r.opts.Store != nil {
		if err := r.opts.Store.CreateTask(task); err != nil {
			return nil, err
		}
	}

	devs, err := r.opts.Devices(task, cfg)
	if err != nil {
		r.endTask(task.ID)
		return nil, fmt.Errorf("open devices: %w", err)
	}

	logger := r.opts.Logger.WithField("task_id", task.ID)
	s := session.New(*task, cfg, session.Deps{
		Gateway:   r.opts.Gateway(cfg),
		Hardware:  r.opts.Hardware,
		PTT:       devs.PTT,
		Sink:      devs.Sink,
		Source:    devs.Source,
		Publisher: r.opts.Publisher,
		Persister: r.opts.Persister,
		Logger:    r.opts.Logger,
		Clock:     r.opts.Clock,
		OnStatus: func(status models.TaskStatus) {
			if r.opts.Store == nil || status == models.TaskStatusTerminated {
				return
			}
			if err := r.opts.Store.UpdateTaskStatus(task.ID, status); err != nil {
				logger.WithError(err).Warn("Failed to record task status")
			}
		},
	})
	r.active = s

	r.wg.Add(1)
	go r.run(s, devs)
	return task, nil
}

func (r *Registry) run(s *session.Session, devs Devices) {
	defer r.wg.Done()
	logger := r.opts.Logger.WithField("task_id", s.ID())

	if err := s.Run(context.Background()); err != nil {
		logger.WithError(err).Warn("Task ended with error")
	}

	// The task is Terminated; the registry is idle from here on.
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()

	devs.close(logger)
	r.endTask(s.ID())
}

// close releases the device handles. PTT was already deasserted by the
// session.
func (d Devices) close(logger *logrus.Entry) {
	if d.PTT != nil {
		if err := d.PTT.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close PTT")
		}
	}
	for name, dev := range map[string]interface{}{"audio output": d.Sink, "audio input": d.Source} {
		if c, ok := dev.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.WithError(err).Warnf("Failed to close %s", name)
			}
		}
	}
}

func (r *Registry) endTask(id string) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.EndTask(id, r.opts.Clock.Now().UTC()); err != nil {
		r.opts.Logger.WithError(err).WithField("task_id", id).Warn("Failed to record task end")
	}
}

// Stop asks the active task to shut down. Stopping a task that is already
// stopping succeeds.
func (r *Registry) Stop() error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if s == nil {
		r.record(audit.ActionTaskStop, nil, audit.OutcomeError, "", models.ErrNoActiveTask.Error())
		return models.ErrNoActiveTask
	}
	s.Stop()
	r.record(audit.ActionTaskStop, nil, audit.OutcomeOK, s.ID(), "")
	return nil
}

// Current returns the active task snapshot, or nil when idle.
func (r *Registry) Current() *models.TaskSnapshot {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	snap := s.Snapshot()
	return &snap
}

// SendText queues text on the active task.
func (r *Registry) SendText(text string) error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	inputs := map[string]string{"text": text}
	if s == nil {
		r.record(audit.ActionSendText, inputs, audit.OutcomeError, "", models.ErrNoActiveTask.Error())
		return models.ErrNoActiveTask
	}
	if err := s.SendText(text); err != nil {
		r.record(audit.ActionSendText, inputs, audit.OutcomeError, s.ID(), err.Error())
		return err
	}
	r.record(audit.ActionSendText, inputs, audit.OutcomeOK, s.ID(), "")
	return nil
}

// Wait blocks until every started task has terminated.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown stops the active task and waits for it, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s != nil {
		s.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) record(action string, inputs interface{}, outcome, taskID, details string) {
	if r.opts.Audit == nil {
		return
	}
	if _, err := r.opts.Audit.Record(action, inputs, outcome, taskID, details); err != nil {
		r.opts.Logger.WithError(err).WithField("action", action).Warn("Failed to write decision record")
	}
}
