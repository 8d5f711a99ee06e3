// Package session runs one task from lease acquisition to termination:
// the outgoing transmit queue, the receive listener and the AI pipelines
// between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/store"
	"github.com/elfradio/elfradio/internal/timing"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Gateway is the AI surface a session needs.
type Gateway interface {
	SpeechToText(ctx context.Context, audio ai.Audio, lang string) (string, error)
	Translate(ctx context.Context, text, targetLang string) (string, error)
	TextToSpeech(ctx context.Context, text, voice string) (ai.Audio, error)
	LlmChat(ctx context.Context, history []ai.Message, prompt string) (string, error)
	Supports(capability string) bool
}

// Deps are the collaborators of a session.
type Deps struct {
	Gateway   Gateway
	Hardware  *hardware.Manager
	PTT       hardware.PTTDriver
	Sink      hardware.AudioSink
	Source    hardware.AudioSource
	Publisher events.Publisher
	Persister store.Persister
	Logger    *logrus.Logger
	Clock     Clock
	// OnStatus is called after every lifecycle transition.
	OnStatus func(models.TaskStatus)
}

const (
	maxHistory    = 20
	incomingQueue = 16
)

// RequiredLeases returns the leases a mode holds for the task lifetime.
// PTT and AudioOut are taken per transmission.
func RequiredLeases(mode models.TaskMode) []models.LeaseKind {
	switch mode {
	case models.ModeAirbandListening:
		return []models.LeaseKind{models.LeaseSDR}
	case models.ModeSatelliteCommunication:
		return []models.LeaseKind{models.LeaseSDR, models.LeaseAudioIn}
	case models.ModeSimulatedQsoPractice:
		return nil
	default:
		return []models.LeaseKind{models.LeaseAudioIn}
	}
}

type incomingEvent struct {
	samples []int16
	rate    int
	text    string
}

// Session is the state machine of one task.
type Session struct {
	task   models.Task
	cfg    *config.Config
	policy timing.Policy
	deps   Deps
	logger *logrus.Entry

	mu     sync.RWMutex
	status models.TaskStatus
	leases []*hardware.Lease

	queue    *txQueue
	incoming chan incomingEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	transmitting atomic.Bool

	// Owned by the outgoing worker.
	lastTxEnded   time.Time
	lastAddressed time.Time
	txMu          sync.Mutex

	// Owned by the incoming worker.
	history []ai.Message
	rxCount atomic.Int64
}

// New creates a session for task with an immutable config snapshot.
func New(task models.Task, cfg *config.Config, deps Deps) *Session {
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	task.Status = models.TaskStatusInitializing
	return &Session{
		task:     task,
		cfg:      cfg,
		policy:   timing.NewPolicy(timing.FromConfig(cfg)),
		deps:     deps,
		logger:   deps.Logger.WithFields(logrus.Fields{"task_id": task.ID, "mode": task.Mode}),
		status:   models.TaskStatusInitializing,
		queue:    newTxQueue(),
		incoming: make(chan incomingEvent, incomingQueue),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the task id.
func (s *Session) ID() string { return s.task.ID }

// Task returns a copy of the task with its current status.
func (s *Session) Task() models.Task {
	t := s.task
	t.Status = s.Status()
	return t
}

// Status returns the lifecycle state.
func (s *Session) Status() models.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns the read-only view used for status reporting.
func (s *Session) Snapshot() models.TaskSnapshot {
	return models.TaskSnapshot{
		ID:        s.task.ID,
		Name:      s.task.Name,
		Mode:      s.task.Mode,
		Status:    s.Status(),
		CreatedAt: s.task.CreatedAt,
	}
}

// Done is closed once the session is Terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop requests a graceful shutdown. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// SendText queues a manual text transmission.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text must not be empty")
	}
	if err := s.checkTransmit(); err != nil {
		return err
	}
	// Reject up front when the next transmit would start immediately.
	if s.queue.len() == 0 && !s.transmitting.Load() {
		s.txMu.Lock()
		last := s.lastTxEnded
		s.txMu.Unlock()
		if err := s.policy.GuardBeforeTransmit(last, s.deps.Clock.Now()); err != nil {
			return err
		}
	}
	s.enqueue(models.TxItem{Kind: models.TxManualText, Text: text, Priority: models.PriorityNormal})
	return nil
}

// Enqueue queues an arbitrary outgoing item.
func (s *Session) Enqueue(item models.TxItem) error {
	if err := s.checkTransmit(); err != nil {
		return err
	}
	s.enqueue(item)
	return nil
}

func (s *Session) checkTransmit() error {
	if s.Status() != models.TaskStatusRunning {
		return models.ErrNotRunning
	}
	if !s.task.Mode.CanTransmit() {
		return models.ErrTransmitNotAllowed
	}
	return nil
}

func (s *Session) enqueue(item models.TxItem) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = s.deps.Clock.Now()
	}
	s.queue.push(item)
}

func (s *Session) setStatus(status models.TaskStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.deps.Publisher.Publish(models.NewTaskStateEvent(s.task.ID, s.task.Mode, status))
	s.persistLog(models.DirectionInternal, models.ContentStatus, "task "+string(status))
	if s.deps.OnStatus != nil {
		s.deps.OnStatus(status)
	}
}

// Run drives the task until it terminates. It returns the error that
// prevented start-up or forced the task to stop, nil on a requested stop.
func (s *Session) Run(ctx context.Context) (err error) {
	defer close(s.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.deps.Publisher.Publish(models.NewTaskStateEvent(s.task.ID, s.task.Mode, models.TaskStatusInitializing))
	s.logf(logrus.InfoLevel, "Task %s initializing", s.task.Name)

	// Stop requests during initialization abort lease acquisition.
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := s.acquireLeases(runCtx); err != nil {
		s.releaseLeases()
		s.logf(logrus.ErrorLevel, "Task start failed: %v", err)
		s.setStatus(models.TaskStatusTerminated)
		return err
	}
	s.setStatus(models.TaskStatusRunning)
	s.logf(logrus.InfoLevel, "Task %s running", s.task.Name)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.outgoingWorker(gctx) })
	g.Go(func() error { return s.incomingWorker(gctx) })
	if s.deps.Source != nil && len(RequiredLeases(s.task.Mode)) > 0 {
		g.Go(func() error { return s.listen(gctx) })
	}

	select {
	case <-s.stopCh:
	case <-gctx.Done():
	}
	s.setStatus(models.TaskStatusStopping)
	cancel()

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.logf(logrus.ErrorLevel, "Task stopped on fatal error: %v", err)
	}

	s.releaseLeases()
	if s.deps.Hardware != nil {
		if n := s.deps.Hardware.ReleaseAll(s.task.ID); n > 0 {
			s.logger.WithField("count", n).Warn("Released leases left behind by pipeline stages")
		}
	}
	if s.deps.PTT != nil && s.transmitting.Load() {
		s.deps.PTT.Deassert()
	}
	s.setStatus(models.TaskStatusTerminated)
	s.logf(logrus.InfoLevel, "Task %s terminated", s.task.Name)
	return err
}

func (s *Session) acquireLeases(ctx context.Context) error {
	for _, kind := range RequiredLeases(s.task.Mode) {
		l, err := s.acquire(ctx, kind)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", kind, err)
		}
		s.mu.Lock()
		s.leases = append(s.leases, l)
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) releaseLeases() {
	s.mu.Lock()
	leases := s.leases
	s.leases = nil
	s.mu.Unlock()
	for _, l := range leases {
		l.Release()
	}
}

// acquire returns a nil lease for simulated tasks, which never touch the
// shared hardware.
func (s *Session) acquire(ctx context.Context, kind models.LeaseKind) (*hardware.Lease, error) {
	if s.task.IsSimulation || s.deps.Hardware == nil {
		return nil, nil
	}
	timeout := time.Duration(s.cfg.Hardware.AcquireTimeoutMs) * time.Millisecond
	return s.deps.Hardware.Acquire(ctx, kind, s.task.ID, timeout)
}

// logf logs a task line and mirrors it as a Log event.
func (s *Session) logf(level logrus.Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Log(level, msg)
	s.deps.Publisher.Publish(models.NewLogEvent(level.String(), s.task.ID, msg))
}

func (s *Session) persistLog(dir models.Direction, ct models.ContentType, content string) {
	if s.deps.Persister == nil {
		return
	}
	s.deps.Persister.Offer(store.Record{Log: &models.LogEntry{
		TaskID:      s.task.ID,
		Timestamp:   s.deps.Clock.Now().UTC(),
		Direction:   dir,
		ContentType: ct,
		Content:     content,
	}})
}

func (s *Session) beginStage(runID string, kind models.StageKind, dir models.Direction) *models.PipelineStage {
	st := &models.PipelineStage{
		TaskID:    s.task.ID,
		RunID:     runID,
		Kind:      kind,
		Direction: dir,
		State:     models.StageRunning,
		StartedAt: s.deps.Clock.Now().UTC(),
	}
	s.deps.Publisher.Publish(models.NewStageEvent(st, ""))
	return st
}

// finishStage settles st from err, then broadcasts and persists it.
func (s *Session) finishStage(st *models.PipelineStage, err error, refs ...string) {
	now := s.deps.Clock.Now().UTC()
	var sf *models.StageFailedError
	switch {
	case err == nil:
		st.Succeed(now)
	case errors.As(err, &sf):
		st.Fail(sf.Reason, now)
	case errors.Is(err, context.Canceled):
		st.Cancel(now)
	case errors.Is(err, context.DeadlineExceeded):
		st.Fail(models.ReasonTimeout, now)
	default:
		st.Fail(err.Error(), now)
	}

	detail := ""
	if err != nil && st.State == models.StageFailed {
		detail = err.Error()
		s.logf(logrus.WarnLevel, "%s stage failed: %v", st.Kind, err)
	}
	s.deps.Publisher.Publish(models.NewStageEvent(st, detail))

	if s.deps.Persister != nil {
		var kept []string
		for _, r := range refs {
			if r != "" {
				kept = append(kept, r)
			}
		}
		rec := models.RecordOf(st, kept...)
		s.deps.Persister.Offer(store.Record{TaskDir: s.task.Dir, Stage: &rec})
	}
}

func (s *Session) appendHistory(msgs ...ai.Message) {
	s.history = append(s.history, msgs...)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}
