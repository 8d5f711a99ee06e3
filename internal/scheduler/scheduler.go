package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once as soon as the scheduler starts.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	ActiveWorkers int            `json:"active_workers"`
	GlobalMax     int            `json:"global_max"`
	Runs          map[string]int `json:"runs"`
	Failures      map[string]int `json:"failures"`
	Skipped       map[string]int `json:"skipped"`
}

// Scheduler dispatches periodic jobs onto workers. A job never overlaps
// with itself; a tick that finds the previous run still going is skipped.
type Scheduler struct {
	config *Config
	logger *logrus.Logger
	jobs   []Job

	// Worker pool state
	mu            sync.Mutex
	activeWorkers int
	running       map[string]bool
	runs          map[string]int
	failures      map[string]int
	skipped       map[string]int
	started       bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(cfg *Config, logger *logrus.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GlobalMax <= 0 {
		cfg.GlobalMax = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:   cfg,
		logger:   logger,
		running:  make(map[string]bool),
		runs:     make(map[string]int),
		failures: make(map[string]int),
		skipped:  make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers a job. Jobs added after Start are ignored.
func (sch *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return errors.New("scheduler: job interval must be positive")
	}
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.started {
		return errors.New("scheduler: already started")
	}
	sch.jobs = append(sch.jobs, job)
	return nil
}

// Start begins one ticker loop per job.
func (sch *Scheduler) Start() {
	sch.mu.Lock()
	sch.started = true
	jobs := append([]Job(nil), sch.jobs...)
	sch.mu.Unlock()

	for _, job := range jobs {
		sch.wg.Add(1)
		go sch.jobLoop(job)
	}
	sch.logger.WithField("jobs", len(jobs)).Info("Scheduler started")
}

// Stop cancels in-flight runs and waits for every worker to exit.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("Scheduler stopped")
}

func (sch *Scheduler) jobLoop(job Job) {
	defer sch.wg.Done()

	if job.Immediate {
		sch.dispatch(job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.dispatch(job)
		}
	}
}

// dispatch starts a worker for job if there is capacity.
func (sch *Scheduler) dispatch(job Job) {
	sch.mu.Lock()
	if sch.ctx.Err() != nil {
		sch.mu.Unlock()
		return
	}
	if sch.running[job.Name] || sch.activeWorkers >= sch.config.GlobalMax {
		sch.skipped[job.Name]++
		sch.mu.Unlock()
		sch.logger.WithField("job", job.Name).Debug("Job still running, tick skipped")
		return
	}
	sch.running[job.Name] = true
	sch.activeWorkers++
	sch.wg.Add(1)
	sch.mu.Unlock()

	go sch.runWorker(job)
}

func (sch *Scheduler) runWorker(job Job) {
	defer sch.wg.Done()

	err := job.Run(sch.ctx)

	sch.mu.Lock()
	sch.activeWorkers--
	delete(sch.running, job.Name)
	sch.runs[job.Name]++
	if err != nil && !errors.Is(err, context.Canceled) {
		sch.failures[job.Name]++
	}
	sch.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		sch.logger.WithError(err).WithField("job", job.Name).Warn("Job failed")
	}
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	return Stats{
		ActiveWorkers: sch.activeWorkers,
		GlobalMax:     sch.config.GlobalMax,
		Runs:          copyCounts(sch.runs),
		Failures:      copyCounts(sch.failures),
		Skipped:       copyCounts(sch.skipped),
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
