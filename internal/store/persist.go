package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
)

// JournalName is the per-task stage journal inside the task directory.
const JournalName = "events.jsonl"

// Record is one unit of work for the persistence adapter. Exactly one of
// Stage or Log is set. Stage records are also appended to the journal in
// TaskDir when it is set.
type Record struct {
	TaskDir string
	Stage   *models.StageRecord
	Log     *models.LogEntry
}

// Persister accepts records without blocking the caller.
type Persister interface {
	Offer(rec Record)
}

// Adapter writes records to the store from a single background worker.
type Adapter struct {
	store  *Store
	logger *logrus.Logger
	queue  chan Record
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewAdapter starts the adapter worker. size bounds the queue.
func NewAdapter(st *Store, logger *logrus.Logger, size int) *Adapter {
	if size <= 0 {
		size = 1024
	}
	a := &Adapter{
		store:  st,
		logger: logger,
		queue:  make(chan Record, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Offer enqueues rec. A full queue or closed adapter drops the record
// with a warning.
func (a *Adapter) Offer(rec Record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.dropped.Add(1)
		a.logger.Warn("persistence queue full, record dropped")
	}
}

// Close stops accepting records and waits for the queue to drain.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
}

// Stats returns the number of dropped and failed records.
func (a *Adapter) Stats() (dropped, failed uint64) {
	return a.dropped.Load(), a.failed.Load()
}

func (a *Adapter) run() {
	defer close(a.done)
	for rec := range a.queue {
		if err := a.write(rec); err != nil {
			a.failed.Add(1)
			a.logger.WithError(err).Warn("persist record failed")
		}
	}
}

func (a *Adapter) write(rec Record) error {
	if rec.Log != nil {
		if err := a.store.AddLogEntry(rec.Log); err != nil {
			return err
		}
	}
	if rec.Stage != nil {
		if err := a.store.WriteStageRecord(rec.Stage); err != nil {
			return err
		}
		if rec.TaskDir != "" {
			return appendJournal(rec.TaskDir, rec.Stage)
		}
	}
	return nil
}

func appendJournal(dir string, rec *models.StageRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, JournalName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}
