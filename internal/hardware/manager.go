// Package hardware arbitrates exclusive access to radio hardware and
// drives the PTT line and audio devices.
package hardware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Lease is an exclusive hold on one hardware resource.
type Lease struct {
	ID         string
	Kind       models.LeaseKind
	TaskID     string
	AcquiredAt time.Time

	mgr      *Manager
	released atomic.Bool
}

// Release returns the lease to the manager. It is safe to call any number
// of times and on a nil lease.
func (l *Lease) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.mgr.release(l)
}

// Released reports whether the lease has been returned.
func (l *Lease) Released() bool {
	return l.released.Load()
}

// Pinger probes a device for the health poller.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Manager owns one lease slot per hardware kind.
type Manager struct {
	logger *logrus.Logger
	pub    events.Publisher

	mu             sync.Mutex
	holders        map[models.LeaseKind]*Lease
	freed          map[models.LeaseKind]chan struct{}
	status         map[models.LeaseKind]models.ConnectionStatus
	devices        map[models.LeaseKind]Pinger
	rxTxSeparation bool

	poll singleflight.Group

	acquired atomic.Int64
	released atomic.Int64
}

// NewManager creates a manager with every kind free and status Unknown.
func NewManager(logger *logrus.Logger, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Discard{}
	}
	m := &Manager{
		logger:  logger,
		pub:     pub,
		holders: make(map[models.LeaseKind]*Lease),
		freed:   make(map[models.LeaseKind]chan struct{}),
		status:  make(map[models.LeaseKind]models.ConnectionStatus),
		devices: make(map[models.LeaseKind]Pinger),
	}
	for _, k := range models.AllLeaseKinds {
		m.freed[k] = make(chan struct{})
		m.status[k] = models.ConnUnknown
	}
	return m
}

// SetRxTxSeparation allows PTT and AudioIn to be held by different tasks
// when input and output use physically distinct devices.
func (m *Manager) SetRxTxSeparation(enabled bool) {
	m.mu.Lock()
	m.rxTxSeparation = enabled
	m.mu.Unlock()
}

// RegisterDevice attaches a device to be probed by Poll.
func (m *Manager) RegisterDevice(kind models.LeaseKind, dev Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev == nil {
		delete(m.devices, kind)
		return
	}
	m.devices[kind] = dev
}

// conflicts reports whether a lease of kind for taskID violates the
// cross-kind exclusion rule. Caller holds m.mu.
func (m *Manager) conflicts(kind models.LeaseKind, taskID string) bool {
	if m.rxTxSeparation {
		return false
	}
	var other models.LeaseKind
	switch kind {
	case models.LeasePTT:
		other = models.LeaseAudioIn
	case models.LeaseAudioIn:
		other = models.LeasePTT
	default:
		return false
	}
	h, ok := m.holders[other]
	return ok && h.TaskID != taskID
}

// Acquire blocks until kind is free, ctx is done, or timeout elapses. It
// returns ErrHardwareBusy without waiting when the request conflicts with
// another kind or when the same task already holds kind.
func (m *Manager) Acquire(ctx context.Context, kind models.LeaseKind, taskID string, timeout time.Duration) (*Lease, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		switch st := m.status[kind]; st {
		case models.ConnError, models.ConnDisconnected:
			m.mu.Unlock()
			return nil, &models.DeviceError{Kind: kind, Err: fmt.Errorf("device %s", st)}
		}
		if m.conflicts(kind, taskID) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", kind, models.ErrHardwareBusy)
		}
		holder, held := m.holders[kind]
		if !held {
			lease := &Lease{
				ID:         uuid.New().String(),
				Kind:       kind,
				TaskID:     taskID,
				AcquiredAt: time.Now(),
				mgr:        m,
			}
			m.holders[kind] = lease
			m.mu.Unlock()
			m.acquired.Add(1)
			m.logger.WithFields(logrus.Fields{"kind": kind, "task_id": taskID, "lease_id": lease.ID}).Debug("Lease acquired")
			return lease, nil
		}
		if holder.TaskID == taskID {
			m.mu.Unlock()
			return nil, fmt.Errorf("%s already held by this task: %w", kind, models.ErrHardwareBusy)
		}
		wait := m.freed[kind]
		m.mu.Unlock()

		select {
		case <-wait:
		case <-deadline:
			return nil, fmt.Errorf("%s: %w", kind, models.ErrHardwareTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a lease. Equivalent to lease.Release.
func (m *Manager) Release(l *Lease) {
	l.Release()
}

func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	if cur, ok := m.holders[l.Kind]; ok && cur == l {
		delete(m.holders, l.Kind)
		close(m.freed[l.Kind])
		m.freed[l.Kind] = make(chan struct{})
	}
	m.mu.Unlock()
	m.released.Add(1)
	m.logger.WithFields(logrus.Fields{"kind": l.Kind, "task_id": l.TaskID, "lease_id": l.ID}).Debug("Lease released")
}

// ReleaseAll releases every lease held by taskID and returns how many
// were outstanding.
func (m *Manager) ReleaseAll(taskID string) int {
	m.mu.Lock()
	var held []*Lease
	for _, l := range m.holders {
		if l.TaskID == taskID {
			held = append(held, l)
		}
	}
	m.mu.Unlock()
	for _, l := range held {
		l.Release()
	}
	return len(held)
}

// Holder returns the task id holding kind, or "".
func (m *Manager) Holder(kind models.LeaseKind) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.holders[kind]; ok {
		return l.TaskID
	}
	return ""
}

// Status returns the last known health of the device behind kind.
func (m *Manager) Status(kind models.LeaseKind) models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[kind]
}

// Statuses returns a snapshot of every kind's health.
func (m *Manager) Statuses() map[models.LeaseKind]models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.LeaseKind]models.ConnectionStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// SetStatus records device health and broadcasts it when it changes.
func (m *Manager) SetStatus(kind models.LeaseKind, status models.ConnectionStatus, msg string) {
	m.mu.Lock()
	prev := m.status[kind]
	m.status[kind] = status
	m.mu.Unlock()
	if prev == status {
		return
	}
	evType := models.EventRadioStatus
	if kind == models.LeaseSDR {
		evType = models.EventSdrStatus
	}
	if msg == "" {
		msg = string(kind)
	} else {
		msg = string(kind) + ": " + msg
	}
	m.pub.Publish(models.NewConnEvent(evType, status, msg))
}

// Poll probes every registered device once. Concurrent callers share a
// single probe round.
func (m *Manager) Poll(ctx context.Context) {
	m.poll.Do("poll", func() (interface{}, error) {
		m.mu.Lock()
		devices := make(map[models.LeaseKind]Pinger, len(m.devices))
		for k, d := range m.devices {
			devices[k] = d
		}
		m.mu.Unlock()

		for kind, dev := range devices {
			if m.Status(kind) == models.ConnUnknown {
				m.SetStatus(kind, models.ConnChecking, "")
			}
			if err := dev.Ping(ctx); err != nil {
				m.SetStatus(kind, models.ConnError, err.Error())
				continue
			}
			m.SetStatus(kind, models.ConnConnected, "")
		}
		return nil, nil
	})
}

// Counts returns how many leases were acquired and released.
func (m *Manager) Counts() (acquired, released int64) {
	return m.acquired.Load(), m.released.Load()
}
