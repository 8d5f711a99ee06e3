// Package netmon tracks internet connectivity by probing well-known URLs.
package netmon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultProbeTimeout = 5 * time.Second

// Monitor probes a set of URLs and reports connectivity changes.
type Monitor struct {
	urls    []string
	client  *http.Client
	pub     events.Publisher
	logger  *logrus.Logger
	timeout time.Duration

	mu     sync.Mutex
	status models.ConnectionStatus
	last   time.Time
}

// New creates a monitor. A nil client uses one that does not follow
// redirects, so a 3xx answer counts as reachable.
func New(urls []string, client *http.Client, pub events.Publisher, logger *logrus.Logger) *Monitor {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{
		urls:    append([]string(nil), urls...),
		client:  client,
		pub:     pub,
		logger:  logger,
		timeout: defaultProbeTimeout,
		status:  models.ConnUnknown,
	}
}

// Status returns the last observed connectivity and when it was observed.
func (m *Monitor) Status() (models.ConnectionStatus, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.last
}

// Check probes every URL concurrently and records the result. The host is
// online when any probe answers 2xx or 3xx. An event is published only
// when the status changes.
func (m *Monitor) Check(ctx context.Context) error {
	online := m.probeAll(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := models.ConnDisconnected
	if online {
		status = models.ConnConnected
	}

	m.mu.Lock()
	changed := status != m.status
	m.status = status
	m.last = time.Now()
	m.mu.Unlock()

	if changed {
		m.logger.WithField("status", status).Info("Network connectivity changed")
		m.pub.Publish(models.NewConnEvent(models.EventNetwork, status, ""))
	}
	return nil
}

func (m *Monitor) probeAll(ctx context.Context) bool {
	if len(m.urls) == 0 {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		online bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range m.urls {
		u := u
		g.Go(func() error {
			if err := m.probe(gctx, u); err != nil {
				m.logger.WithError(err).WithField("url", u).Debug("Connectivity probe failed")
				return nil
			}
			mu.Lock()
			online = true
			mu.Unlock()
			// One success is enough; stop the others.
			cancel()
			return nil
		})
	}
	g.Wait()
	return online
}

// probe tries HEAD, then GET when HEAD is refused or fails.
func (m *Monitor) probe(ctx context.Context, url string) error {
	err := m.request(ctx, http.MethodHead, url)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return m.request(ctx, http.MethodGet, url)
}

func (m *Monitor) request(ctx context.Context, method, url string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
}
