package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/gorilla/websocket"
)

// ConnState is the transport state of a Client.
type ConnState string

const (
	StateDisconnected ConnState = "Disconnected"
	StateConnecting   ConnState = "Connecting"
	StateConnected    ConnState = "Connected"
)

// ClientOptions tunes reconnection.
type ClientOptions struct {
	// MaxRetries bounds consecutive failed dials before Run gives up. Zero
	// means retry forever.
	MaxRetries int
	// Backoff is the wait before the first retry; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	Token      string
}

// Client consumes the status event stream and reconnects with bounded
// retries. Events missed while disconnected are not replayed.
type Client struct {
	url    string
	opts   ClientOptions
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   ConnState
	onState func(ConnState)
}

// NewClient creates a client for a ws:// or wss:// URL.
func NewClient(url string, opts ClientOptions) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	return &Client{
		url:    url,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		state:  StateDisconnected,
	}
}

// OnStateChange registers a callback for transport transitions.
func (c *Client) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current transport state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Run delivers events to handle until ctx is cancelled or the retry
// budget is exhausted.
func (c *Client) Run(ctx context.Context, handle func(models.StatusEvent)) error {
	defer c.setState(StateDisconnected)

	failures := 0
	backoff := c.opts.Backoff
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			failures++
			if c.opts.MaxRetries > 0 && failures > c.opts.MaxRetries {
				return fmt.Errorf("event stream unavailable after %d attempts: %w", failures, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}

		failures = 0
		backoff = c.opts.Backoff
		c.setState(StateConnected)
		c.consume(ctx, conn, handle)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, handle func(models.StatusEvent)) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev models.StatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		handle(ev)
	}
}
