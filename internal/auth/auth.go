// Package auth guards the control plane API with a bearer token and keeps
// the CLI's saved credentials.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrUnauthorized is returned when a request carries no valid token.
var ErrUnauthorized = errors.New("unauthorized")

const credentialsFile = "credentials.json"

// Credentials are what the CLI remembers between invocations.
type Credentials struct {
	APIURL    string `json:"api_url,omitempty"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"`
}

// Manager loads and saves CLI credentials in a config directory.
type Manager struct {
	configDir   string
	credentials *Credentials
	mu          sync.RWMutex
}

// NewManager creates a manager rooted at configDir, loading any saved
// credentials.
func NewManager(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	m := &Manager{configDir: configDir}
	// Missing credentials are normal before the first login.
	_ = m.loadCredentials()
	return m, nil
}

// IsAuthenticated reports whether a token is saved.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials != nil && m.credentials.Token != ""
}

// Token returns the saved token, or "".
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.credentials == nil {
		return ""
	}
	return m.credentials.Token
}

// APIURL returns the saved daemon address, or "".
func (m *Manager) APIURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.credentials == nil {
		return ""
	}
	return m.credentials.APIURL
}

// Login saves token (and optionally the daemon address) for later calls.
func (m *Manager) Login(apiURL, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	m.mu.Lock()
	m.credentials = &Credentials{APIURL: apiURL, Token: token, CreatedAt: time.Now().Unix()}
	m.mu.Unlock()
	return m.saveCredentials()
}

// Logout clears the saved credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.credentials = nil
	m.mu.Unlock()

	if err := os.Remove(m.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (m *Manager) credentialsPath() string {
	return filepath.Join(m.configDir, credentialsFile)
}

func (m *Manager) loadCredentials() error {
	data, err := os.ReadFile(m.credentialsPath())
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}

	m.mu.Lock()
	m.credentials = &creds
	m.mu.Unlock()
	return nil
}

func (m *Manager) saveCredentials() error {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.credentialsPath(), data, 0600)
}

// RequestToken extracts the token from the Authorization header or, for
// WebSocket upgrades from browsers, the token query parameter.
func RequestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Check verifies that r carries want. An empty want disables the check.
func Check(r *http.Request, want string) error {
	if want == "" {
		return nil
	}
	got := RequestToken(r)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
