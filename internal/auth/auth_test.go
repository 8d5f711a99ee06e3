package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginPersistsCredentials(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	assert.False(t, m.IsAuthenticated())

	assert.Error(t, m.Login("", "  "))
	require.NoError(t, m.Login("http://radio.local:5900", "s3cret"))

	info, err := os.Stat(filepath.Join(dir, credentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := NewManager(dir)
	require.NoError(t, err)
	assert.True(t, again.IsAuthenticated())
	assert.Equal(t, "s3cret", again.Token())
	assert.Equal(t, "http://radio.local:5900", again.APIURL())

	require.NoError(t, again.Logout())
	require.NoError(t, again.Logout())
	assert.Equal(t, "", again.Token())
	assert.NoFileExists(t, filepath.Join(dir, credentialsFile))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
		ok     bool
	}{
		{name: "disabled", want: "", ok: true},
		{name: "bearer", header: "Bearer tok", want: "tok", ok: true},
		{name: "lowercase scheme", header: "bearer tok", want: "tok", ok: true},
		{name: "query", query: "tok", want: "tok", ok: true},
		{name: "missing", want: "tok", ok: false},
		{name: "wrong", header: "Bearer nope", want: "tok", ok: false},
		{name: "basic scheme", header: "Basic tok", want: "tok", ok: false},
		{name: "header wins over query", header: "Bearer nope", query: "tok", want: "tok", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/status"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			err := Check(r, tt.want)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnauthorized)
			}
		})
	}
}
