package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_PersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.toml")

	s, err := NewSession(path)
	require.NoError(t, err)
	assert.False(t, s.LoggedIn())

	require.NoError(t, s.SetBaseURL("http://localhost:8080"))
	require.NoError(t, s.SetCredentials("tok", "u1", "alice"))
	require.NoError(t, s.SetPrefs(Prefs{DarkMode: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dark_mode = true")

	reloaded, err := NewSession(path)
	require.NoError(t, err)
	assert.Equal(t, State{
		BaseURL:  "http://localhost:8080",
		Token:    "tok",
		UserID:   "u1",
		Username: "alice",
		Prefs:    Prefs{DarkMode: true},
	}, reloaded.State())
	assert.True(t, reloaded.LoggedIn())
}

func TestSession_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	require.NoError(t, os.WriteFile(path, []byte("token = ["), 0o600))

	_, err := NewSession(path)
	assert.Error(t, err)
}

func TestSession_LogoutCancelsAndRunsHooksOnce(t *testing.T) {
	s, err := NewSession("")
	require.NoError(t, err)
	require.NoError(t, s.SetCredentials("tok", "u1", "alice"))

	var reasons []error
	s.OnLogout(func(reason error) { reasons = append(reasons, reason) })

	ctx := s.Start(context.Background())
	assert.Same(t, ctx, s.Start(context.Background()))
	require.NoError(t, ctx.Err())

	require.NoError(t, s.Logout(ErrSessionExpired))
	assert.Error(t, ctx.Err())
	assert.False(t, s.LoggedIn())
	assert.Empty(t, s.UserID())

	require.NoError(t, s.Logout(nil))
	assert.Equal(t, []error{ErrSessionExpired}, reasons)
}

func TestSession_ContextBeforeStartIsCanceled(t *testing.T) {
	s, err := NewSession("")
	require.NoError(t, err)
	assert.Error(t, s.Context().Err())

	ctx := s.Start(context.Background())
	s.Teardown()
	assert.Error(t, ctx.Err())

	restarted := s.Start(context.Background())
	assert.NoError(t, restarted.Err())
}
