package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrSessionExpired is reported when the server rejects the stored token.
// The session is logged out before the error is returned.
var ErrSessionExpired = errors.New("session expired, please log in again")

// Prefs are user preferences persisted with the session.
type Prefs struct {
	DarkMode      bool `toml:"dark_mode"`
	Notifications bool `toml:"notifications"`
}

// State is the persisted part of a session.
type State struct {
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Prefs    Prefs  `toml:"prefs"`
}

// Session owns the client's credentials and the lifetime of everything that
// runs on its behalf. Start gives background work a context; Teardown and
// Logout cancel it.
type Session struct {
	path string

	mutex       sync.RWMutex
	state       State
	ctx         context.Context
	cancel      context.CancelFunc
	logoutHooks []func(reason error)
}

// NewSession loads the state file at path. A missing file yields an empty,
// logged-out session; an empty path keeps the session in memory only.
func NewSession(path string) (*Session, error) {
	s := &Session{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read session: %w", err)
	}
	if err := toml.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("cannot parse session: %w", err)
	}
	return s, nil
}

func (s *Session) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create session directory: %w", err)
	}
	data, err := toml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("cannot marshal session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write session: %w", err)
	}
	return nil
}

func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

func (s *Session) LoggedIn() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.Token != ""
}

func (s *Session) Token() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.Token
}

func (s *Session) UserID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.UserID
}

func (s *Session) BaseURL() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.BaseURL
}

func (s *Session) SetBaseURL(baseURL string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.BaseURL = baseURL
	return s.save()
}

func (s *Session) SetPrefs(prefs Prefs) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.Prefs = prefs
	return s.save()
}

// SetCredentials stores the result of a successful login.
func (s *Session) SetCredentials(token, userID, username string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.Token = token
	s.state.UserID = userID
	s.state.Username = username
	return s.save()
}

// OnLogout registers fn to run whenever the session logs out. reason is nil
// for an explicit logout and ErrSessionExpired when the server rejected the token.
func (s *Session) OnLogout(fn func(reason error)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logoutHooks = append(s.logoutHooks, fn)
}

// Start begins the session lifecycle and returns its context. Calling Start
// on a running session returns the existing context.
func (s *Session) Start(ctx context.Context) context.Context {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx != nil && s.ctx.Err() == nil {
		return s.ctx
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s.ctx
}

// Context returns the lifecycle context, or a canceled one when the session
// is not running.
func (s *Session) Context() context.Context {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.ctx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.ctx
}

// Teardown cancels everything started under the session. Credentials are kept.
func (s *Session) Teardown() {
	s.mutex.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Logout forgets the credentials, tears the session down and runs the logout
// hooks. Logging out a logged-out session only tears it down.
func (s *Session) Logout(reason error) error {
	s.mutex.Lock()
	wasLoggedIn := s.state.Token != ""
	s.state.Token = ""
	s.state.UserID = ""
	s.state.Username = ""
	err := s.save()
	hooks := append([]func(error){}, s.logoutHooks...)
	s.mutex.Unlock()

	s.Teardown()
	if wasLoggedIn {
		for _, hook := range hooks {
			hook(reason)
		}
	}
	return err
}
