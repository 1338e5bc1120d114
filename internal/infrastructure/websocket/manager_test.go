package websocket

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chatcore/internal/infrastructure/websocket/mocks"
	"chatcore/pkg/errors"
)

type fakeConn struct {
	id     string
	userID string

	mutex  sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return errors.Transport("Connection closed", nil)
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
}

func (c *fakeConn) Frames() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

type presenceRecorder struct {
	mutex  sync.Mutex
	events []string
}

func (r *presenceRecorder) hook(userID string, online bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%v", userID, online))
}

func (r *presenceRecorder) Events() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.events...)
}

// typingUsers lists users with an unexpired typing entry in conversationID.
func typingUsers(m *Manager, conversationID string) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	now := m.now()
	var users []string
	for key, expiresAt := range m.typing {
		if key.conversationID == conversationID && now.Before(expiresAt) {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

func TestManager_MultiDevicePresence(t *testing.T) {
	m := NewManager()
	rec := &presenceRecorder{}
	m.OnPresenceChange(rec.hook)

	phone := newFakeConn("c1", "alice")
	laptop := newFakeConn("c2", "alice")

	assert.True(t, m.Register(phone))
	assert.False(t, m.Register(laptop))
	assert.True(t, m.IsOnline("alice"))
	assert.Len(t, m.ConnectionsFor("alice"), 2)

	assert.False(t, m.Unregister(phone))
	assert.True(t, m.IsOnline("alice"))

	assert.True(t, m.Unregister(laptop))
	assert.False(t, m.IsOnline("alice"))

	// Second unregister of the same connection is a no-op.
	assert.False(t, m.Unregister(laptop))

	assert.Equal(t, []string{"alice:true", "alice:false"}, rec.Events())
}

func TestManager_OnlineUsers(t *testing.T) {
	m := NewManager()
	m.Register(newFakeConn("c1", "bob"))
	m.Register(newFakeConn("c2", "alice"))
	m.Register(newFakeConn("c3", "alice"))

	assert.Equal(t, []string{"alice", "bob"}, m.OnlineUsers())
	assert.Empty(t, m.ConnectionsFor("carol"))
}

func TestManager_ConcurrentConnectDisconnect(t *testing.T) {
	m := NewManager()
	rec := &presenceRecorder{}
	m.OnPresenceChange(rec.hook)

	const users = 20
	const perUser = 5

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < perUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				conn := newFakeConn(fmt.Sprintf("u%d-c%d", u, c), fmt.Sprintf("user-%d", u))
				m.Register(conn)
				m.IsOnline(conn.UserID())
				m.Unregister(conn)
			}(u, c)
		}
	}
	wg.Wait()

	assert.Empty(t, m.OnlineUsers())
	// Per user, announcements alternate starting with online and end offline.
	last := make(map[string]string)
	for _, ev := range rec.Events() {
		user, state, _ := strings.Cut(ev, ":")
		if last[user] == "" {
			assert.Equal(t, "true", state, user)
		}
		assert.NotEqual(t, last[user], state, "%s announced %s twice", user, state)
		last[user] = state
	}
	for user, state := range last {
		assert.Equal(t, "false", state, user)
	}
}

func TestManager_SlowOnlineHookIsNotOvertakenByOffline(t *testing.T) {
	m := NewManager()
	rec := &presenceRecorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	m.OnPresenceChange(func(userID string, online bool) {
		if online {
			close(entered)
			<-release
		}
		rec.hook(userID, online)
	})

	conn := newFakeConn("c1", "alice")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Register(conn)
	}()
	<-entered
	go func() {
		defer wg.Done()
		m.Unregister(conn)
	}()

	require.Eventually(t, func() bool { return !m.IsOnline("alice") }, time.Second, time.Millisecond)
	assert.Empty(t, rec.Events(), "offline must wait for the online hook")
	close(release)
	wg.Wait()

	assert.Equal(t, []string{"alice:true", "alice:false"}, rec.Events())
	assert.False(t, m.IsOnline("alice"))
}

func TestManager_PresenceSkipsChangesAlreadyUndone(t *testing.T) {
	m := NewManager()
	rec := &presenceRecorder{}
	m.OnPresenceChange(rec.hook)

	// A connect and disconnect that both finish before either announces
	// leave the registry unchanged, so nothing is reported.
	m.announcePresence("alice")
	assert.Empty(t, rec.Events())

	m.Register(newFakeConn("c1", "alice"))
	m.announcePresence("alice")
	assert.Equal(t, []string{"alice:true"}, rec.Events())
}

func TestManager_TypingExpires(t *testing.T) {
	m := NewManager()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var expired []string
	m.OnTypingExpired(func(conversationID, userID string) {
		expired = append(expired, conversationID+"/"+userID)
	})

	expiresAt := m.SetTyping("conv-1", "alice", true)
	assert.Equal(t, now.Add(TypingTTL), expiresAt)
	assert.Equal(t, []string{"alice"}, typingUsers(m, "conv-1"))
	assert.Equal(t, []string{"alice"}, typingUsers(m, "conv-1"))

	now = now.Add(TypingTTL - time.Millisecond)
	m.SweepTyping()
	assert.Equal(t, []string{"alice"}, typingUsers(m, "conv-1"))
	assert.Empty(t, expired)

	now = now.Add(2 * time.Millisecond)
	assert.Empty(t, typingUsers(m, "conv-1"))
	m.SweepTyping()
	assert.Equal(t, []string{"conv-1/alice"}, expired)
	assert.Empty(t, typingUsers(m, "conv-1"))
}

func TestManager_TypingClearedExplicitly(t *testing.T) {
	m := NewManager()
	fired := false
	m.OnTypingExpired(func(string, string) { fired = true })

	m.SetTyping("conv-1", "alice", true)
	m.SetTyping("conv-1", "alice", false)

	assert.Empty(t, typingUsers(m, "conv-1"))
	m.SweepTyping()
	assert.False(t, fired)
}

func TestManager_TypingClearedWhenUserGoesOffline(t *testing.T) {
	m := NewManager()
	var expired []string
	m.OnTypingExpired(func(conversationID, userID string) {
		expired = append(expired, conversationID+"/"+userID)
	})

	conn := newFakeConn("c1", "alice")
	m.Register(conn)
	m.SetTyping("conv-1", "alice", true)
	m.Unregister(conn)

	assert.Equal(t, []string{"conv-1/alice"}, expired)
	assert.Empty(t, typingUsers(m, "conv-1"))
}

func TestManager_SendToUserIsolatesFailingConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := NewManager()

	broken := mocks.NewMockConnection(ctrl)
	broken.EXPECT().ID().Return("a-broken").AnyTimes()
	broken.EXPECT().UserID().Return("bob").AnyTimes()
	broken.EXPECT().Send(gomock.Any()).Return(errors.Transport("Send buffer full", nil)).Times(1)
	broken.EXPECT().Close().Times(1)

	healthy := newFakeConn("b-healthy", "bob")

	m.Register(broken)
	m.Register(healthy)

	sent := m.SendToUser("bob", []byte(`{"type":"pong"}`))
	require.Equal(t, 1, sent)
	assert.Equal(t, []string{`{"type":"pong"}`}, healthy.Frames())

	conns := m.ConnectionsFor("bob")
	require.Len(t, conns, 1)
	assert.Equal(t, "b-healthy", conns[0].ID())
}
