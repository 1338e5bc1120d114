//go:generate go run go.uber.org/mock/mockgen -source=manager.go -destination=mocks/mock_connection.go -package=mocks

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// TypingTTL is how long a typing indicator stays active without a refresh.
const TypingTTL = 5 * time.Second

const typingSweepInterval = time.Second

// Connection is one live channel of one user. A user may hold several.
type Connection interface {
	ID() string
	UserID() string
	// Send enqueues a frame without blocking. It fails when the connection is
	// closed or its send buffer is full.
	Send(data []byte) error
	Close()
}

// PresenceHook is called when a user gets their first connection or loses their last one.
type PresenceHook func(userID string, online bool)

// TypingExpiredHook is called for typing entries that lapsed without being cleared.
type TypingExpiredHook func(conversationID, userID string)

type typingKey struct {
	conversationID string
	userID         string
}

// Manager is the connection registry. It tracks live connections per user
// and the ephemeral typing state.
type Manager struct {
	connections map[string]map[string]Connection
	typing      map[typingKey]time.Time
	mutex       sync.RWMutex

	onPresence      PresenceHook
	onTypingExpired TypingExpiredHook

	// announced is the presence last passed to onPresence, guarded by mutex.
	// presenceLocks keeps hook calls for one user in order.
	announced     map[string]bool
	presenceLocks *utils.KeyedMutex

	now func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		connections:   make(map[string]map[string]Connection),
		typing:        make(map[typingKey]time.Time),
		announced:     make(map[string]bool),
		presenceLocks: utils.NewKeyedMutex(),
		now:           time.Now,
	}
}

// OnPresenceChange installs the presence hook. Call before Start.
func (m *Manager) OnPresenceChange(hook PresenceHook) {
	m.onPresence = hook
}

// OnTypingExpired installs the typing expiry hook. Call before Start.
func (m *Manager) OnTypingExpired(hook TypingExpiredHook) {
	m.onTypingExpired = hook
}

// Start runs the typing janitor until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(typingSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.SweepTyping()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Register adds conn and reports whether its user just came online.
func (m *Manager) Register(conn Connection) bool {
	userID := conn.UserID()

	m.mutex.Lock()
	userConns, ok := m.connections[userID]
	if !ok {
		userConns = make(map[string]Connection)
		m.connections[userID] = userConns
	}
	userConns[conn.ID()] = conn
	wentOnline := len(userConns) == 1
	m.mutex.Unlock()

	logger.Debug("Connection registered: user=%s conn=%s", userID, conn.ID())

	if wentOnline {
		m.announcePresence(userID)
	}
	return wentOnline
}

// Unregister removes conn and reports whether its user just went offline.
// Unregistering an unknown connection is a no-op.
func (m *Manager) Unregister(conn Connection) bool {
	userID := conn.UserID()

	m.mutex.Lock()
	userConns, ok := m.connections[userID]
	if !ok {
		m.mutex.Unlock()
		return false
	}
	if _, ok := userConns[conn.ID()]; !ok {
		m.mutex.Unlock()
		return false
	}
	delete(userConns, conn.ID())

	wentOffline := len(userConns) == 0
	var cleared []typingKey
	if wentOffline {
		delete(m.connections, userID)
		for key := range m.typing {
			if key.userID == userID {
				cleared = append(cleared, key)
				delete(m.typing, key)
			}
		}
	}
	m.mutex.Unlock()

	logger.Debug("Connection unregistered: user=%s conn=%s", userID, conn.ID())

	if wentOffline {
		if m.onTypingExpired != nil {
			for _, key := range cleared {
				m.onTypingExpired(key.conversationID, key.userID)
			}
		}
		m.announcePresence(userID)
	}
	return wentOffline
}

// announcePresence runs the presence hook with the user's current registry
// state, at most once per change. A connect racing a disconnect can leave
// nothing to announce, and never announces online after offline.
func (m *Manager) announcePresence(userID string) {
	if m.onPresence == nil {
		return
	}
	defer m.presenceLocks.Lock(userID)()

	m.mutex.Lock()
	online := len(m.connections[userID]) > 0
	if online == m.announced[userID] {
		m.mutex.Unlock()
		return
	}
	if online {
		m.announced[userID] = true
	} else {
		delete(m.announced, userID)
	}
	m.mutex.Unlock()

	m.onPresence(userID, online)
}

func (m *Manager) IsOnline(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections[userID]) > 0
}

// ConnectionsFor returns a snapshot of userID's connections.
func (m *Manager) ConnectionsFor(userID string) []Connection {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	userConns := m.connections[userID]
	out := make([]Connection, 0, len(userConns))
	for _, conn := range userConns {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (m *Manager) OnlineUsers() []string {
	m.mutex.RLock()
	users := make([]string, 0, len(m.connections))
	for userID := range m.connections {
		users = append(users, userID)
	}
	m.mutex.RUnlock()

	sort.Strings(users)
	return users
}

// SendToUser pushes data to every connection of userID. Connections that
// fail are unregistered and closed; the rest still receive the frame.
// It returns the number of connections the frame was enqueued on.
func (m *Manager) SendToUser(userID string, data []byte) int {
	sent := 0
	for _, conn := range m.ConnectionsFor(userID) {
		if err := conn.Send(data); err != nil {
			logger.Warn("Dropping connection %s of user %s: %v", conn.ID(), userID, err)
			m.Unregister(conn)
			conn.Close()
			continue
		}
		sent++
	}
	return sent
}

// SetTyping records or clears a typing indicator and returns its expiry.
func (m *Manager) SetTyping(conversationID, userID string, isTyping bool) time.Time {
	key := typingKey{conversationID: conversationID, userID: userID}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !isTyping {
		delete(m.typing, key)
		return time.Time{}
	}
	expiresAt := m.now().Add(TypingTTL)
	m.typing[key] = expiresAt
	return expiresAt
}

// SweepTyping drops expired typing entries and fires the expiry hook for each.
func (m *Manager) SweepTyping() {
	m.mutex.Lock()
	now := m.now()
	var expired []typingKey
	for key, expiresAt := range m.typing {
		if !now.Before(expiresAt) {
			expired = append(expired, key)
			delete(m.typing, key)
		}
	}
	m.mutex.Unlock()

	if m.onTypingExpired == nil {
		return
	}
	for _, key := range expired {
		m.onTypingExpired(key.conversationID, key.userID)
	}
}
