package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatcore/internal/adapter/repository"
	"chatcore/internal/domain/entity"
	domainrepo "chatcore/internal/domain/repository"
	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/pkg/errors"
)

type testEnv struct {
	convRepo domainrepo.ConversationRepository
	userRepo domainrepo.UserRepository
	manager  *ws.Manager
	router   *DeliveryRouter
	store    *MessageStore
	chats    *ChatUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	convRepo := repository.NewBadgerConversationRepository(db)
	userRepo := repository.NewBadgerUserRepository(db)
	manager := ws.NewManager()
	router := NewDeliveryRouter(convRepo, userRepo, manager)
	store := NewMessageStore(convRepo, router, 0)

	return &testEnv{
		convRepo: convRepo,
		userRepo: userRepo,
		manager:  manager,
		router:   router,
		store:    store,
		chats:    NewChatUseCase(convRepo, userRepo, store, manager, nil),
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *entity.User {
	t.Helper()
	user := &entity.User{Username: username, Email: username + "@example.com"}
	require.NoError(t, e.userRepo.Create(context.Background(), user))
	return user
}

func (e *testEnv) createChat(t *testing.T, a, b *entity.User) *entity.Conversation {
	t.Helper()
	resp, _, err := e.chats.CreateChat(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	return resp.Conversation
}

// fakeConn records frames in memory. When failing is set Send returns a
// transport error.
type fakeConn struct {
	id      string
	userID  string
	failing bool

	mutex  sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.failing || c.closed {
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

// framesOfType decodes recorded frames whose type matches.
func (c *fakeConn) framesOfType(t *testing.T, frameType string) []map[string]interface{} {
	t.Helper()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var out []map[string]interface{}
	for _, raw := range c.frames {
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame["type"] == frameType {
			out = append(out, frame)
		}
	}
	return out
}

func (e *testEnv) connect(t *testing.T, id string, user *entity.User) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: id, userID: user.ID}
	e.manager.Register(conn)
	return conn
}
