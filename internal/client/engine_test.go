package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/adapter/api"
	"chatcore/internal/adapter/api/handler"
	"chatcore/internal/adapter/api/middleware"
	"chatcore/internal/adapter/api/router"
	"chatcore/internal/adapter/repository"
	"chatcore/internal/client"
	"chatcore/internal/domain/entity"
	"chatcore/internal/infrastructure/auth"
	"chatcore/internal/infrastructure/ratelimit"
	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/internal/usecase"
)

// startStack serves the full API on an in-memory store.
func startStack(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := repository.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	convRepo := repository.NewBadgerConversationRepository(db)
	userRepo := repository.NewBadgerUserRepository(db)
	manager := ws.NewManager()
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionAuth: {PerMinute: 600, Burst: 100},
	})

	deliveryRouter := usecase.NewDeliveryRouter(convRepo, userRepo, manager)
	store := usecase.NewMessageStore(convRepo, deliveryRouter, 0)
	authUseCase := usecase.NewAuthUseCase(userRepo, auth.NewJWTProvider("test-secret", time.Hour), manager)
	handler.Setup(
		authUseCase,
		usecase.NewUserUseCase(userRepo, manager),
		usecase.NewChatUseCase(convRepo, userRepo, store, manager, limiter),
	)

	e := echo.New()
	e.Validator = api.NewValidator()
	router.Setup(
		e,
		middleware.NewAuthMiddleware(authUseCase),
		limiter,
		handler.NewWebSocketHandler(manager, ws.NewMessageHandler(deliveryRouter, limiter), ws.DefaultSendBuffer, []string{"*"}),
		handler.NewHealthHandler(),
	)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func loginEngine(t *testing.T, srv *httptest.Server, username string, opts client.Options) *client.Engine {
	t.Helper()
	ctx := context.Background()

	session, err := client.NewSession("")
	require.NoError(t, err)
	require.NoError(t, session.SetBaseURL(srv.URL))

	if opts.Backoff == nil {
		opts.Backoff = fastBackoff()
	}
	engine := client.NewEngine(session, opts)
	_, err = engine.API().Register(ctx, username, "s3cret!", username+"@example.com")
	require.NoError(t, err)
	_, err = engine.API().Login(ctx, username, "s3cret!")
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Stop)
	return engine
}

func entryByID(view *client.View, id string) (client.Entry, bool) {
	return view.Entry(id)
}

func TestEngine_EndToEnd(t *testing.T) {
	srv := startStack(t)
	ctx := context.Background()

	alice := loginEngine(t, srv, "alice", client.Options{})
	bob := loginEngine(t, srv, "bob", client.Options{})
	bobID := bob.Session().UserID()

	online := onlineCount(t, alice)
	require.Eventually(t, func() bool { return online() == 2 }, waitFor, 10*time.Millisecond)

	chat, err := alice.API().CreateChat(ctx, bobID)
	require.NoError(t, err)

	aliceView, err := alice.OpenView(ctx, entity.KindChat, chat.ID)
	require.NoError(t, err)
	bobView, err := bob.OpenView(ctx, entity.KindChat, chat.ID)
	require.NoError(t, err)

	sent, err := alice.SendMessage(ctx, chat.ID, "hello bob")
	require.NoError(t, err)
	assert.Equal(t, client.StatusConfirmed, sent.Status)
	assert.Equal(t, int64(1), sent.Message.Seq)

	// Bob receives the push and acks it; alice sees the receipt.
	require.Eventually(t, func() bool {
		_, ok := entryByID(bobView, sent.Message.ID)
		return ok
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		entry, ok := entryByID(aliceView, sent.Message.ID)
		return ok && entry.Message.DeliveryState == entity.DeliveryDelivered
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, bob.MarkRead(ctx, chat.ID, sent.Message.ID))
	require.Eventually(t, func() bool {
		entry, _ := entryByID(aliceView, sent.Message.ID)
		return entry.Message.DeliveryState == entity.DeliveryRead
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, bob.SendTyping(ctx, chat.ID, true))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{bobID}, aliceView.TypingUsers(time.Now()))
	}, waitFor, 10*time.Millisecond)

	assert.Len(t, aliceView.Entries(), 1)
	assert.Len(t, bobView.Entries(), 1)

	bob.Stop()
	require.Eventually(t, func() bool {
		presence, ok := alice.Presence(bobID)
		return ok && !presence.Online
	}, waitFor, 10*time.Millisecond)
}

func onlineCount(t *testing.T, engine *client.Engine) func() int {
	return func() int {
		online, err := engine.API().OnlineUsers(context.Background())
		require.NoError(t, err)
		return len(online)
	}
}

func TestEngine_CatchesUpAfterReconnect(t *testing.T) {
	srv := startStack(t)
	ctx := context.Background()

	alice := loginEngine(t, srv, "alice", client.Options{})
	bob := loginEngine(t, srv, "bob", client.Options{})

	chat, err := alice.API().CreateChat(ctx, bob.Session().UserID())
	require.NoError(t, err)
	bobView, err := bob.OpenView(ctx, entity.KindChat, chat.ID)
	require.NoError(t, err)

	online := onlineCount(t, alice)

	// Bob goes offline and misses two messages.
	bob.Stop()
	require.Eventually(t, func() bool { return online() == 1 }, waitFor, 10*time.Millisecond)
	for _, content := range []string{"one", "two"} {
		_, err := alice.API().SendMessage(ctx, entity.KindChat, chat.ID, content)
		require.NoError(t, err)
	}
	assert.Empty(t, bobView.Entries())

	// After restart the history fills the gap and pushes resume.
	require.NoError(t, bob.Start(ctx))
	require.Eventually(t, func() bool { return online() == 2 }, waitFor, 10*time.Millisecond)
	bobView, err = bob.OpenView(ctx, entity.KindChat, chat.ID)
	require.NoError(t, err)
	require.Len(t, bobView.Entries(), 2)
	_, err = alice.API().SendMessage(ctx, entity.KindChat, chat.ID, "three")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bobView.Entries()) == 3 }, waitFor, 10*time.Millisecond)
	contents := []string{}
	for _, entry := range bobView.Entries() {
		contents = append(contents, entry.Message.Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}

func TestEngine_LoadOlderWalksHistory(t *testing.T) {
	srv := startStack(t)
	ctx := context.Background()

	alice := loginEngine(t, srv, "alice", client.Options{PageSize: 3})
	bob := loginEngine(t, srv, "bob", client.Options{})

	chat, err := alice.API().CreateChat(ctx, bob.Session().UserID())
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := bob.API().SendMessage(ctx, entity.KindChat, chat.ID, "msg")
		require.NoError(t, err)
	}

	view, err := alice.OpenView(ctx, entity.KindChat, chat.ID)
	require.NoError(t, err)
	require.Len(t, view.Entries(), 3)

	for view.HasMore() {
		_, err := view.LoadOlder(ctx)
		require.NoError(t, err)
	}

	var seqs []int64
	for _, entry := range view.Entries() {
		seqs = append(seqs, entry.Message.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, seqs)

	alice.CloseView(chat.ID)
	assert.True(t, view.Closed())
	_, err = view.LoadOlder(ctx)
	assert.ErrorIs(t, err, client.ErrViewClosed)
}
