package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgraph-io/badger/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/iterator"

	"chatcore/internal/adapter/api"
	"chatcore/internal/adapter/api/handler"
	apimiddleware "chatcore/internal/adapter/api/middleware"
	"chatcore/internal/adapter/api/router"
	"chatcore/internal/adapter/repository"
	domainrepo "chatcore/internal/domain/repository"
	"chatcore/internal/infrastructure/auth"
	"chatcore/internal/infrastructure/firebase"
	"chatcore/internal/infrastructure/ratelimit"
	"chatcore/internal/infrastructure/websocket"
	"chatcore/internal/usecase"
	"chatcore/pkg/config"
	"chatcore/pkg/logger"
)

type stores struct {
	convRepo domainrepo.ConversationRepository
	userRepo domainrepo.UserRepository
	health   handler.HealthCheck
	close    func()
}

func openStores(cfg *config.Config, clients *firebase.Clients) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreFirestore:
		client := clients.Firestore
		return &stores{
			convRepo: repository.NewFirestoreConversationRepository(client),
			userRepo: repository.NewFirestoreUserRepository(client),
			health:   handler.HealthCheck{Name: "firestore", Check: firestorePing(client)},
			close:    func() {},
		}, nil
	case config.StoreBadger:
		db, err := repository.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return &stores{
			convRepo: repository.NewBadgerConversationRepository(db),
			userRepo: repository.NewBadgerUserRepository(db),
			health:   handler.HealthCheck{Name: "badger", Check: badgerPing(db)},
			close:    func() { db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func firestorePing(client *firestore.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.Collection("users").Limit(1).Documents(ctx).Next()
		if err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func badgerPing(db *badger.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if db.IsClosed() {
			return errors.New("database is closed")
		}
		return nil
	}
}

func tokenProvider(cfg *config.Config, clients *firebase.Clients) (auth.TokenProvider, error) {
	switch cfg.AuthProvider {
	case config.AuthFirebase:
		return auth.NewFirebaseProvider(clients.Auth), nil
	case config.AuthJWT:
		if cfg.Environment == "production" && cfg.JWTSecret == "your-secret-key" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		return auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTExpiry), nil
	default:
		return nil, fmt.Errorf("unknown AUTH_PROVIDER %q", cfg.AuthProvider)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger().Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := firebase.NewClients(ctx, cfg)
	if err != nil {
		logger.Logger().Fatalf("Failed to initialize Firebase: %v", err)
	}
	defer clients.Close()

	st, err := openStores(cfg, clients)
	if err != nil {
		logger.Logger().Fatalf("Failed to open store: %v", err)
	}
	defer st.close()

	tokens, err := tokenProvider(cfg, clients)
	if err != nil {
		logger.Logger().Fatalf("Failed to configure auth: %v", err)
	}

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionSendMessage: {PerMinute: cfg.MessagesPerMinute, Burst: 10},
		ratelimit.ActionTyping:      {PerMinute: cfg.TypingPerMinute, Burst: 10},
	})
	limiter.StartCleanupRoutine(ctx)

	wsManager := websocket.NewManager()
	deliveryRouter := usecase.NewDeliveryRouter(st.convRepo, st.userRepo, wsManager)
	wsManager.Start(ctx)

	store := usecase.NewMessageStore(st.convRepo, deliveryRouter, cfg.MaxMessageLength)
	authUseCase := usecase.NewAuthUseCase(st.userRepo, tokens, wsManager)
	userUseCase := usecase.NewUserUseCase(st.userRepo, wsManager)
	chatUseCase := usecase.NewChatUseCase(st.convRepo, st.userRepo, store, wsManager, limiter)

	handler.Setup(authUseCase, userUseCase, chatUseCase)

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger.Logger()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(authUseCase)
	wsHandler := handler.NewWebSocketHandler(
		wsManager,
		websocket.NewMessageHandler(deliveryRouter, limiter),
		cfg.WSSendBuffer,
		cfg.AllowedOrigins,
	)
	healthHandler := handler.NewHealthHandler(st.health)

	router.Setup(e, authMiddleware, limiter, wsHandler, healthHandler)

	go func() {
		logger.Info("Starting server on port %s (store=%s, auth=%s)...", cfg.ServerPort, cfg.StoreDriver, cfg.AuthProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger().Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}
