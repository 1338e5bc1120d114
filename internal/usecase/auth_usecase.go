package usecase

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	"chatcore/internal/infrastructure/auth"
	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

type AuthUseCase struct {
	userRepo  repository.UserRepository
	tokens    auth.TokenProvider
	wsManager *ws.Manager
	cost      int
}

func NewAuthUseCase(userRepo repository.UserRepository, tokens auth.TokenProvider, wsManager *ws.Manager) *AuthUseCase {
	return &AuthUseCase{
		userRepo:  userRepo,
		tokens:    tokens,
		wsManager: wsManager,
		cost:      bcrypt.DefaultCost,
	}
}

type RegisterInput struct {
	Username string
	Password string
	Email    string
}

type AuthResult struct {
	User  *entity.User `json:"user"`
	Token string       `json:"token"`
}

func (uc *AuthUseCase) Register(ctx context.Context, input RegisterInput) (*entity.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), uc.cost)
	if err != nil {
		return nil, errors.Internal("Failed to hash password", err)
	}

	user := &entity.User{
		Username:     strings.TrimSpace(input.Username),
		Email:        strings.TrimSpace(input.Email),
		DisplayName:  strings.TrimSpace(input.Username),
		PasswordHash: string(hash),
	}
	if err := uc.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	logger.Info("Registered user %s (%s)", user.Username, user.ID)
	return user, nil
}

func (uc *AuthUseCase) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	invalid := errors.BadRequest("Invalid username or password", nil)

	user, err := uc.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}

	token, err := uc.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:  user,
		Token: token,
	}, nil
}

// Authenticate resolves a bearer token to a user ID.
func (uc *AuthUseCase) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthorized("Authentication token is required", nil)
	}
	return uc.tokens.Authenticate(ctx, token)
}

// Logout marks the user offline unless they still hold live connections.
// Tokens are stateless; the client discards its copy.
func (uc *AuthUseCase) Logout(ctx context.Context, userID string) error {
	if uc.wsManager != nil && uc.wsManager.IsOnline(userID) {
		return nil
	}
	return uc.userRepo.SetPresence(ctx, userID, false, time.Now().UTC())
}
