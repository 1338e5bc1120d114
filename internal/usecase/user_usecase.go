package usecase

import (
	"context"

	"github.com/samber/lo"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	ws "chatcore/internal/infrastructure/websocket"
)

type UserUseCase struct {
	userRepo  repository.UserRepository
	wsManager *ws.Manager
}

func NewUserUseCase(userRepo repository.UserRepository, wsManager *ws.Manager) *UserUseCase {
	return &UserUseCase{
		userRepo:  userRepo,
		wsManager: wsManager,
	}
}

// GetProfile returns the public profile of a user. The online flag comes
// from the connection registry, which is authoritative for live presence.
func (uc *UserUseCase) GetProfile(ctx context.Context, userID string) (*entity.UserProfile, error) {
	user, err := uc.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	profile.Online = uc.wsManager.IsOnline(user.ID)
	return profile, nil
}

func (uc *UserUseCase) OnlineUsers(ctx context.Context) ([]*entity.UserProfile, error) {
	users, err := uc.userRepo.GetByIDs(ctx, uc.wsManager.OnlineUsers())
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(user *entity.User, _ int) *entity.UserProfile {
		profile := user.Profile()
		profile.Online = true
		return profile
	}), nil
}
