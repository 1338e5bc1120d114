package repository

import (
	"context"
	"time"

	"chatcore/internal/domain/entity"
)

type UserRepository interface {
	// Create fails with a CONFLICT error when the username is taken.
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*entity.User, error)
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
}
