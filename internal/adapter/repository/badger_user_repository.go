package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	apperrors "chatcore/pkg/errors"
)

type badgerUserRepository struct {
	db *badger.DB
}

func NewBadgerUserRepository(db *badger.DB) repository.UserRepository {
	return &badgerUserRepository{db: db}
}

// userRecord is the stored form of a user; the password hash is hidden from
// API JSON but has to survive the round trip through the store.
type userRecord struct {
	*entity.User
	PasswordHash string `json:"passwordHash"`
}

func getUser(txn *badger.Txn, id string) (*entity.User, error) {
	user := &entity.User{}
	rec := userRecord{User: user}
	if err := getJSON(txn, userKey(id), &rec); err != nil {
		return nil, err
	}
	user.PasswordHash = rec.PasswordHash
	return user, nil
}

func setUser(txn *badger.Txn, user *entity.User) error {
	return setJSON(txn, userKey(user.ID), userRecord{User: user, PasswordHash: user.PasswordHash})
}

func (r *badgerUserRepository) Create(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := update(r.db, func(txn *badger.Txn) error {
		nameKey := usernameKey(strings.ToLower(user.Username))
		if _, err := txn.Get([]byte(nameKey)); err == nil {
			return apperrors.Conflict("Username is already taken")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(nameKey), []byte(user.ID)); err != nil {
			return err
		}
		return setUser(txn, user)
	})
	if err != nil {
		return storeErr("Failed to create user", err)
	}
	return nil
}

func (r *badgerUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var user *entity.User
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("User", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to get user", err)
	}
	return user, nil
}

func (r *badgerUserRepository) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var user *entity.User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usernameKey(strings.ToLower(username))))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = getUser(txn, string(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("User", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to get user", err)
	}
	return user, nil
}

func (r *badgerUserRepository) GetByIDs(ctx context.Context, ids []string) ([]*entity.User, error) {
	users := make([]*entity.User, 0, len(ids))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			user, err := getUser(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("Failed to get users", err)
	}
	return users, nil
}

func (r *badgerUserRepository) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	err := update(r.db, func(txn *badger.Txn) error {
		user, err := getUser(txn, id)
		if err != nil {
			return err
		}
		user.Online = online
		user.LastSeen = lastSeen
		user.UpdatedAt = time.Now().UTC()
		return setUser(txn, user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.NotFound("User", nil)
	}
	if err != nil {
		return storeErr("Failed to update presence", err)
	}
	return nil
}
