package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	apperrors "chatcore/pkg/errors"
)

type badgerConversationRepository struct {
	db *badger.DB
}

func NewBadgerConversationRepository(db *badger.DB) repository.ConversationRepository {
	return &badgerConversationRepository{db: db}
}

func (r *badgerConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	err := update(r.db, func(txn *badger.Txn) error {
		if conv.Kind == entity.KindChat && len(conv.ParticipantIDs) == 2 {
			key := pairKey(conv.ParticipantIDs[0], conv.ParticipantIDs[1])
			if _, err := txn.Get([]byte(key)); err == nil {
				return apperrors.Conflict("Chat between these users already exists")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set([]byte(key), []byte(conv.ID)); err != nil {
				return err
			}
		}
		for _, userID := range conv.ParticipantIDs {
			if err := txn.Set([]byte(memberKey(userID, conv.ID)), []byte(conv.Kind)); err != nil {
				return err
			}
		}
		return setJSON(txn, convKey(conv.ID), conv)
	})
	if err != nil {
		return storeErr("Failed to create conversation", err)
	}
	return nil
}

func (r *badgerConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, convKey(id), &conv)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("Conversation", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to get conversation", err)
	}
	return &conv, nil
}

func (r *badgerConversationRepository) ListByParticipant(ctx context.Context, userID string, kind entity.ConversationKind) ([]*entity.Conversation, error) {
	var convs []*entity.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(memberPrefix(userID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var itemKind string
			if err := item.Value(func(val []byte) error {
				itemKind = string(val)
				return nil
			}); err != nil {
				return err
			}
			if kind != "" && entity.ConversationKind(itemKind) != kind {
				continue
			}
			ids = append(ids, string(item.Key()[len(prefix):]))
		}

		for _, id := range ids {
			var conv entity.Conversation
			if err := getJSON(txn, convKey(id), &conv); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			convs = append(convs, &conv)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("Failed to list conversations", err)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (r *badgerConversationRepository) FindChatBetween(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	var id string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pairKey(userA, userB)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("Chat", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to find chat", err)
	}
	return r.GetByID(ctx, id)
}

func (r *badgerConversationRepository) AddParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := update(r.db, func(txn *badger.Txn) error {
		if err := getJSON(txn, convKey(conversationID), &conv); err != nil {
			return err
		}
		if conv.HasParticipant(userID) {
			return nil
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, userID)
		if err := txn.Set([]byte(memberKey(userID, conv.ID)), []byte(conv.Kind)); err != nil {
			return err
		}
		return setJSON(txn, convKey(conv.ID), &conv)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("Conversation", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to add participant", err)
	}
	return &conv, nil
}

func (r *badgerConversationRepository) AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Conversation, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	requested := msg.Timestamp

	var conv entity.Conversation
	err := update(r.db, func(txn *badger.Txn) error {
		if err := getJSON(txn, convKey(msg.ConversationID), &conv); err != nil {
			return err
		}
		// Reset per attempt: a conflict retry must not see the previous attempt's values.
		msg.Seq = conv.LastSeq + 1
		msg.Timestamp = clampTimestamp(requested, &conv)
		conv.ApplyAppend(msg)

		if err := setJSON(txn, msgKey(msg.ConversationID, msg.Seq), msg); err != nil {
			return err
		}
		if err := txn.Set([]byte(msgIDKey(msg.ConversationID, msg.ID)), []byte(msgKey(msg.ConversationID, msg.Seq))); err != nil {
			return err
		}
		return setJSON(txn, convKey(conv.ID), &conv)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("Conversation", nil)
	}
	if err != nil {
		return nil, storeErr("Failed to append message", err)
	}
	return &conv, nil
}

func (r *badgerConversationRepository) GetMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	if beforeSeq == 0 {
		beforeSeq = newestSeq
	}
	if beforeSeq <= 1 || limit <= 0 {
		return []*entity.Message{}, nil
	}

	messages := make([]*entity.Message, 0, limit)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(msgPrefix(conversationID))
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the largest key <= the seek key.
		for it.Seek([]byte(msgKey(conversationID, beforeSeq-1))); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			msg, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("Failed to get messages", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *badgerConversationRepository) GetMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0)
	if limit <= 0 {
		return messages, nil
	}
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(msgPrefix(conversationID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(msgKey(conversationID, afterSeq+1))); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			msg, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("Failed to get messages", err)
	}
	return messages, nil
}

func (r *badgerConversationRepository) UpdateMessage(ctx context.Context, conversationID, messageID string, mutate func(*entity.Message) bool) (*entity.Message, bool, error) {
	var msg entity.Message
	var changed bool
	err := update(r.db, func(txn *badger.Txn) error {
		key, err := lookupMessageKey(txn, conversationID, messageID)
		if err != nil {
			return err
		}
		msg = entity.Message{}
		if err := getJSON(txn, key, &msg); err != nil {
			return err
		}
		changed = mutate(&msg)
		if !changed {
			return nil
		}
		return setJSON(txn, key, &msg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, apperrors.NotFound("Message", nil)
	}
	if err != nil {
		return nil, false, storeErr("Failed to update message", err)
	}
	return &msg, changed, nil
}

func lookupMessageKey(txn *badger.Txn, conversationID, messageID string) (string, error) {
	item, err := txn.Get([]byte(msgIDKey(conversationID, messageID)))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func decodeMessage(item *badger.Item) (*entity.Message, error) {
	var msg entity.Message
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// timestampResolution is the finest precision every store keeps. Firestore
// truncates to microseconds.
const timestampResolution = time.Microsecond

// clampTimestamp keeps message timestamps strictly increasing within a
// conversation even when the wall clock stalls or steps back.
func clampTimestamp(requested time.Time, conv *entity.Conversation) time.Time {
	if requested.IsZero() {
		requested = time.Now().UTC()
	}
	requested = requested.Truncate(timestampResolution)
	if conv.LastSeq > 0 && !requested.After(conv.UpdatedAt) {
		return conv.UpdatedAt.Truncate(timestampResolution).Add(timestampResolution)
	}
	return requested
}
