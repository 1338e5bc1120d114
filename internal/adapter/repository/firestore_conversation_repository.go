package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection)
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection(messagesCollection)
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
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

	_, err := r.conversations().Doc(conv.ID).Create(ctx, conv)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists")
		}
		return errors.Store("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Store("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Store("Failed to parse conversation data", err)
	}

	return &conv, nil
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, userID string, kind entity.ConversationKind) ([]*entity.Conversation, error) {
	query := r.conversations().Where("participantIds", "array-contains", userID)
	if kind != "" {
		query = query.Where("kind", "==", string(kind))
	}

	// Sorted in memory so the query does not need a composite index.
	iter := query.Documents(ctx)
	defer iter.Stop()

	var convs []*entity.Conversation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing conversations for user %s: %v", userID, err)
			return nil, errors.Store("Failed to list conversations", err)
		}

		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		convs = append(convs, &conv)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (r *firestoreConversationRepository) FindChatBetween(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	chats, err := r.ListByParticipant(ctx, userA, entity.KindChat)
	if err != nil {
		return nil, err
	}
	for _, chat := range chats {
		if chat.HasParticipant(userB) {
			return chat, nil
		}
	}
	return nil, errors.NotFound("Chat", nil)
}

func (r *firestoreConversationRepository) AddParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	ref := r.conversations().Doc(conversationID)
	var conv entity.Conversation

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		conv = entity.Conversation{}
		if err := doc.DataTo(&conv); err != nil {
			return err
		}
		if conv.HasParticipant(userID) {
			return nil
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, userID)
		return tx.Set(ref, &conv)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Store("Failed to add participant", err)
	}
	return &conv, nil
}

// AppendMessage runs in a Firestore transaction: the conversation document is
// read, its lastSeq advanced and the message written together, so concurrent
// writers from other processes are serialized by Firestore as well.
func (r *firestoreConversationRepository) AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Conversation, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	requested := msg.Timestamp
	convRef := r.conversations().Doc(msg.ConversationID)
	var conv entity.Conversation

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(convRef)
		if err != nil {
			return err
		}
		conv = entity.Conversation{}
		if err := doc.DataTo(&conv); err != nil {
			return err
		}

		msg.Seq = conv.LastSeq + 1
		msg.Timestamp = clampTimestamp(requested, &conv)
		conv.ApplyAppend(msg)

		if err := tx.Create(r.messages(msg.ConversationID).Doc(msg.ID), msg); err != nil {
			return err
		}
		return tx.Set(convRef, &conv)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Store("Failed to append message", err)
	}

	return &conv, nil
}

func (r *firestoreConversationRepository) GetMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 || beforeSeq == 1 {
		return []*entity.Message{}, nil
	}

	query := r.messages(conversationID).Query
	if beforeSeq > 0 {
		query = query.Where("seq", "<", beforeSeq)
	}
	query = query.OrderBy("seq", firestore.Desc).Limit(limit)

	messages, err := r.collectMessages(ctx, conversationID, query)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *firestoreConversationRepository) GetMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 {
		return []*entity.Message{}, nil
	}
	query := r.messages(conversationID).
		Where("seq", ">", afterSeq).
		OrderBy("seq", firestore.Asc).
		Limit(limit)
	return r.collectMessages(ctx, conversationID, query)
}

func (r *firestoreConversationRepository) collectMessages(ctx context.Context, conversationID string, query firestore.Query) ([]*entity.Message, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	messages := make([]*entity.Message, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.Store("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Error("Error parsing message data for conversation %s: %v", conversationID, err)
			return nil, errors.Store("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}
	return messages, nil
}

func (r *firestoreConversationRepository) UpdateMessage(ctx context.Context, conversationID, messageID string, mutate func(*entity.Message) bool) (*entity.Message, bool, error) {
	ref := r.messages(conversationID).Doc(messageID)
	var message entity.Message
	var changed bool

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		message = entity.Message{}
		if err := doc.DataTo(&message); err != nil {
			return err
		}
		changed = mutate(&message)
		if !changed {
			return nil
		}
		return tx.Set(ref, &message)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, errors.NotFound("Message", nil)
		}
		return nil, false, errors.Store("Failed to update message", err)
	}
	return &message, changed, nil
}
