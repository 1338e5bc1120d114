package repository

import (
	"context"

	"chatcore/internal/domain/entity"
)

type ConversationRepository interface {
	Create(ctx context.Context, conv *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// ListByParticipant returns conversations userID belongs to, newest activity
	// first. An empty kind matches both chats and groups.
	ListByParticipant(ctx context.Context, userID string, kind entity.ConversationKind) ([]*entity.Conversation, error)
	FindChatBetween(ctx context.Context, userA, userB string) (*entity.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error)

	// AppendMessage stores msg and updates the conversation in one atomic step.
	// It assigns msg.Seq = LastSeq+1 and clamps msg.Timestamp so that it is
	// strictly after the previous message. It returns the updated conversation.
	AppendMessage(ctx context.Context, msg *entity.Message) (*entity.Conversation, error)
	// GetMessages returns up to limit messages with Seq < beforeSeq in ascending
	// order. beforeSeq == 0 means "from the newest message".
	GetMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*entity.Message, error)
	// GetMessagesAfter returns up to limit messages with Seq > afterSeq in ascending order.
	GetMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*entity.Message, error)
	// UpdateMessage loads a message, applies mutate and persists it when mutate reports a change.
	UpdateMessage(ctx context.Context, conversationID, messageID string, mutate func(*entity.Message) bool) (*entity.Message, bool, error)
}
