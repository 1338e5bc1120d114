package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

const DefaultMaxMessageLength = 4000

// replayBatch bounds each forward read when catching a client up.
const replayBatch = utils.MaxPageSize

// MessageStore is the single writer of messages. Appends to one conversation
// are serialized so that sequence numbers and timestamps only move forward.
type MessageStore struct {
	convRepo  repository.ConversationRepository
	notifier  MessageNotifier
	locks     *utils.KeyedMutex
	maxLength int
	now       func() time.Time
}

func NewMessageStore(convRepo repository.ConversationRepository, notifier MessageNotifier, maxLength int) *MessageStore {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &MessageStore{
		convRepo:  convRepo,
		notifier:  notifier,
		locks:     utils.NewKeyedMutex(),
		maxLength: maxLength,
		now:       time.Now,
	}
}

// MessagePage is one page of history in ascending order. NextCursor is empty
// when there is nothing older.
type MessagePage struct {
	Messages   []*entity.Message `json:"messages"`
	NextCursor string            `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

// loadForParticipant returns the conversation when userID belongs to it.
func loadForParticipant(ctx context.Context, convRepo repository.ConversationRepository, conversationID, userID string) (*entity.Conversation, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("Conversation ID is required", nil)
	}
	conv, err := convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant of this conversation", nil)
	}
	return conv, nil
}

func (s *MessageStore) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.InvalidInput("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return "", errors.InvalidInput(fmt.Sprintf("Message content exceeds %d characters", s.maxLength))
	}
	return content, nil
}

// AppendMessage stores a message from senderID and hands it to the notifier
// before releasing the conversation lock.
func (s *MessageStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*entity.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	if _, err := loadForParticipant(ctx, s.convRepo, conversationID, senderID); err != nil {
		return nil, err
	}
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      s.now().UTC(),
		ReadBy:         []string{},
		DeliveredTo:    []string{},
		DeliveryState:  entity.DeliverySent,
	}

	conv, err := s.convRepo.AppendMessage(ctx, msg)
	if err != nil {
		logger.Error("Failed to append message to conversation %s: %v", conversationID, err)
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.OnMessageAppended(ctx, msg, conv)
	}
	return msg, nil
}

// GetMessages pages backwards from cursor. An empty cursor starts at the newest message.
func (s *MessageStore) GetMessages(ctx context.Context, conversationID, userID, cursor string, pageSize int) (*MessagePage, error) {
	if _, err := loadForParticipant(ctx, s.convRepo, conversationID, userID); err != nil {
		return nil, err
	}
	beforeSeq, ok := utils.DecodeCursor(cursor)
	if !ok {
		return nil, errors.BadRequest("Invalid cursor", nil)
	}
	return s.page(ctx, conversationID, beforeSeq, utils.ClampPageSize(pageSize))
}

// GetPage serves numbered pages, page 1 being the newest messages.
func (s *MessageStore) GetPage(ctx context.Context, conversationID, userID string, page, pageSize int) (*MessagePage, error) {
	conv, err := loadForParticipant(ctx, s.convRepo, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampPageSize(pageSize)

	beforeSeq := conv.LastSeq - int64(page-1)*int64(pageSize) + 1
	if beforeSeq <= 1 {
		return &MessagePage{Messages: []*entity.Message{}}, nil
	}
	return s.page(ctx, conversationID, beforeSeq, pageSize)
}

func (s *MessageStore) page(ctx context.Context, conversationID string, beforeSeq int64, pageSize int) (*MessagePage, error) {
	messages, err := s.convRepo.GetMessages(ctx, conversationID, beforeSeq, pageSize)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: messages}
	if len(messages) > 0 {
		page.NextCursor = utils.EncodeCursor(messages[0].Seq)
		page.HasMore = page.NextCursor != ""
	}
	return page, nil
}

func (s *MessageStore) MarkDelivered(ctx context.Context, conversationID, messageID, userID string) (*entity.Message, error) {
	return s.mark(ctx, conversationID, messageID, userID, entity.DeliveryDelivered)
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, messageID, userID string) (*entity.Message, error) {
	return s.mark(ctx, conversationID, messageID, userID, entity.DeliveryRead)
}

func (s *MessageStore) mark(ctx context.Context, conversationID, messageID, userID string, state entity.DeliveryState) (*entity.Message, error) {
	return applyReceipt(ctx, s.convRepo, s.notifier, conversationID, messageID, userID, state)
}

// applyReceipt records a delivered or read receipt from userID and tells
// notifier when the message state actually changed.
func applyReceipt(ctx context.Context, convRepo repository.ConversationRepository, notifier MessageNotifier, conversationID, messageID, userID string, state entity.DeliveryState) (*entity.Message, error) {
	if _, err := loadForParticipant(ctx, convRepo, conversationID, userID); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, errors.BadRequest("Message ID is required", nil)
	}

	msg, changed, err := convRepo.UpdateMessage(ctx, conversationID, messageID, func(m *entity.Message) bool {
		if state == entity.DeliveryRead {
			return m.MarkRead(userID)
		}
		return m.MarkDelivered(userID)
	})
	if err != nil {
		return nil, err
	}

	if changed && notifier != nil {
		notifier.OnMessageStatus(ctx, msg, userID, state)
	}
	return msg, nil
}
