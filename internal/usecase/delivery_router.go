package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

const hookTimeout = 10 * time.Second

// DeliveryRouter turns store and registry events into live channel frames.
// Delivery is best effort: a recipient without a live connection simply
// finds the message in history later.
type DeliveryRouter struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	manager  *ws.Manager
	now      func() time.Time
}

// NewDeliveryRouter also installs the router as the manager's presence and
// typing expiry hook.
func NewDeliveryRouter(convRepo repository.ConversationRepository, userRepo repository.UserRepository, manager *ws.Manager) *DeliveryRouter {
	r := &DeliveryRouter{
		convRepo: convRepo,
		userRepo: userRepo,
		manager:  manager,
		now:      time.Now,
	}
	manager.OnPresenceChange(func(userID string, online bool) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := r.OnPresenceChange(ctx, userID, online); err != nil {
			logger.Warn("Presence update for %s failed: %v", userID, err)
		}
	})
	manager.OnTypingExpired(func(conversationID, userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		r.typingStopped(ctx, conversationID, userID)
	})
	return r
}

func encode(v interface{}) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode live frame: %v", err)
		return nil, false
	}
	return data, true
}

// OnMessageAppended pushes new_message to every online recipient and a
// conversation_update to the sender's own connections.
func (r *DeliveryRouter) OnMessageAppended(ctx context.Context, msg *entity.Message, conv *entity.Conversation) {
	data, ok := encode(entity.NewMessageEvent{
		Type:           entity.EventNewMessage,
		ConversationID: conv.ID,
		Message:        msg,
	})
	if !ok {
		return
	}

	for _, recipientID := range conv.Recipients(msg.SenderID) {
		if !r.manager.IsOnline(recipientID) {
			continue
		}
		if sent := r.manager.SendToUser(recipientID, data); sent == 0 {
			logger.Debug("Message %s not pushed to %s: no healthy connection", msg.ID, recipientID)
		}
	}

	if update, ok := encode(entity.ConversationUpdateEvent{
		Type:         entity.EventConversationUpdate,
		Conversation: conv,
	}); ok {
		r.manager.SendToUser(msg.SenderID, update)
	}
}

// OnMessageStatus tells the sender that userID received or read msg.
func (r *DeliveryRouter) OnMessageStatus(ctx context.Context, msg *entity.Message, userID string, state entity.DeliveryState) {
	data, ok := encode(entity.MessageStatusEvent{
		Type:           entity.EventMessageStatus,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         userID,
		State:          state,
	})
	if !ok {
		return
	}
	r.manager.SendToUser(msg.SenderID, data)
}

// OnPresenceChange persists presence and sends one user_status frame to each
// distinct user sharing a conversation with userID.
func (r *DeliveryRouter) OnPresenceChange(ctx context.Context, userID string, online bool) error {
	lastSeen := r.now().UTC()
	if err := r.userRepo.SetPresence(ctx, userID, online, lastSeen); err != nil {
		logger.Warn("Failed to persist presence for %s: %v", userID, err)
	}

	convs, err := r.convRepo.ListByParticipant(ctx, userID, "")
	if err != nil {
		return err
	}

	partners := lo.Uniq(lo.FlatMap(convs, func(conv *entity.Conversation, _ int) []string {
		return conv.Recipients(userID)
	}))

	data, ok := encode(entity.UserStatusEvent{
		Type:     entity.EventUserStatus,
		UserID:   userID,
		Online:   online,
		LastSeen: lastSeen,
	})
	if !ok {
		return errors.Internal("Failed to encode presence frame", nil)
	}

	for _, partnerID := range partners {
		r.manager.SendToUser(partnerID, data)
	}
	return nil
}

// OnTyping records the indicator and relays it to the other participants.
func (r *DeliveryRouter) OnTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	conv, err := loadForParticipant(ctx, r.convRepo, conversationID, userID)
	if err != nil {
		return err
	}

	expiresAt := r.manager.SetTyping(conversationID, userID, isTyping)
	r.broadcastTyping(conv, userID, isTyping, expiresAt)
	return nil
}

func (r *DeliveryRouter) typingStopped(ctx context.Context, conversationID, userID string) {
	conv, err := r.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		logger.Debug("Typing expiry for unknown conversation %s: %v", conversationID, err)
		return
	}
	r.broadcastTyping(conv, userID, false, time.Time{})
}

func (r *DeliveryRouter) broadcastTyping(conv *entity.Conversation, userID string, isTyping bool, expiresAt time.Time) {
	data, ok := encode(entity.TypingEvent{
		Type:           entity.EventTyping,
		ConversationID: conv.ID,
		UserID:         userID,
		IsTyping:       isTyping,
		ExpiresAt:      expiresAt,
	})
	if !ok {
		return
	}
	for _, recipientID := range conv.Recipients(userID) {
		r.manager.SendToUser(recipientID, data)
	}
}

// OnAck records that userID's device received the message.
func (r *DeliveryRouter) OnAck(ctx context.Context, userID, conversationID, messageID string) error {
	_, err := applyReceipt(ctx, r.convRepo, r, conversationID, messageID, userID, entity.DeliveryDelivered)
	return err
}

func (r *DeliveryRouter) OnRead(ctx context.Context, userID, conversationID, messageID string) error {
	_, err := applyReceipt(ctx, r.convRepo, r, conversationID, messageID, userID, entity.DeliveryRead)
	return err
}

// Replay resends every stored message after afterSeq to one connection.
// Clients deduplicate by message ID, so overlap with live pushes is harmless.
func (r *DeliveryRouter) Replay(ctx context.Context, conn ws.Connection, conversationID string, afterSeq int64) error {
	if _, err := loadForParticipant(ctx, r.convRepo, conversationID, conn.UserID()); err != nil {
		return err
	}
	if afterSeq < 0 {
		afterSeq = 0
	}

	for {
		messages, err := r.convRepo.GetMessagesAfter(ctx, conversationID, afterSeq, replayBatch)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			data, ok := encode(entity.NewMessageEvent{
				Type:           entity.EventNewMessage,
				ConversationID: conversationID,
				Message:        msg,
				Replay:         true,
			})
			if !ok {
				continue
			}
			if err := conn.Send(data); err != nil {
				return err
			}
			afterSeq = msg.Seq
		}
		if len(messages) < replayBatch {
			return nil
		}
	}
}
