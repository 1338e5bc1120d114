package usecase

import (
	"context"

	"chatcore/internal/domain/entity"
)

// MessageNotifier is told about every stored message and receipt. The
// DeliveryRouter is the production implementation.
type MessageNotifier interface {
	// OnMessageAppended runs while the conversation is still locked, so
	// notifications for one conversation are issued in append order.
	OnMessageAppended(ctx context.Context, msg *entity.Message, conv *entity.Conversation)
	OnMessageStatus(ctx context.Context, msg *entity.Message, userID string, state entity.DeliveryState)
}

// ActionLimiter throttles user actions such as sending messages.
type ActionLimiter interface {
	Allow(userID, action string) bool
}
