package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chatcore/internal/domain/entity"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

const frameTimeout = 10 * time.Second

const (
	actionTyping = "typing"
	actionSync   = "sync"
)

// FrameRouter carries out the inbound frame operations.
type FrameRouter interface {
	OnTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
	OnAck(ctx context.Context, userID, conversationID, messageID string) error
	OnRead(ctx context.Context, userID, conversationID, messageID string) error
	Replay(ctx context.Context, conn Connection, conversationID string, afterSeq int64) error
}

// Limiter throttles inbound frames per user and action.
type Limiter interface {
	Allow(userID, action string) bool
}

// MessageHandler decodes client frames and dispatches them to a FrameRouter.
// Errors are answered with an error frame; the connection stays open.
type MessageHandler struct {
	router  FrameRouter
	limiter Limiter
}

func NewMessageHandler(router FrameRouter, limiter Limiter) *MessageHandler {
	return &MessageHandler{
		router:  router,
		limiter: limiter,
	}
}

func (h *MessageHandler) HandleClientMessage(conn Connection, raw []byte) {
	var frame entity.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendError(conn, errors.BadRequest("Invalid frame format", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	var err error
	switch frame.Type {
	case entity.FramePing:
		err = sendJSON(conn, map[string]string{"type": entity.EventPong})

	case entity.FrameTyping:
		if !h.allow(conn.UserID(), actionTyping) {
			// Typing is best effort; throttled frames are dropped silently.
			return
		}
		err = h.router.OnTyping(ctx, frame.ChatID, conn.UserID(), frame.IsTyping)

	case entity.FrameAck:
		err = h.router.OnAck(ctx, conn.UserID(), frame.ChatID, frame.MessageID)

	case entity.FrameRead:
		err = h.router.OnRead(ctx, conn.UserID(), frame.ChatID, frame.MessageID)

	case entity.FrameSync:
		if !h.allow(conn.UserID(), actionSync) {
			err = errors.TooManyRequests("Too many sync requests")
			break
		}
		err = h.router.Replay(ctx, conn, frame.ChatID, frame.AfterSeq)

	default:
		err = errors.BadRequest("Unknown frame type: "+frame.Type, nil)
	}

	if err != nil {
		logger.Debug("Frame %q from user %s failed: %v", frame.Type, conn.UserID(), err)
		sendError(conn, err)
	}
}

func (h *MessageHandler) allow(userID, action string) bool {
	return h.limiter == nil || h.limiter.Allow(userID, action)
}

func sendJSON(conn Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Internal("Failed to encode frame", err)
	}
	return conn.Send(data)
}

func sendError(conn Connection, err error) {
	message := "Internal server error"
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	frame := entity.ErrorEvent{
		Type:    entity.EventError,
		Code:    errors.Code(err),
		Message: message,
	}
	if sendErr := sendJSON(conn, frame); sendErr != nil {
		logger.Debug("Could not deliver error frame to %s: %v", conn.ID(), sendErr)
	}
}
