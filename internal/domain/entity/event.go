package entity

import "time"

// Live channel frame types. Server to client:
const (
	EventNewMessage         = "new_message"
	EventUserStatus         = "user_status"
	EventTyping             = "typing"
	EventMessageStatus      = "message_status"
	EventConversationUpdate = "conversation_update"
	EventPong               = "pong"
	EventError              = "error"
)

// Client to server:
const (
	FrameTyping = "typing"
	FrameAck    = "ack"
	FrameRead   = "read"
	FrameSync   = "sync"
	FramePing   = "ping"
)

type NewMessageEvent struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
	Replay         bool     `json:"replay,omitempty"`
}

type UserStatusEvent struct {
	Type     string    `json:"type"`
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type TypingEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type MessageStatusEvent struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	UserID         string        `json:"userId"`
	State          DeliveryState `json:"state"`
}

type ConversationUpdateEvent struct {
	Type         string        `json:"type"`
	Conversation *Conversation `json:"conversation"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientFrame is the union of every client to server frame.
type ClientFrame struct {
	Type      string `json:"type"`
	ChatID    string `json:"chatId,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	AfterSeq  int64  `json:"afterSeq,omitempty"`
}
