package entity

import "time"

type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case DeliveryDelivered:
		return 1
	case DeliveryRead:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next; delivery states never regress.
func (s DeliveryState) Advance(next DeliveryState) DeliveryState {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type Message struct {
	ID             string        `json:"id" firestore:"id"`
	ConversationID string        `json:"conversationId" firestore:"conversationId"`
	Seq            int64         `json:"seq" firestore:"seq"`
	SenderID       string        `json:"senderId" firestore:"senderId"`
	Content        string        `json:"content" firestore:"content"`
	Timestamp      time.Time     `json:"timestamp" firestore:"timestamp"`
	ReadBy         []string      `json:"readBy" firestore:"readBy"`
	DeliveredTo    []string      `json:"deliveredTo" firestore:"deliveredTo"`
	DeliveryState  DeliveryState `json:"deliveryState" firestore:"deliveryState"`
}

// MarkDelivered records userID as a recipient that received the message.
// It reports whether anything changed.
func (m *Message) MarkDelivered(userID string) bool {
	if userID == m.SenderID || containsID(m.DeliveredTo, userID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, userID)
	m.DeliveryState = m.DeliveryState.Advance(DeliveryDelivered)
	return true
}

// MarkRead records userID as a reader. Read implies delivered.
func (m *Message) MarkRead(userID string) bool {
	if userID == m.SenderID || containsID(m.ReadBy, userID) {
		return false
	}
	m.MarkDelivered(userID)
	m.ReadBy = append(m.ReadBy, userID)
	m.DeliveryState = m.DeliveryState.Advance(DeliveryRead)
	return true
}

func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

type MessageSummary struct {
	ID        string    `json:"id" firestore:"id"`
	SenderID  string    `json:"senderId" firestore:"senderId"`
	Content   string    `json:"content" firestore:"content"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
