package entity

import "time"

type ConversationKind string

const (
	KindChat  ConversationKind = "chat"
	KindGroup ConversationKind = "group"
)

// Conversation is either a two-party chat or an N-party group. Messages are
// stored separately and addressed by (ID, Seq); LastSeq is the sequence number
// of the newest appended message.
type Conversation struct {
	ID             string           `json:"id" firestore:"id"`
	Kind           ConversationKind `json:"kind" firestore:"kind"`
	Name           string           `json:"name,omitempty" firestore:"name,omitempty"`
	ParticipantIDs []string         `json:"participantIds" firestore:"participantIds"`
	AdminIDs       []string         `json:"adminIds,omitempty" firestore:"adminIds,omitempty"`
	LastMessage    *MessageSummary  `json:"lastMessage,omitempty" firestore:"lastMessage,omitempty"`
	LastSeq        int64            `json:"lastSeq" firestore:"lastSeq"`
	CreatedAt      time.Time        `json:"createdAt" firestore:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt" firestore:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return containsID(c.ParticipantIDs, userID)
}

func (c *Conversation) IsAdmin(userID string) bool {
	return containsID(c.AdminIDs, userID)
}

// Recipients returns every participant except senderID.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

// ApplyAppend updates the derived fields after msg has been appended.
func (c *Conversation) ApplyAppend(msg *Message) {
	c.LastSeq = msg.Seq
	c.LastMessage = msg.Summary()
	c.UpdatedAt = msg.Timestamp
}
