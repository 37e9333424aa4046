package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Message represents a single message inside a conversation.
// SenderID and SentAt are always assigned server-side from the verified
// identity and clock, never taken from a request payload.
type Message struct {
	ID             bson.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID bson.ObjectID `bson:"conversation_id" json:"conversation_id"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	Content        string        `bson:"content" json:"content"`
	SentAt         time.Time     `bson:"sent_at" json:"sent_at"`
	Read           bool          `bson:"read" json:"read"`
}
