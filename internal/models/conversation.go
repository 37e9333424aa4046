package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Conversation represents a thread shared by a set of participants.
// The participant set is unique across the store: creating a conversation
// with an identical set returns the existing document.
type Conversation struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Participants []string      `bson:"participants" json:"participants"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
