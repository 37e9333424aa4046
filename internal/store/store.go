package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/parley-chat/parley/internal/models"
)

// ErrNotFound is returned when a lookup targets a document that does not
// exist. Callers use it to distinguish absence from infrastructure failure.
var ErrNotFound = errors.New("not found")

// ConversationStore owns conversation documents. MongoConversations and
// MemoryConversations implement it.
type ConversationStore interface {
	// CreateOrGet inserts a conversation for the given participant set, or
	// returns the existing one when a conversation with the same set
	// (compared order-independently) already exists. Existing documents are
	// returned unchanged; no timestamps are bumped.
	CreateOrGet(ctx context.Context, participants []string) (*models.Conversation, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Conversation, error)
	FindByParticipant(ctx context.Context, userID string) ([]models.Conversation, error)
	// Delete removes a conversation. Deleting an id that is already gone is
	// a no-op, not an error.
	Delete(ctx context.Context, id bson.ObjectID) error
	// AddParticipant and RemoveParticipant have set semantics: adding an
	// existing member or removing an absent one succeeds without effect.
	// Each call bumps updated_at on the matched document.
	AddParticipant(ctx context.Context, id bson.ObjectID, userID string) error
	RemoveParticipant(ctx context.Context, id bson.ObjectID, userID string) error
}

// MessageStore owns message documents. MongoMessages and MemoryMessages
// implement it.
type MessageStore interface {
	// Append inserts a pre-validated message, assigning the identifier and
	// any timestamp fields not already set. Content validation is the
	// caller's job.
	Append(ctx context.Context, msg *models.Message) (bson.ObjectID, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Message, error)
	// ListByConversation returns messages newest first (sent_at descending).
	// limit is clamped to [1,100] regardless of caller input; skip offsets
	// after sorting and is floored at 0.
	ListByConversation(ctx context.Context, convID bson.ObjectID, skip, limit int64) ([]models.Message, error)
	SetRead(ctx context.Context, id bson.ObjectID, read bool) error
	Delete(ctx context.Context, id bson.ObjectID) error
}

const (
	minListLimit = 1
	maxListLimit = 100
)

// clampLimit bounds a page size to [1,100] to cap resource usage.
func clampLimit(limit int64) int64 {
	if limit < minListLimit {
		return minListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func clampSkip(skip int64) int64 {
	if skip < 0 {
		return 0
	}
	return skip
}

// normalizeParticipants deduplicates a participant list, preserving first
// occurrence order. Set comparison downstream is order-independent.
func normalizeParticipants(participants []string) []string {
	seen := make(map[string]bool, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
