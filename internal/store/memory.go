package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/parley-chat/parley/internal/models"
)

// MemoryStore bundles in-memory entity stores with the same semantics as
// the MongoDB ones: set-based participant dedup, newest-first scans,
// clamped limits. It backs local development without a MongoDB instance
// and the handler tests.
type MemoryStore struct {
	Conversations *MemoryConversations
	Messages      *MemoryMessages
}

// MemoryConversations is the in-memory conversation store.
type MemoryConversations struct {
	mu   sync.RWMutex
	byID map[bson.ObjectID]*models.Conversation
}

// MemoryMessages is the in-memory message store.
type MemoryMessages struct {
	mu   sync.RWMutex
	byID map[bson.ObjectID]*models.Message
}

var (
	_ ConversationStore = (*MemoryConversations)(nil)
	_ MessageStore      = (*MemoryMessages)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Conversations: &MemoryConversations{byID: make(map[bson.ObjectID]*models.Conversation)},
		Messages:      &MemoryMessages{byID: make(map[bson.ObjectID]*models.Message)},
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sameParticipantSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		if !set[p] {
			return false
		}
	}
	return true
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	return &out
}

// CreateOrGet returns the conversation with the same participant set if
// one exists, inserting otherwise.
func (c *MemoryConversations) CreateOrGet(ctx context.Context, participants []string) (*models.Conversation, error) {
	participants = normalizeParticipants(participants)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conv := range c.byID {
		if sameParticipantSet(conv.Participants, participants) {
			return copyConversation(conv), nil
		}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:           bson.NewObjectID(),
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.byID[conv.ID] = conv
	return copyConversation(conv), nil
}

// FindByID retrieves a conversation by id.
func (c *MemoryConversations) FindByID(ctx context.Context, id bson.ObjectID) (*models.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// FindByParticipant retrieves every conversation the user is a member of.
func (c *MemoryConversations) FindByParticipant(ctx context.Context, userID string) ([]models.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, conv := range c.byID {
		if conv.HasParticipant(userID) {
			out = append(out, *copyConversation(conv))
		}
	}
	return out, nil
}

// Delete removes a conversation. Unknown ids are a no-op.
func (c *MemoryConversations) Delete(ctx context.Context, id bson.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, id)
	return nil
}

// AddParticipant adds a member if absent and bumps updated_at.
func (c *MemoryConversations) AddParticipant(ctx context.Context, id bson.ObjectID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !conv.HasParticipant(userID) {
		conv.Participants = append(conv.Participants, userID)
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveParticipant removes a member if present and bumps updated_at.
func (c *MemoryConversations) RemoveParticipant(ctx context.Context, id bson.ObjectID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[id]
	if !ok {
		return ErrNotFound
	}
	for i, p := range conv.Participants {
		if p == userID {
			conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
			break
		}
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// Append inserts a message, assigning id and sent_at if not already set.
func (m *MemoryMessages) Append(ctx context.Context, msg *models.Message) (bson.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID.IsZero() {
		msg.ID = bson.NewObjectID()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	stored := *msg
	m.byID[msg.ID] = &stored
	return msg.ID, nil
}

// FindByID retrieves a message by id.
func (m *MemoryMessages) FindByID(ctx context.Context, id bson.ObjectID) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *msg
	return &out, nil
}

// ListByConversation returns a conversation's messages newest first.
func (m *MemoryMessages) ListByConversation(ctx context.Context, convID bson.ObjectID, skip, limit int64) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]models.Message, 0)
	for _, msg := range m.byID {
		if msg.ConversationID == convID {
			all = append(all, *msg)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].SentAt.After(all[j].SentAt)
	})

	skip = clampSkip(skip)
	limit = clampLimit(limit)
	if skip >= int64(len(all)) {
		return []models.Message{}, nil
	}
	all = all[skip:]
	if int64(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SetRead updates a message's read flag.
func (m *MemoryMessages) SetRead(ctx context.Context, id bson.ObjectID, read bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	msg.Read = read
	return nil
}

// Delete removes a message. Unknown ids are a no-op.
func (m *MemoryMessages) Delete(ctx context.Context, id bson.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byID, id)
	return nil
}
