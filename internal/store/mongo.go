package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/parley-chat/parley/internal/models"
)

const databaseName = "messaging"

// MongoStore bundles the MongoDB-backed entity stores behind a single
// client connection. Conversations and Messages each implement their
// respective store interface.
type MongoStore struct {
	client        *mongo.Client
	Conversations *MongoConversations
	Messages      *MongoMessages
}

// MongoConversations handles MongoDB operations on conversation documents.
type MongoConversations struct {
	coll *mongo.Collection
}

// MongoMessages handles MongoDB operations on message documents.
type MongoMessages struct {
	coll *mongo.Collection
}

var (
	_ ConversationStore = (*MongoConversations)(nil)
	_ MessageStore      = (*MongoMessages)(nil)
)

// NewMongoStore connects to MongoDB and ensures the indexes the query
// paths depend on.
func NewMongoStore(ctx context.Context, mongoURI string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(databaseName)
	s := &MongoStore{
		client:        client,
		Conversations: &MongoConversations{coll: db.Collection("conversations")},
		Messages:      &MongoMessages{coll: db.Collection("messages")},
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}

	return s, nil
}

// ensureIndexes creates the indexes backing the participant-set dedup
// lookup and the per-conversation newest-first scan.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.Conversations.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.Messages.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: -1}}},
	})
	return err
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// CreateOrGet returns the conversation matching the exact participant set
// if one exists, inserting a new document otherwise.
func (c *MongoConversations) CreateOrGet(ctx context.Context, participants []string) (*models.Conversation, error) {
	participants = normalizeParticipants(participants)

	filter := bson.D{{Key: "participants", Value: bson.D{
		{Key: "$all", Value: participants},
		{Key: "$size", Value: len(participants)},
	}}}

	existing := &models.Conversation{}
	err := c.coll.FindOne(ctx, filter).Decode(existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := c.coll.InsertOne(ctx, conv)
	if err != nil {
		return nil, err
	}
	conv.ID = res.InsertedID.(bson.ObjectID)
	return conv, nil
}

// FindByID retrieves a conversation by id.
func (c *MongoConversations) FindByID(ctx context.Context, id bson.ObjectID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindByParticipant retrieves every conversation the user is a member of.
func (c *MongoConversations) FindByParticipant(ctx context.Context, userID string) ([]models.Conversation, error) {
	cursor, err := c.coll.Find(ctx, bson.D{{Key: "participants", Value: userID}})
	if err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// Delete removes a conversation. Messages are not cascaded; cache
// invalidation is the caller's responsibility.
func (c *MongoConversations) Delete(ctx context.Context, id bson.ObjectID) error {
	_, err := c.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return err
}

// AddParticipant adds a member with $addToSet semantics and bumps updated_at.
func (c *MongoConversations) AddParticipant(ctx context.Context, id bson.ObjectID, userID string) error {
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "participants", Value: userID}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}
	res, err := c.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveParticipant removes a member with $pull semantics and bumps updated_at.
func (c *MongoConversations) RemoveParticipant(ctx context.Context, id bson.ObjectID, userID string) error {
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "participants", Value: userID}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}
	res, err := c.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Append inserts a message, assigning sent_at if not already set.
func (m *MongoMessages) Append(ctx context.Context, msg *models.Message) (bson.ObjectID, error) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	res, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return bson.ObjectID{}, err
	}
	id := res.InsertedID.(bson.ObjectID)
	msg.ID = id
	return id, nil
}

// FindByID retrieves a message by id.
func (m *MongoMessages) FindByID(ctx context.Context, id bson.ObjectID) (*models.Message, error) {
	msg := &models.Message{}
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByConversation returns a conversation's messages newest first.
func (m *MongoMessages) ListByConversation(ctx context.Context, convID bson.ObjectID, skip, limit int64) ([]models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}}).
		SetSkip(clampSkip(skip)).
		SetLimit(clampLimit(limit))

	cursor, err := m.coll.Find(ctx, bson.D{{Key: "conversation_id", Value: convID}}, opts)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SetRead updates a message's read flag.
func (m *MongoMessages) SetRead(ctx context.Context, id bson.ObjectID, read bool) error {
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "read", Value: read}}}}
	res, err := m.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a message. Deleting an already-deleted id is a no-op.
func (m *MongoMessages) Delete(ctx context.Context, id bson.ObjectID) error {
	_, err := m.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return err
}
