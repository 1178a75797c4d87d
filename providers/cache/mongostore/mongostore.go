// Package mongostore keeps cached responses and session histories in
// MongoDB. Responses and turns are stored as JSON strings because their part
// variants do not map onto BSON documents.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/cache"
)

const (
	DefaultResponseCollection = "response_cache"
	DefaultHistoryCollection  = "sessions"
)

// Connect dials uri and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	return client.Database(database), nil
}

type responseDocument struct {
	Key        string    `bson:"_id"`
	Response   string    `bson:"response"`
	ObtainedAt time.Time `bson:"obtained_at"`
}

// ResponseStore implements cache.Store on one collection.
type ResponseStore struct {
	collection *mongo.Collection
}

var _ cache.Store = (*ResponseStore)(nil)

// NewResponseStore wraps collection.
func NewResponseStore(collection *mongo.Collection) *ResponseStore {
	return &ResponseStore{collection: collection}
}

func (s *ResponseStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var doc responseDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: find response %q: %w", key, err)
	}

	response, err := cache.DecodeResponse(doc.Response)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{Response: response, ObtainedAt: doc.ObtainedAt}, nil
}

func (s *ResponseStore) Put(ctx context.Context, key string, entry cache.Entry) error {
	encoded, err := cache.EncodeResponse(entry.Response)
	if err != nil {
		return err
	}

	doc := responseDocument{Key: key, Response: encoded, ObtainedAt: entry.ObtainedAt}
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: upsert response %q: %w", key, err)
	}
	return nil
}

type historyDocument struct {
	ID        string    `bson:"_id"`
	Turns     string    `bson:"turns"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// HistoryStore persists chat session histories by session id.
type HistoryStore struct {
	collection *mongo.Collection
}

// NewHistoryStore wraps collection.
func NewHistoryStore(collection *mongo.Collection) *HistoryStore {
	return &HistoryStore{collection: collection}
}

// Save replaces the stored history of sessionID.
func (s *HistoryStore) Save(ctx context.Context, sessionID string, turns []ai.Turn) error {
	encoded, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("mongostore: encoding history: %w", err)
	}

	doc := historyDocument{ID: sessionID, Turns: string(encoded), UpdatedAt: time.Now().UTC()}
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: upsert session %q: %w", sessionID, err)
	}
	return nil
}

// Load returns the stored history, or nil when the session is unknown.
func (s *HistoryStore) Load(ctx context.Context, sessionID string) ([]ai.Turn, error) {
	var doc historyDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: find session %q: %w", sessionID, err)
	}

	var turns []ai.Turn
	if err := json.Unmarshal([]byte(doc.Turns), &turns); err != nil {
		return nil, fmt.Errorf("mongostore: decoding session %q: %w", sessionID, err)
	}
	return turns, nil
}

// Delete removes the stored history of sessionID.
func (s *HistoryStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("mongostore: delete session %q: %w", sessionID, err)
	}
	return nil
}
