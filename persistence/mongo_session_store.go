package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type mongoSession struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Feature   string    `bson:"feature"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoMessage struct {
	ID        bson.ObjectID `bson:"_id"`
	SessionID string        `bson:"session_id"`
	Role      string        `bson:"role"`
	Content   string        `bson:"content"`
	CreatedAt time.Time     `bson:"created_at"`
}

// MongoSessionStore is the MongoDB implementation of SessionStore.
// Sessions and messages live in separate collections; a partial unique
// index on (user_id, feature) guards the one-active-session invariant.
type MongoSessionStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
	logger   *zap.Logger
}

// NewMongoSessionStore connects to MongoDB, verifies the connection and
// ensures the session indexes.
func NewMongoSessionStore(ctx context.Context, cfg Config, logger *zap.Logger) (*MongoSessionStore, error) {
	if cfg.Mongo.URI == "" {
		return nil, fmt.Errorf("session store: %w: mongo uri is required", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dbName := cfg.Mongo.Database
	if dbName == "" {
		dbName = "askflow"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoSessionStore{
		client:   client,
		sessions: db.Collection("sessions"),
		messages: db.Collection("messages"),
		logger:   logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure session indexes: %w", err)
	}

	logger.Info("session store ready",
		zap.String("backend", string(StoreTypeMongo)),
		zap.String("database", dbName))

	return s, nil
}

func (s *MongoSessionStore) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "feature", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "status", Value: SessionStatusActive}}),
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

// Close disconnects from MongoDB.
func (s *MongoSessionStore) Close() error {
	if s.client != nil {
		return s.client.Disconnect(context.Background())
	}
	return nil
}

// Ping checks if MongoDB is reachable.
func (s *MongoSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// GetOrCreateActiveSession returns the active session for the user and
// feature, creating one when none exists.
func (s *MongoSessionStore) GetOrCreateActiveSession(ctx context.Context, userID, feature string) (string, error) {
	if userID == "" || feature == "" {
		return "", ErrInvalidInput
	}

	filter := bson.M{
		"user_id": userID,
		"feature": feature,
		"status":  SessionStatusActive,
	}

	// Two concurrent upserts can collide on the partial unique index;
	// the loser reruns once and adopts the winner's session.
	for attempt := 0; ; attempt++ {
		now := time.Now()
		update := bson.M{
			"$setOnInsert": bson.M{
				"_id":        uuid.New().String(),
				"created_at": now,
			},
			"$set": bson.M{"updated_at": now},
		}

		var doc mongoSession
		err := s.sessions.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().
				SetUpsert(true).
				SetReturnDocument(options.After)).
			Decode(&doc)
		if err == nil {
			return doc.ID, nil
		}
		if mongo.IsDuplicateKeyError(err) && attempt == 0 {
			continue
		}
		return "", fmt.Errorf("mongo get or create session: %w", err)
	}
}

// AddMessage appends one turn to the session transcript.
func (s *MongoSessionStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" || role == "" {
		return ErrInvalidInput
	}

	if err := s.sessionExists(ctx, sessionID); err != nil {
		return err
	}

	now := time.Now()
	_, err := s.messages.InsertOne(ctx, mongoMessage{
		ID:        bson.NewObjectID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("mongo save message: %w", err)
	}

	_, err = s.sessions.UpdateByID(ctx, sessionID, bson.M{"$set": bson.M{"updated_at": now}})
	if err != nil {
		s.logger.Warn("touch session failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return nil
}

// Messages returns the session transcript in append order. Append order
// rides on ObjectID time ordering.
func (s *MongoSessionStore) Messages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	if err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	reversed := false
	if limit > 0 {
		opts = options.Find().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetLimit(int64(limit))
		reversed = true
	}

	cur, err := s.messages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo load messages: %w", err)
	}
	var rows []mongoMessage
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongo decode messages: %w", err)
	}
	if reversed {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	out := make([]StoredMessage, len(rows))
	for i, r := range rows {
		out[i] = StoredMessage{
			ID:        r.ID.Hex(),
			SessionID: r.SessionID,
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// CloseSession marks the session closed.
func (s *MongoSessionStore) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}

	result, err := s.sessions.UpdateByID(ctx, sessionID, bson.M{
		"$set": bson.M{
			"status":     SessionStatusClosed,
			"updated_at": time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo close session: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MongoSessionStore) sessionExists(ctx context.Context, sessionID string) error {
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("mongo find session: %w", err)
	}
	return nil
}
