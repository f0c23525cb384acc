package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisSession is the JSON document stored per session. There is no
// status field: a session is active exactly while the index key for its
// user and feature points at it.
type redisSession struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Feature   string         `json:"feature"`
	Messages  []redisMessage `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type redisMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// getOrCreateScript returns the session id the index points at when
// that session still exists, and otherwise installs the caller's fresh
// session atomically.
var getOrCreateScript = redis.NewScript(`
	local sid = redis.call('GET', KEYS[1])
	if sid and redis.call('EXISTS', ARGV[3] .. sid) == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[4])
		return sid
	end

	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[4])
	redis.call('SET', ARGV[3] .. ARGV[1], ARGV[2], 'EX', ARGV[4])
	return ARGV[1]
`)

// appendScript appends one message to the session document atomically
// and refreshes its TTL.
var appendScript = redis.NewScript(`
	local key = KEYS[1]
	local current = redis.call('GET', key)
	if not current then
		return -1
	end

	local session = cjson.decode(current)
	table.insert(session.messages, cjson.decode(ARGV[1]))
	session.updated_at = ARGV[3]

	redis.call('SET', key, cjson.encode(session), 'EX', ARGV[2])
	return #session.messages
`)

// releaseActiveScript drops the index entry only while it still points
// at the session being closed.
var releaseActiveScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisSessionStore is the Redis implementation of SessionStore. It is
// hot storage: sessions are TTL bound and every append refreshes the
// clock.
type RedisSessionStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisSessionStore connects to Redis and verifies the connection.
func NewRedisSessionStore(cfg Config, logger *zap.Logger) (*RedisSessionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "askflow:"
	}
	ttl := cfg.Redis.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info("session store ready",
		zap.String("backend", string(StoreTypeRedis)),
		zap.String("key_prefix", keyPrefix))

	return &RedisSessionStore{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}, nil
}

func (s *RedisSessionStore) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID
}

func (s *RedisSessionStore) sessionKeyPrefix() string {
	return s.keyPrefix + "session:"
}

func (s *RedisSessionStore) indexKey(userID, feature string) string {
	return s.keyPrefix + "active:" + userID + ":" + feature
}

// Close closes the Redis connection.
func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// GetOrCreateActiveSession returns the active session for the user and
// feature, creating one when none exists.
func (s *RedisSessionStore) GetOrCreateActiveSession(ctx context.Context, userID, feature string) (string, error) {
	if userID == "" || feature == "" {
		return "", ErrInvalidInput
	}

	now := time.Now()
	doc := redisSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		Feature:   feature,
		Messages:  []redisMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	id, err := getOrCreateScript.Run(ctx, s.rdb,
		[]string{s.indexKey(userID, feature)},
		doc.ID, data, s.sessionKeyPrefix(), int(s.ttl.Seconds())).Text()
	if err != nil {
		return "", fmt.Errorf("redis get or create session: %w", err)
	}
	return id, nil
}

// AddMessage appends one turn to the session transcript.
func (s *RedisSessionStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" || role == "" {
		return ErrInvalidInput
	}

	msg := redisMessage{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	result, err := appendScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		data, int(s.ttl.Seconds()), time.Now().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	if result == -1 {
		return ErrSessionNotFound
	}
	return nil
}

// Messages returns the session transcript in append order.
func (s *RedisSessionStore) Messages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	data, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var doc redisSession
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	msgs := doc.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]StoredMessage, len(msgs))
	for i, m := range msgs {
		out[i] = StoredMessage{
			ID:        m.ID,
			SessionID: sessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

// CloseSession detaches the session from the active index. The
// transcript stays readable until its TTL runs out.
func (s *RedisSessionStore) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}

	data, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("redis get session: %w", err)
	}

	var doc redisSession
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}

	err = releaseActiveScript.Run(ctx, s.rdb,
		[]string{s.indexKey(doc.UserID, doc.Feature)}, sessionID).Err()
	if err != nil {
		return fmt.Errorf("redis release session: %w", err)
	}
	return nil
}
