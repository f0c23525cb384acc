package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreClosed     = errors.New("store is closed")
	ErrInvalidInput    = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypeMySQL    StoreType = "mysql"
	StoreTypePostgres StoreType = "postgres"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeMongo    StoreType = "mongo"
)

// Config is the configuration for all session store implementations.
type Config struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// DSN is the database connection string. Used by the SQL backends:
	// a file path (or ":memory:") for SQLite, a driver DSN for MySQL
	// and PostgreSQL.
	DSN string `json:"dsn" yaml:"dsn"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL bounds how long an idle session survives. Every append
	// refreshes it.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// MongoConfig contains MongoDB-specific configuration.
type MongoConfig struct {
	// URI is the MongoDB connection string
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name (default: "askflow")
	Database string `json:"database" yaml:"database"`
}

// DefaultConfig returns the default session store configuration.
func DefaultConfig() Config {
	return Config{
		Type: StoreTypeMemory,
		DSN:  "./data/askflow.db",
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "askflow:",
			TTL:       24 * time.Hour,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "askflow",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}
