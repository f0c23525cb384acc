package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoSessionStore_RequiresURI(t *testing.T) {
	_, err := NewMongoSessionStore(context.Background(), Config{Type: StoreTypeMongo}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMongoSessionStore_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Type = StoreTypeMongo
	cfg.Mongo.URI = "mongodb://127.0.0.1:1/?connectTimeoutMS=200&serverSelectionTimeoutMS=200"

	_, err := NewMongoSessionStore(ctx, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping mongodb")
}
