package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/askflow/config"
)

// ---------- config ----------

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestFromServerConfig(t *testing.T) {
	cfg := FromServerConfig(config.ServerConfig{
		Host:            "127.0.0.1",
		HTTPPort:        9090,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 5 * time.Second,
	})

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.IdleTimeout, "idle timeout derives from read timeout")
	assert.Zero(t, cfg.WriteTimeout, "zero write timeout passes through for streaming")
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestFromServerConfig_EmptyHost(t *testing.T) {
	cfg := FromServerConfig(config.ServerConfig{HTTPPort: 8080})
	assert.Equal(t, ":8080", cfg.Addr)
}

// ---------- lifecycle ----------

func TestNewManager(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop())

	require.NotNil(t, m)
	assert.True(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
}

func TestManager_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(handler, cfg, zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	// Addr resolves to the bound port once started.
	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_IsRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	assert.True(t, m.IsRunning(), "a new manager is not closed")

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	ch := m.Errors()
	require.NotNil(t, ch)

	select {
	case <-ch:
		t.Fatal("no error expected before start")
	default:
	}
}

func TestManager_BindFailureSurfacesOnStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	first := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { first.Shutdown(context.Background()) })

	// Second manager on the exact same port cannot bind.
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_Addr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	assert.Equal(t, ":9999", m.Addr())
}
