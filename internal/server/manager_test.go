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
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestStartServeShutdown(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	m := NewManager(handler, testConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	addr := m.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.Addr())
}

func TestDoubleStart(t *testing.T) {
	t.Parallel()

	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	assert.Error(t, m.Start())
}

func TestStartAfterShutdown(t *testing.T) {
	t.Parallel()

	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Error(t, m.Start())
	assert.NoError(t, m.Shutdown(context.Background()))
}
