package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesRegistry(t *testing.T) {
	reg, m, err := NewRegistry()
	require.NoError(t, err)
	m.CommandSent()

	s := NewServer("127.0.0.1:0", reg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Error(t, s.Start(), "second start must fail")

	resp, err := http.Get("http://" + s.Addr() + DefaultPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bidictl_commands_sent_total 1")

	health, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_StopIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil)
	assert.Error(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, "127.0.0.1:0", s.Addr())
}
