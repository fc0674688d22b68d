package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/config"
	"github.com/vanshika/umkhondo/internal/logging"
)

func TestServerServesUntilShutdown(t *testing.T) {
	router := NewRouter(logging.Discard(), RouterDependencies{})
	srv := New(logging.Discard(), config.HTTPConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second}, router)
	require.NoError(t, srv.Listen())
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}

func TestServerListenReportsBindErrors(t *testing.T) {
	first := New(nil, config.HTTPConfig{Host: "127.0.0.1", Port: 0}, http.NotFoundHandler())
	require.NoError(t, first.Listen())
	defer first.Shutdown(context.Background())

	host, port := splitAddr(t, first.Addr())
	second := New(nil, config.HTTPConfig{Host: host, Port: port}, http.NotFoundHandler())
	assert.ErrorContains(t, second.Listen(), "listen on")
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return host, port
}
