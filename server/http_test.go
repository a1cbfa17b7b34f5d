package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewRequiresAddressAndHandler(t *testing.T) {
	_, err := New(Config{Handler: http.NotFoundHandler()})
	assert.Error(t, err)

	_, err = New(Config{Address: ":0"})
	assert.Error(t, err)

	s, err := New(Config{Address: ":0", Handler: http.NotFoundHandler()})
	require.NoError(t, err)
	assert.Equal(t, DefaultShutdownTimeout, s.shutdownTimeout)
}

func TestServeAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	s, err := New(Config{Address: "127.0.0.1:0", Handler: mux, ShutdownTimeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenError(t *testing.T) {
	s, err := New(Config{Address: "127.0.0.1:-1", Handler: http.NotFoundHandler()})
	require.NoError(t, err)
	assert.Error(t, s.Serve(context.Background()))
}
