package server

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailrtls "github.com/shineum/mailr/internal/tls"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	return srv, cancel, errCh
}

func TestServer_ServesAndShutsDown(t *testing.T) {
	t.Parallel()

	srv, cancel, errCh := startServer(t, ServerConfig{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "pong")
		}),
	})

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestServer_WaitsForInFlightRequests(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	srv, cancel, errCh := startServer(t, ServerConfig{
		ShutdownTimeout: 2 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			_, _ = io.WriteString(w, "done")
		}),
	})

	respCh := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + srv.Addr() + "/slow")
		if err != nil {
			respCh <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		respCh <- string(body)
	}()

	<-started
	cancel()

	assert.Equal(t, "done", <-respCh)
	assert.NoError(t, <-errCh)
}

func TestServer_TLS(t *testing.T) {
	t.Parallel()

	tlsCfg, err := mailrtls.ServerConfig("", "")
	require.NoError(t, err)

	srv, cancel, errCh := startServer(t, ServerConfig{
		TLSConfig: tlsCfg,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "secure")
		}),
	})
	defer func() {
		cancel()
		<-errCh
	}()

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test cert
	}}
	resp, err := client.Get("https://" + srv.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "secure", string(body))
}

func TestServer_ListenError(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{ListenAddr: "256.0.0.1:bad"})
	assert.Error(t, srv.ListenAndServe(context.Background()))
	assert.Empty(t, srv.Addr())
}
