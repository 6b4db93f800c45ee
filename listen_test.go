package debate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenBindsAllInterfacesOnPort(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	ln, err := Listen(cfg.Host, cfg.Port)
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	assert.True(t, addr.IP.IsUnspecified(), "bound to %s", addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, mux, discardLogger()) }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", addr.Port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestListenPortInUse(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen("127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	assert.Error(t, err)
}

func TestServeEndsOpenEventStreamsOnShutdown(t *testing.T) {
	nova := gatedAdvisor{&scriptedAdvisor{name: "nova"}, make(chan struct{})}
	runner, store := newTestRunner(t, nova, &scriptedAdvisor{name: "sage"}, nil)
	srv := &Server{Runner: runner, Store: store, Logger: discardLogger()}

	ln, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, srv.Router(), discardLogger(), func() {
			runner.Shutdown(context.Background())
		})
	}()

	id, err := runner.Start(context.Background(), "Deep sea mining")
	require.NoError(t, err)
	resp, err := http.Get(fmt.Sprintf("http://%s/api/debates/%s/events", ln.Addr(), id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// The student message is replayed straight away.
	body := bufio.NewReader(resp.Body)
	line, err := body.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:message\n", line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout / 2):
		t.Fatal("open event stream held up shutdown")
	}
	// The rest of the stream ends with the canceled debate.
	rest, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(rest), "event:ended")
	assert.Contains(t, string(rest), "event:done")

	d, err := store.GetDebate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, d.Outcome)
}
