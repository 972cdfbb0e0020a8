package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/cmdrelay/internal/application/dispatch"
	"github.com/doeshing/cmdrelay/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handlerFunc func(ctx context.Context, raw string) dispatch.Reply

func (f handlerFunc) Handle(ctx context.Context, raw string) dispatch.Reply { return f(ctx, raw) }

func echoHandler() handlerFunc {
	return func(_ context.Context, raw string) dispatch.Reply {
		return dispatch.Reply{Text: "got " + raw, Success: true, Category: domain.CategoryUnknown}
	}
}

func testConfig() domain.Config {
	return domain.Config{Server: domain.ServerSettings{
		Host:           "127.0.0.1",
		Port:           8765,
		BindAttempts:   3,
		BindBackoff:    time.Millisecond,
		MaxMessageSize: 1 << 16,
		WriteTimeout:   time.Second,
	}}
}

// startServer serves on a random loopback port and stops on test cleanup.
func startServer(t *testing.T, cfg domain.Config, h MessageHandler) *Server {
	t.Helper()
	srv := New(cfg, h, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	<-srv.Ready()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dial(t *testing.T, srv *Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s%s", srv.Addr(), path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) string {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestServerRepliesOncePerMessage(t *testing.T) {
	srv := startServer(t, testConfig(), echoHandler())
	conn := dial(t, srv, "/")

	assert.Equal(t, "got CMD: echo hi", roundTrip(t, conn, "CMD: echo hi"))
	assert.Equal(t, "got INFO:", roundTrip(t, conn, "INFO:"))
}

func TestServerAcceptsAnyPath(t *testing.T) {
	srv := startServer(t, testConfig(), echoHandler())
	conn := dial(t, srv, "/some/other/path")
	assert.Equal(t, "got x", roundTrip(t, conn, "x"))
}

func TestServerProcessesConnectionSequentially(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	h := handlerFunc(func(_ context.Context, raw string) dispatch.Reply {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return dispatch.Reply{Text: raw}
	})
	srv := startServer(t, testConfig(), h)
	conn := dial(t, srv, "/")

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("m%d", i))))
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 5; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%d", i), string(data), "replies keep message order")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

func TestServerHandlesConnectionsConcurrently(t *testing.T) {
	release := make(chan struct{})
	h := handlerFunc(func(_ context.Context, raw string) dispatch.Reply {
		if raw == "block" {
			<-release
		}
		return dispatch.Reply{Text: raw}
	})
	srv := startServer(t, testConfig(), h)

	blocked := dial(t, srv, "/")
	require.NoError(t, blocked.WriteMessage(websocket.TextMessage, []byte("block")))

	other := dial(t, srv, "/")
	assert.Equal(t, "fast", roundTrip(t, other, "fast"), "a slow connection must not stall others")

	close(release)
	require.NoError(t, blocked.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := blocked.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "block", string(data))
}

func TestServerRecoversFromHandlerPanic(t *testing.T) {
	h := handlerFunc(func(_ context.Context, raw string) dispatch.Reply {
		if raw == "boom" {
			panic("kaboom")
		}
		return dispatch.Reply{Text: "ok " + raw}
	})
	srv := startServer(t, testConfig(), h)
	conn := dial(t, srv, "/")

	reply := roundTrip(t, conn, "boom")
	assert.True(t, strings.HasPrefix(reply, "Error: internal error"), reply)
	assert.Equal(t, "ok again", roundTrip(t, conn, "again"), "connection survives a panic")

	fresh := dial(t, srv, "/")
	assert.Equal(t, "ok fresh", roundTrip(t, fresh, "fresh"), "listener survives a panic")
}

func TestServerSurvivesAbruptDisconnect(t *testing.T) {
	srv := startServer(t, testConfig(), echoHandler())

	conn := dial(t, srv, "/")
	require.NoError(t, conn.UnderlyingConn().Close())

	other := dial(t, srv, "/")
	assert.Equal(t, "got still here", roundTrip(t, other, "still here"))
}

func TestServerShutdownClosesClients(t *testing.T) {
	srv := New(testConfig(), echoHandler(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	<-srv.Ready()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "got hi", roundTrip(t, conn, "hi"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestServerConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConnections = 1
	srv := startServer(t, cfg, echoHandler())

	first := dial(t, srv, "/")
	assert.Equal(t, "got one", roundTrip(t, first, "one"))

	dialer := websocket.Dialer{HandshakeTimeout: 200 * time.Millisecond}
	_, _, err := dialer.Dial("ws://"+srv.Addr().String(), nil)
	assert.Error(t, err, "second connection waits for a free slot")

	require.NoError(t, first.Close())
	var second *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String(), nil)
		if err != nil {
			return false
		}
		second = c
		return true
	}, 5*time.Second, 50*time.Millisecond)
	defer second.Close()
	assert.Equal(t, "got two", roundTrip(t, second, "two"))
}

// fakeListen refuses the first busy calls with EADDRINUSE.
type fakeListen struct {
	mu    sync.Mutex
	busy  map[string]bool
	calls []string
}

func (f *fakeListen) listen(network, address string) (net.Listener, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	busy := f.busy[address]
	f.mu.Unlock()
	if busy {
		return nil, &net.OpError{Op: "listen", Net: network, Err: syscall.EADDRINUSE}
	}
	return net.Listen(network, "127.0.0.1:0")
}

func TestBindRetriesThenFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Server.FallbackPorts = 3
	srv := New(cfg, echoHandler(), nil)
	fl := &fakeListen{busy: map[string]bool{"127.0.0.1:8765": true, "127.0.0.1:8766": true}}
	srv.listen = fl.listen
	var slept []time.Duration
	srv.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ln, err := srv.bind(context.Background())
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept, "doubling backoff between attempts")
	assert.Equal(t, []string{
		"127.0.0.1:8765", "127.0.0.1:8765", "127.0.0.1:8765",
		"127.0.0.1:8766", "127.0.0.1:8767",
	}, fl.calls, "the fallback scan skips the configured port")
}

func TestBindFailsWhenEverythingIsTaken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.FallbackPorts = 0
	srv := New(cfg, echoHandler(), nil)
	fl := &fakeListen{busy: map[string]bool{"127.0.0.1:8765": true}}
	srv.listen = fl.listen
	srv.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := srv.bind(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EADDRINUSE))
	assert.Len(t, fl.calls, 3)
}

func TestBindDoesNotRetryOtherErrors(t *testing.T) {
	srv := New(testConfig(), echoHandler(), nil)
	calls := 0
	srv.listen = func(string, string) (net.Listener, error) {
		calls++
		return nil, errors.New("permission denied")
	}
	_, err := srv.bind(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestListenAndServeOnRealPort(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	srv := New(cfg, echoHandler(), nil)
	srv.listen = func(network, _ string) (net.Listener, error) { return net.Listen(network, "127.0.0.1:0") }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	<-srv.Ready()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	assert.Equal(t, "got ping", roundTrip(t, conn, "ping"))
	require.NoError(t, conn.Close())

	cancel()
	require.NoError(t, <-done)
}
