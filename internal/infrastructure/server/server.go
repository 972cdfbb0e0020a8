// Package server exposes the dispatcher over WebSocket text frames.
//
// One inbound message yields exactly one reply. Messages on a connection are
// handled strictly one at a time; connections run concurrently. Any HTTP path
// upgrades.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/doeshing/cmdrelay/internal/application/dispatch"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/pkg/textenc"
	"github.com/doeshing/cmdrelay/internal/ports"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// MessageHandler answers one protocol message.
type MessageHandler interface {
	Handle(ctx context.Context, raw string) dispatch.Reply
}

// Server accepts WebSocket connections and feeds their messages to a MessageHandler.
type Server struct {
	cfg      domain.Config
	handler  MessageHandler
	logger   ports.Logger
	upgrader websocket.Upgrader

	listen func(network, address string) (net.Listener, error)
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	addr    net.Addr
	ready   chan struct{}
	closing bool
	active  map[*websocket.Conn]struct{}
	conns   sync.WaitGroup
}

// New builds a Server for the server section of cfg.
func New(cfg domain.Config, handler MessageHandler, log ports.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  log,
		upgrader: websocket.Upgrader{
			// local tool: browser extensions connect from arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		listen: net.Listen,
		sleep:  sleepContext,
		ready:  make(chan struct{}),
		active: make(map[*websocket.Conn]struct{}),
	}
}

// Addr returns the bound address, or nil before the listener is up.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ListenAndServe binds the configured address, retrying and falling back to
// nearby ports when it is taken, and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.bind(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) bind(ctx context.Context) (net.Listener, error) {
	attempts := s.cfg.Server.BindAttempts
	if attempts <= 0 {
		attempts = domain.DefaultBindAttempts
	}
	delay := s.cfg.Server.BindBackoff
	addr := s.cfg.ListenAddress()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ln, err := s.listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		lastErr = err
		s.logger.Warn("address in use", map[string]interface{}{
			"addr":    addr,
			"attempt": attempt,
			"of":      attempts,
		})
		if attempt < attempts {
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}
	}

	for _, port := range s.cfg.FallbackPortRange() {
		candidate := s.cfg.AddressForPort(port)
		ln, err := s.listen("tcp", candidate)
		if err == nil {
			s.logger.Warn("bound fallback port", map[string]interface{}{"addr": candidate, "configured": addr})
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not bind %s or any fallback port: %w", addr, lastErr)
}

// Serve accepts connections on ln until ctx is cancelled. In-flight messages
// see ctx cancellation; open connections get a close frame.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if limit := s.cfg.Server.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           http.HandlerFunc(s.serveWS),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	close(s.ready)
	s.logger.Info("server listening", map[string]interface{}{"addr": ln.Addr().String()})

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
		<-errCh
	case serveErr = <-errCh:
	}

	s.closeAll()
	s.conns.Wait()
	s.logger.Info("server stopped", nil)

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.conns.Done()
	s.handleConn(r.Context(), conn)
}

func (s *Server) handleConn(ctx context.Context, conn *websocket.Conn) {
	id := uuid.NewString()
	fields := map[string]interface{}{"conn": id, "remote": conn.RemoteAddr().String()}
	s.logger.Info("client connected", fields)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panic", fmt.Errorf("%v", r), map[string]interface{}{
				"conn":  id,
				"stack": string(debug.Stack()),
			})
		}
		s.untrack(conn)
		_ = conn.Close()
		s.logger.Info("client disconnected", map[string]interface{}{"conn": id})
	}()

	if limit := s.cfg.Server.MaxMessageSize; limit > 0 {
		conn.SetReadLimit(limit)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("connection read failed", map[string]interface{}{"conn": id, "error": err.Error()})
			}
			return
		}

		started := time.Now()
		reply := s.handleMessage(ctx, id, textenc.DecodeLossy(data))
		s.logger.Info("message handled", map[string]interface{}{
			"conn":        id,
			"category":    string(reply.Category),
			"success":     reply.Success,
			"duration_ms": time.Since(started).Milliseconds(),
		})

		if err := s.write(conn, reply.Text); err != nil {
			// the command already ran and was recorded; only the reply is lost
			s.logger.Warn("reply write failed", map[string]interface{}{"conn": id, "error": err.Error()})
			return
		}
	}
}

// handleMessage isolates a panicking handler to the message that caused it.
func (s *Server) handleMessage(ctx context.Context, id, raw string) (reply dispatch.Reply) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panic", fmt.Errorf("%v", r), map[string]interface{}{
				"conn":  id,
				"stack": string(debug.Stack()),
			})
			reply = dispatch.Reply{
				Text:     fmt.Sprintf("Error: internal error: %v", r),
				Category: domain.CategoryError,
			}
		}
	}()
	return s.handler.Handle(ctx, raw)
}

func (s *Server) write(conn *websocket.Conn, text string) error {
	timeout := s.cfg.Server.WriteTimeout
	if timeout <= 0 {
		timeout = domain.DefaultWriteTimeout
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.active[conn] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

// closeAll sends a going-away frame to every open connection, which ends
// their read loops.
func (s *Server) closeAll() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.active))
	for conn := range s.active {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.UnderlyingConn().SetReadDeadline(time.Now())
	}
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "only one usage of each socket address")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
