// Package client sends protocol messages to a running server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

const (
	defaultAttempts     = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultReadTimeout  = 90 * time.Second
)

// Client dials a server with exponential backoff.
type Client struct {
	url          string
	attempts     int
	initialDelay time.Duration
	readTimeout  time.Duration
	dialer       *websocket.Dialer
	logger       ports.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets the number of dial attempts and the first backoff delay.
func WithRetry(attempts int, initialDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.initialDelay = initialDelay
	}
}

// WithReadTimeout bounds how long Send waits for a reply.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log ports.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// New builds a Client for the server at host:port.
func New(addr string, opts ...Option) *Client {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	c := &Client{
		url:          u.String(),
		attempts:     defaultAttempts,
		initialDelay: defaultInitialDelay,
		readTimeout:  defaultReadTimeout,
		dialer:       &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	return c
}

// URL returns the WebSocket endpoint.
func (c *Client) URL() string { return c.url }

// Session is one open connection; replies arrive in send order.
type Session struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

// Dial opens a Session, retrying failed dials with doubling delays.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	delay := c.initialDelay
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return &Session{conn: conn, readTimeout: c.readTimeout}, nil
		}
		lastErr = err
		c.logger.Debug("dial failed", map[string]interface{}{
			"url":     c.url,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", c.url, c.attempts, lastErr)
}

// Send opens a connection, sends command and returns the single reply.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	session, err := c.Dial(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()
	return session.Send(ctx, command)
}

// Send writes one message and waits for its reply.
func (s *Session) Send(ctx context.Context, command string) (string, error) {
	deadline := time.Now().Add(s.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return "", err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(data), nil
}

// Close sends a normal close frame and releases the connection.
func (s *Session) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
