// Package ws carries one JSON text message per WebSocket frame.
package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// Path is the upgrade route served by the Endpoint.
const Path = "/"

// Session is a scooter's WebSocket connection to the server.
type Session struct {
	opts transport.Options

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

var _ transport.Session = (*Session)(nil)

func NewSession(opts transport.Options) *Session {
	return &Session{opts: opts.WithDefaults()}
}

func (s *Session) Transport() transport.Kind { return transport.WebSocket }

func (s *Session) url() string {
	u := url.URL{Scheme: "ws", Host: s.opts.Addr, Path: Path}
	return u.String()
}

func (s *Session) Connect(ctx context.Context) error {
	s.Close()

	start := time.Now()
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", transport.ErrConnection, s.url(), err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	elapsed := time.Since(start)
	if err := s.Send(ctx, message.NewRegister(s.opts.ScooterID)); err != nil {
		s.Close()
		return fmt.Errorf("%w: register: %w", transport.ErrConnection, err)
	}

	s.opts.Metrics.RecordReconnect(elapsed)
	s.opts.Logger.Info("websocket connected", "url", s.url(), "elapsed", elapsed)
	return nil
}

func (s *Session) Send(ctx context.Context, msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return transport.ErrChannelClosed
	}

	deadline := time.Now().Add(s.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("%w: write: %w", transport.ErrChannelClosed, err)
	}

	s.opts.Metrics.RecordBandwidth(metrics.Outbound, len(b))
	s.opts.Logger.Log(ctx, transport.LogLevel(msg.Type), "sent message",
		"transport", transport.WebSocket, "type", msg.Type, "bytes", len(b))
	return nil
}

func (s *Session) ReceiveLoop(ctx context.Context, handle transport.Handler) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrChannelClosed
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.drop(conn)
			return fmt.Errorf("%w: read: %w", transport.ErrChannelClosed, err)
		}
		s.opts.Metrics.RecordBandwidth(metrics.Inbound, len(data))

		msg, err := message.Decode(data)
		if err != nil {
			s.opts.Logger.Warn("skipping malformed message", "transport", transport.WebSocket, "error", err)
			continue
		}
		handle(ctx, msg)
	}
}

// Close sends a close frame and closes the connection. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}
