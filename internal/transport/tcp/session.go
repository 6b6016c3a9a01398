// Package tcp carries messages as newline-delimited JSON over a TCP stream.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// Session is a scooter's TCP connection to the server.
type Session struct {
	opts transport.Options

	mu     sync.Mutex // guards conn and serializes writes
	conn   net.Conn
	reader *message.StreamReader
}

var _ transport.Session = (*Session)(nil)

func NewSession(opts transport.Options) *Session {
	return &Session{opts: opts.WithDefaults()}
}

func (s *Session) Transport() transport.Kind { return transport.TCP }

func (s *Session) Connect(ctx context.Context) error {
	s.Close()

	start := time.Now()
	d := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: dial tcp %s: %w", transport.ErrConnection, s.opts.Addr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = message.NewStreamReader(conn)
	s.mu.Unlock()

	elapsed := time.Since(start)
	if err := s.Send(ctx, message.NewRegister(s.opts.ScooterID)); err != nil {
		s.Close()
		return fmt.Errorf("%w: register: %w", transport.ErrConnection, err)
	}

	s.opts.Metrics.RecordReconnect(elapsed)
	s.opts.Logger.Info("tcp connected", "addr", s.opts.Addr, "elapsed", elapsed)
	return nil
}

func (s *Session) Send(ctx context.Context, msg message.Message) error {
	frame, err := message.EncodeFrame(msg)
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

	if _, err := s.conn.Write(frame); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("%w: write: %w", transport.ErrChannelClosed, err)
	}

	s.opts.Metrics.RecordBandwidth(metrics.Outbound, len(frame))
	s.opts.Logger.Log(ctx, transport.LogLevel(msg.Type), "sent message",
		"transport", transport.TCP, "type", msg.Type, "bytes", len(frame))
	return nil
}

func (s *Session) ReceiveLoop(ctx context.Context, handle transport.Handler) error {
	s.mu.Lock()
	conn, reader := s.conn, s.reader
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrChannelClosed
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, n, err := reader.Next()
		if n > 0 {
			s.opts.Metrics.RecordBandwidth(metrics.Inbound, n)
		}
		if errors.Is(err, message.ErrMalformedPayload) {
			s.opts.Logger.Warn("skipping malformed frame", "transport", transport.TCP, "error", err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.drop(conn)
			return fmt.Errorf("%w: read: %w", transport.ErrChannelClosed, err)
		}
		handle(ctx, msg)
	}
}

// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// drop closes conn unless a newer connection already replaced it.
func (s *Session) drop(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}
