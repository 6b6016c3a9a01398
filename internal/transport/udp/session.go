// Package udp carries one JSON message per datagram. Nothing is retried or
// acknowledged at this layer.
package udp

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

// MaxDatagram bounds a single read.
const MaxDatagram = 4096

// Session owns a local UDP socket that talks to one server address.
type Session struct {
	opts transport.Options

	mu     sync.Mutex
	conn   *net.UDPConn
	server *net.UDPAddr
}

var _ transport.Session = (*Session)(nil)

func NewSession(opts transport.Options) *Session {
	return &Session{opts: opts.WithDefaults()}
}

func (s *Session) Transport() transport.Kind { return transport.UDP }

// Connect allocates the local socket and sends Register as a real datagram.
func (s *Session) Connect(ctx context.Context) error {
	s.Close()

	start := time.Now()
	server, err := net.ResolveUDPAddr("udp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", transport.ErrConnection, s.opts.Addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("%w: open socket: %w", transport.ErrConnection, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.server = server
	s.mu.Unlock()

	elapsed := time.Since(start)
	if err := s.Send(ctx, message.NewRegister(s.opts.ScooterID)); err != nil {
		s.Close()
		return fmt.Errorf("%w: register: %w", transport.ErrConnection, err)
	}

	s.opts.Metrics.RecordReconnect(elapsed)
	s.opts.Logger.Info("udp socket ready", "server", server.String(), "local", conn.LocalAddr().String())
	return nil
}

func (s *Session) Send(ctx context.Context, msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}
	if len(b) > MaxDatagram {
		return fmt.Errorf("%w: %d byte message exceeds %d byte datagram", transport.ErrSend, len(b), MaxDatagram)
	}

	s.mu.Lock()
	conn, server := s.conn, s.server
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrChannelClosed
	}

	if _, err := conn.WriteToUDP(b, server); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %w", transport.ErrChannelClosed, err)
		}
		return fmt.Errorf("%w: write %s: %w", transport.ErrSend, server, err)
	}

	s.opts.Metrics.RecordBandwidth(metrics.Outbound, len(b))
	s.opts.Logger.Log(ctx, transport.LogLevel(msg.Type), "sent message",
		"transport", transport.UDP, "type", msg.Type, "bytes", len(b))
	return nil
}

func (s *Session) ReceiveLoop(ctx context.Context, handle transport.Handler) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrChannelClosed
	}

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %w", transport.ErrChannelClosed, err)
		}
		s.opts.Metrics.RecordBandwidth(metrics.Inbound, n)

		msg, err := message.Decode(buf[:n])
		if err != nil {
			s.opts.Logger.Warn("skipping malformed datagram", "transport", transport.UDP, "error", err)
			continue
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
