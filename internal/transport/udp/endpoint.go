package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// Endpoint is a single receive loop on one UDP socket.
type Endpoint struct {
	conn    *net.UDPConn
	metrics *metrics.Collector
	logger  *slog.Logger
}

var _ transport.Endpoint = (*Endpoint)(nil)

func Listen(addr string, m *metrics.Collector, logger *slog.Logger) (*Endpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &Endpoint{conn: conn, metrics: m, logger: logger}, nil
}

func (e *Endpoint) Transport() transport.Kind { return transport.UDP }

func (e *Endpoint) Addr() string { return e.conn.LocalAddr().String() }

// Serve reports every datagram with its source address as the peer, so a
// scooter whose address changes is re-registered on its next message.
func (e *Endpoint) Serve(ctx context.Context, h transport.ServerHandler) error {
	stop := context.AfterFunc(ctx, func() { e.conn.Close() })
	defer stop()

	e.logger.Info("udp endpoint listening", "addr", e.Addr())

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger.Warn("udp read failed", "error", err)
			continue
		}
		e.metrics.RecordBandwidth(metrics.Inbound, n)

		msg, err := message.Decode(buf[:n])
		if err != nil {
			e.logger.Warn("skipping malformed datagram", "from", from.String(), "error", err)
			continue
		}
		h.HandleMessage(transport.Inbound{
			Peer:    &peer{conn: e.conn, addr: from, metrics: e.metrics},
			Message: msg,
		})
	}
}

func (e *Endpoint) Close() error {
	err := e.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type peer struct {
	conn    *net.UDPConn
	addr    *net.UDPAddr
	metrics *metrics.Collector
}

func (p *peer) Addr() string { return p.addr.String() }

func (p *peer) Send(msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}
	if _, err := p.conn.WriteToUDP(b, p.addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %w", transport.ErrChannelClosed, err)
		}
		return fmt.Errorf("%w: write %s: %w", transport.ErrSend, p.addr, err)
	}
	p.metrics.RecordBandwidth(metrics.Outbound, len(b))
	return nil
}
