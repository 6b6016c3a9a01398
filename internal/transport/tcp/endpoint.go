package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

const writeTimeout = 5 * time.Second

// Endpoint accepts scooter connections, one goroutine per socket.
type Endpoint struct {
	ln      net.Listener
	metrics *metrics.Collector
	logger  *slog.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
	wg    sync.WaitGroup
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Listen binds addr immediately so callers can learn the port before Serve.
func Listen(addr string, m *metrics.Collector, logger *slog.Logger) (*Endpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &Endpoint{
		ln:      ln,
		metrics: m,
		logger:  logger,
		peers:   make(map[*peer]struct{}),
	}, nil
}

func (e *Endpoint) Transport() transport.Kind { return transport.TCP }

// Addr returns the bound listen address.
func (e *Endpoint) Addr() string { return e.ln.Addr().String() }

func (e *Endpoint) Serve(ctx context.Context, h transport.ServerHandler) error {
	stop := context.AfterFunc(ctx, func() { e.ln.Close() })
	defer stop()

	e.logger.Info("tcp endpoint listening", "addr", e.Addr())
	defer func() {
		e.closePeers()
		e.wg.Wait()
	}()

	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger.Warn("tcp accept failed", "error", err)
			continue
		}

		p := &peer{conn: conn, metrics: e.metrics}
		e.mu.Lock()
		e.peers[p] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handle(p, h)
		}()
	}
}

func (e *Endpoint) handle(p *peer, h transport.ServerHandler) {
	e.logger.Debug("tcp peer connected", "addr", p.Addr())
	defer func() {
		p.conn.Close()
		e.mu.Lock()
		delete(e.peers, p)
		e.mu.Unlock()
		h.HandlePeerClosed(p)
		e.logger.Debug("tcp peer closed", "addr", p.Addr())
	}()

	reader := message.NewStreamReader(p.conn)
	for {
		msg, n, err := reader.Next()
		if n > 0 {
			e.metrics.RecordBandwidth(metrics.Inbound, n)
		}
		if errors.Is(err, message.ErrMalformedPayload) {
			e.logger.Warn("skipping malformed frame", "addr", p.Addr(), "error", err)
			continue
		}
		if errors.Is(err, message.ErrFrameTooLarge) {
			e.logger.Warn("dropping peer", "addr", p.Addr(), "error", err)
			return
		}
		if err != nil {
			return
		}
		h.HandleMessage(transport.Inbound{Peer: p, Message: msg})
	}
}

func (e *Endpoint) closePeers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for p := range e.peers {
		p.conn.Close()
	}
}

// Close stops accepting and closes every peer.
func (e *Endpoint) Close() error {
	err := e.ln.Close()
	e.closePeers()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type peer struct {
	conn    net.Conn
	metrics *metrics.Collector
	mu      sync.Mutex
}

func (p *peer) Addr() string { return p.conn.RemoteAddr().String() }

func (p *peer) Send(msg message.Message) error {
	frame, err := message.EncodeFrame(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := p.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write %s: %w", transport.ErrChannelClosed, p.Addr(), err)
	}
	p.metrics.RecordBandwidth(metrics.Outbound, len(frame))
	return nil
}
