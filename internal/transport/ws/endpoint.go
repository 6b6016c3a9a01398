package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scooterlab/internal/httpapi"
	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

const writeTimeout = 5 * time.Second

// Endpoint upgrades HTTP requests on Path and runs one goroutine per
// connection.
type Endpoint struct {
	ln       net.Listener
	metrics  *metrics.Collector
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ transport.Endpoint = (*Endpoint)(nil)

func Listen(addr string, m *metrics.Collector, logger *slog.Logger) (*Endpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen ws %s: %w", addr, err)
	}
	return &Endpoint{
		ln:      ln,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}, nil
}

func (e *Endpoint) Transport() transport.Kind { return transport.WebSocket }

func (e *Endpoint) Addr() string { return e.ln.Addr().String() }

func (e *Endpoint) Serve(ctx context.Context, h transport.ServerHandler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Path, func(w http.ResponseWriter, r *http.Request) {
		e.upgrade(w, r, h)
	})
	srv := httpapi.NewServer(e.Addr(), e.logger, mux)

	err := httpapi.Serve(ctx, srv, e.ln, e.logger)

	// Shutdown does not touch hijacked connections.
	e.closePeers()
	e.wg.Wait()
	return err
}

func (e *Endpoint) upgrade(w http.ResponseWriter, r *http.Request, h transport.ServerHandler) {
	// Added before the hijack so Shutdown still counts this request as active.
	e.wg.Add(1)
	defer e.wg.Done()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &peer{conn: conn, metrics: e.metrics}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.peers[p] = struct{}{}
	e.mu.Unlock()

	e.logger.Debug("websocket peer connected", "addr", p.Addr())
	defer func() {
		conn.Close()
		e.mu.Lock()
		delete(e.peers, p)
		e.mu.Unlock()
		h.HandlePeerClosed(p)
		e.logger.Debug("websocket peer closed", "addr", p.Addr())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e.metrics.RecordBandwidth(metrics.Inbound, len(data))

		msg, err := message.Decode(data)
		if err != nil {
			e.logger.Warn("skipping malformed message", "addr", p.Addr(), "error", err)
			continue
		}
		h.HandleMessage(transport.Inbound{Peer: p, Message: msg})
	}
}

func (e *Endpoint) closePeers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for p := range e.peers {
		p.conn.Close()
	}
}

func (e *Endpoint) Close() error {
	e.closePeers()
	err := e.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type peer struct {
	conn    *websocket.Conn
	metrics *metrics.Collector
	mu      sync.Mutex
}

func (p *peer) Addr() string { return p.conn.RemoteAddr().String() }

func (p *peer) Send(msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: write %s: %w", transport.ErrChannelClosed, p.Addr(), err)
	}
	p.metrics.RecordBandwidth(metrics.Outbound, len(b))
	return nil
}
