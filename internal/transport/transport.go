// Package transport defines the session contract every transport variant
// implements, on both the scooter side (Session) and the server side
// (Endpoint, Peer).
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
)

var (
	// ErrConnection means the server or broker was unreachable or refused the connection.
	ErrConnection = errors.New("connection failed")
	// ErrSend means one message could not be sent; the channel is still usable.
	ErrSend = errors.New("send failed")
	// ErrChannelClosed means the channel is closed or broken.
	ErrChannelClosed = errors.New("channel closed")
)

// Kind names a transport.
type Kind string

const (
	TCP       Kind = "tcp"
	UDP       Kind = "udp"
	WebSocket Kind = "websocket"
	MQTT      Kind = "mqtt"
)

// Kinds lists every supported transport.
var Kinds = []Kind{TCP, UDP, WebSocket, MQTT}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	case "ws", "websocket":
		return WebSocket, nil
	case "mqtt":
		return MQTT, nil
	default:
		return "", fmt.Errorf("invalid transport %q (allowed: %s)", s, KindList())
	}
}

// KindList joins Kinds for help and error text.
func KindList() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Persistent reports whether the transport keeps a connection that can be
// lost and re-established by the scooter.
func (k Kind) Persistent() bool {
	return k == TCP || k == WebSocket
}

// Handler receives every decoded inbound message of a session.
type Handler func(ctx context.Context, msg message.Message)

// Session is one scooter's logical channel to the server.
type Session interface {
	Transport() Kind
	// Connect establishes the channel, records one reconnect sample on
	// success and sends Register.
	Connect(ctx context.Context) error
	// Send encodes and transmits msg and records its wire size.
	Send(ctx context.Context, msg message.Message) error
	// ReceiveLoop dispatches inbound messages until ctx is done or the
	// channel fails.
	ReceiveLoop(ctx context.Context, handle Handler) error
	Close() error
}

// Peer is a server-side destination for one scooter.
type Peer interface {
	Addr() string
	Send(msg message.Message) error
}

// Inbound is one decoded message received by an Endpoint.
type Inbound struct {
	Peer Peer
	// ScooterID is the identifier carried by the transport itself (the MQTT
	// topic). It is empty when only the payload identifies the scooter.
	ScooterID string
	Message   message.Message
}

// ServerHandler consumes what an Endpoint receives.
type ServerHandler interface {
	HandleMessage(in Inbound)
	HandlePeerClosed(p Peer)
}

// Endpoint is the server side of a transport.
type Endpoint interface {
	Transport() Kind
	// Serve blocks until ctx is done, then closes every peer.
	Serve(ctx context.Context, h ServerHandler) error
	Close() error
}

// Options configures a client-side session.
type Options struct {
	ScooterID    string
	Addr         string
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Metrics == nil {
		o.Metrics = metrics.NewCollector()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// LogLevel picks the level for a per-message log line: telemetry is noisy and
// goes to debug, command traffic stays at info.
func LogLevel(t message.Type) slog.Level {
	switch t {
	case message.TypeCommand, message.TypeAck, message.TypeRegister:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
