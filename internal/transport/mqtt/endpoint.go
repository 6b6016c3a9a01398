package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// EndpointConfig locates the broker for the server role.
type EndpointConfig struct {
	Broker   string // host:port
	ClientID string
}

// Endpoint subscribes to every scooter topic and publishes commands back on
// each scooter's command topic.
type Endpoint struct {
	client  paho.Client
	cfg     EndpointConfig
	metrics *metrics.Collector
	logger  *slog.Logger

	mu      sync.RWMutex
	handler transport.ServerHandler
	peers   map[string]*peer

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ transport.Endpoint = (*Endpoint)(nil)

func NewEndpoint(cfg EndpointConfig, m *metrics.Collector, logger *slog.Logger) *Endpoint {
	e := &Endpoint{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		peers:   make(map[string]*peer),
		stopCh:  make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker("tcp://" + cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(ReconnectInterval)
	opts.SetMaxReconnectInterval(ReconnectInterval)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscribing here restores the wildcard after every reconnect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
		if err := e.subscribe(c); err != nil {
			logger.Error("mqtt subscribe failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	e.client = paho.NewClient(opts)
	return e
}

func (e *Endpoint) Transport() transport.Kind { return transport.MQTT }

// Serve connects to the broker, retrying until ctx is done, and dispatches
// messages until ctx is done.
func (e *Endpoint) Serve(ctx context.Context, h transport.ServerHandler) error {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()

	token := e.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			e.Close()
			return nil
		case <-e.stopCh:
			return nil
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", e.cfg.Broker, err)
	}

	select {
	case <-ctx.Done():
	case <-e.stopCh:
	}
	return e.Close()
}

func (e *Endpoint) subscribe(c paho.Client) error {
	token := c.Subscribe(ServerFilter, QoS, func(_ paho.Client, m paho.Message) {
		e.handleMessage(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", ServerFilter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", ServerFilter, err)
	}
	e.logger.Info("subscribed to mqtt topic", "topic", ServerFilter, "qos", QoS)
	return nil
}

func (e *Endpoint) handleMessage(topic string, payload []byte) {
	id, kind, ok := ParseTopic(topic)
	if !ok {
		e.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return
	}
	if kind == message.TypeCommand {
		return
	}

	e.metrics.RecordBandwidth(metrics.Inbound, len(payload))

	msg, err := message.Decode(payload)
	if err != nil {
		e.logger.Warn("skipping malformed message", "topic", topic, "error", err)
		return
	}

	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h == nil {
		return
	}
	h.HandleMessage(transport.Inbound{Peer: e.peer(id), ScooterID: id, Message: msg})
}

func (e *Endpoint) peer(id string) *peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.peers[id]
	if !ok {
		p = &peer{topic: CommandTopic(id), publish: e.publish}
		e.peers[id] = p
	}
	return p
}

func (e *Endpoint) publish(topic string, b []byte) error {
	token := e.client.Publish(topic, QoS, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timeout for topic %s", transport.ErrSend, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", transport.ErrSend, topic, err)
	}
	e.metrics.RecordBandwidth(metrics.Outbound, len(b))
	return nil
}

// Close unsubscribes and disconnects. It is idempotent.
func (e *Endpoint) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.client.IsConnected() {
			e.client.Unsubscribe(ServerFilter).WaitTimeout(2 * time.Second)
		}
		e.client.Disconnect(250)
		e.logger.Info("mqtt endpoint disconnected")
	})
	return nil
}

type peer struct {
	topic   string
	publish func(topic string, b []byte) error
}

func (p *peer) Addr() string { return p.topic }

func (p *peer) Send(msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}
	return p.publish(p.topic, b)
}
