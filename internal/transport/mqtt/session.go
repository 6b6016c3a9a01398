package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

const (
	// ReconnectInterval caps paho's automatic reconnect backoff.
	ReconnectInterval = 5 * time.Second

	publishTimeout = 5 * time.Second
	inboxSize      = 64
)

// Session is a scooter's broker connection. Paho reconnects on its own;
// each automatic reconnect is timed from the reconnecting callback to the
// connect callback.
type Session struct {
	opts   transport.Options
	client paho.Client
	inbox  chan []byte

	mu             sync.Mutex
	established    bool
	reconnectStart time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Session = (*Session)(nil)

func NewSession(opts transport.Options) *Session {
	opts = opts.WithDefaults()
	s := &Session{
		opts:  opts,
		inbox: make(chan []byte, inboxSize),
		done:  make(chan struct{}),
	}

	o := paho.NewClientOptions()
	o.AddBroker("tcp://" + opts.Addr)
	o.SetClientID(opts.ScooterID)

	o.SetCleanSession(true)

	o.SetAutoReconnect(true)
	o.SetConnectRetry(false)
	o.SetMaxReconnectInterval(ReconnectInterval)
	o.SetConnectTimeout(opts.DialTimeout)

	o.SetKeepAlive(30 * time.Second)
	o.SetPingTimeout(10 * time.Second)

	o.SetOnConnectHandler(s.onConnect)
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		opts.Logger.Warn("mqtt connection lost", "scooter_id", opts.ScooterID, "error", err)
	})
	o.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		s.markReconnecting(time.Now())
	})

	s.client = paho.NewClient(o)
	return s
}

func (s *Session) Transport() transport.Kind { return transport.MQTT }

// Connect waits for the initial broker connection, subscribes to the command
// topic and publishes Register.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case <-s.done:
		return transport.ErrChannelClosed
	default:
	}

	start := time.Now()
	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.done:
			return transport.ErrChannelClosed
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqtt connect %s: %w", transport.ErrConnection, s.opts.Addr, err)
	}

	elapsed := time.Since(start)
	if err := s.announce(ctx); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("%w: register: %w", transport.ErrConnection, err)
	}

	s.mu.Lock()
	s.established = true
	s.reconnectStart = time.Time{}
	s.mu.Unlock()

	s.opts.Metrics.RecordReconnect(elapsed)
	s.opts.Logger.Info("mqtt connected", "broker", s.opts.Addr, "elapsed", elapsed)
	return nil
}

func (s *Session) announce(ctx context.Context) error {
	if err := s.subscribe(); err != nil {
		return err
	}
	return s.Send(ctx, message.NewRegister(s.opts.ScooterID))
}

func (s *Session) subscribe() error {
	topic := CommandTopic(s.opts.ScooterID)
	token := s.client.Subscribe(topic, QoS, s.onCommand)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	s.opts.Logger.Debug("subscribed to mqtt topic", "topic", topic)
	return nil
}

func (s *Session) markReconnecting(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectStart.IsZero() {
		s.reconnectStart = at
	}
}

// onConnect only handles automatic reconnects; the first connection is
// completed by Connect.
func (s *Session) onConnect(_ paho.Client) {
	s.mu.Lock()
	start := s.reconnectStart
	established := s.established
	s.reconnectStart = time.Time{}
	s.mu.Unlock()

	if !established || start.IsZero() {
		return
	}

	elapsed := time.Since(start)
	s.opts.Metrics.RecordReconnect(elapsed)
	s.opts.Logger.Info("mqtt reconnected", "broker", s.opts.Addr, "elapsed", elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.announce(ctx); err != nil {
		s.opts.Logger.Warn("mqtt re-register failed", "scooter_id", s.opts.ScooterID, "error", err)
	}
}

func (s *Session) onCommand(_ paho.Client, m paho.Message) {
	payload := m.Payload()
	s.opts.Metrics.RecordBandwidth(metrics.Inbound, len(payload))

	select {
	case s.inbox <- payload:
	default:
		s.opts.Logger.Warn("dropping mqtt message, inbox full", "topic", m.Topic())
	}
}

func (s *Session) Send(ctx context.Context, msg message.Message) error {
	select {
	case <-s.done:
		return transport.ErrChannelClosed
	default:
	}
	if msg.Type == message.TypeCommand {
		return fmt.Errorf("%w: scooters do not publish commands", transport.ErrSend)
	}

	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, err)
	}

	topic := Topic(s.opts.ScooterID, msg.Type)
	token := s.client.Publish(topic, QoS, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timeout for topic %s", transport.ErrSend, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", transport.ErrSend, topic, err)
	}

	s.opts.Metrics.RecordBandwidth(metrics.Outbound, len(b))
	s.opts.Logger.Log(ctx, transport.LogLevel(msg.Type), "published message",
		"topic", topic, "bytes", len(b))
	return nil
}

func (s *Session) ReceiveLoop(ctx context.Context, handle transport.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return transport.ErrChannelClosed
		case payload := <-s.inbox:
			msg, err := message.Decode(payload)
			if err != nil {
				s.opts.Logger.Warn("skipping malformed message", "transport", transport.MQTT, "error", err)
				continue
			}
			handle(ctx, msg)
		}
	}
}

// Close disconnects from the broker. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Disconnect(250)
		s.opts.Logger.Info("mqtt disconnected", "scooter_id", s.opts.ScooterID)
	})
	return nil
}
