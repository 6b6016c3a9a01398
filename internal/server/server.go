// Package server runs the server role: it tracks scooters, periodically
// broadcasts a command to all of them and measures the round trip of each
// acknowledgement.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/registry"
	"scooterlab/internal/results"
	"scooterlab/internal/transport"
)

const flushTimeout = 10 * time.Second

type Options struct {
	// CommandInterval is the broadcast period. Zero disables the broadcaster.
	CommandInterval time.Duration
	Command         string
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		CommandInterval: 15 * time.Second,
		Command:         "unlock",
		Now:             time.Now,
	}
}

type Server struct {
	endpoint transport.Endpoint
	registry *registry.Registry
	metrics  *metrics.Collector
	sink     results.Sink
	logger   *slog.Logger
	opts     Options

	flushOnce sync.Once
}

var _ transport.ServerHandler = (*Server)(nil)

func New(ep transport.Endpoint, reg *registry.Registry, m *metrics.Collector, sink results.Sink, logger *slog.Logger, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Command == "" {
		opts.Command = "unlock"
	}
	return &Server{
		endpoint: ep,
		registry: reg,
		metrics:  m,
		sink:     sink,
		logger:   logger.With("transport", ep.Transport()),
		opts:     opts,
	}
}

// Run serves until ctx is done, then flushes metrics once.
func (s *Server) Run(ctx context.Context) error {
	started := s.opts.Now()
	defer s.flush(started)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.endpoint.Serve(gctx, s) })
	if s.opts.CommandInterval > 0 {
		g.Go(func() error {
			s.broadcastLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) HandleMessage(in transport.Inbound) {
	msg := in.Message
	id := in.ScooterID
	if id == "" {
		id = msg.ScooterID
	}
	if id != "" && s.registry.Upsert(id, in.Peer) {
		s.logger.Info("scooter registered", "scooter_id", id, "addr", in.Peer.Addr())
	}

	switch msg.Type {
	case message.TypeAck:
		s.recordAck(id, msg)
	case message.TypeLocation:
		if msg.Location != nil {
			s.logger.Debug("location report", "scooter_id", id, "lat", msg.Location.Lat, "lon", msg.Location.Lon)
		}
	case message.TypeStatus:
		if msg.Status != nil {
			s.logger.Debug("status report", "scooter_id", id,
				"battery", msg.Status.BatteryLevel, "locked", msg.Status.IsLocked, "speed", msg.Status.Speed)
		}
	}
}

func (s *Server) recordAck(id string, msg message.Message) {
	if msg.SendTime == 0 {
		s.logger.Debug("ack without send_time", "scooter_id", id)
		return
	}
	rtt := s.opts.Now().Sub(message.Time(msg.SendTime)).Seconds()
	if rtt < 0 {
		s.logger.Warn("negative round trip discarded", "scooter_id", id, "rtt_seconds", rtt)
		return
	}
	s.metrics.RecordRTT(rtt)
	s.logger.Info("ack received", "scooter_id", id, "rtt_seconds", rtt)
}

// HandlePeerClosed forgets every scooter still mapped to p.
func (s *Server) HandlePeerClosed(p transport.Peer) {
	for _, id := range s.registry.RemovePeer(p) {
		s.logger.Info("scooter disconnected", "scooter_id", id, "addr", p.Addr())
	}
}

// Broadcast sends one command to every known scooter and returns how many
// sends succeeded. Failures are logged and skipped.
func (s *Server) Broadcast(ctx context.Context) int {
	entries := s.registry.Peers()
	if len(entries) == 0 {
		return 0
	}

	cmd := message.NewCommand(s.opts.Command, s.opts.Now())
	sent := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := e.Peer.Send(cmd); err != nil {
			s.logger.Debug("command delivery failed", "scooter_id", e.ID, "error", err)
			continue
		}
		sent++
	}
	s.logger.Info("command broadcast", "command", cmd.Command, "sent", sent, "scooters", len(entries))
	return sent
}

func (s *Server) broadcastLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.CommandInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Broadcast(ctx)
		}
	}
}

func (s *Server) flush(started time.Time) {
	s.flushOnce.Do(func() {
		snap := s.metrics.Snapshot()
		s.logger.Info("server metrics", "summary", snap.Summary())
		if s.sink == nil {
			return
		}

		run := results.NewRun(s.endpoint.Transport(), results.RoleServer, "", started)
		run.EndedAt = s.opts.Now()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := s.sink.Write(ctx, run, snap); err != nil {
			s.logger.Error("results flush failed", "error", err)
			return
		}
		s.logger.Info("results flushed", "run_id", run.ID)
	})
}
