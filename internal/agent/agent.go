// Package agent drives one simulated scooter: it connects and registers,
// then reports location and status and acknowledges commands until its
// context ends.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/results"
	"scooterlab/internal/transport"
)

const (
	DefaultLat     = 41.0082
	DefaultLon     = 28.9784
	DefaultBattery = 100.0

	batteryDrain = 0.5
	maxDelta     = 0.0001
	maxSpeed     = 25

	flushTimeout = 10 * time.Second
)

type Options struct {
	ID       string
	Scenario Scenario

	LocationInterval time.Duration
	StatusInterval   time.Duration
	ProcessingDelay  time.Duration
	Retry            RetryPolicy

	Start   message.Location
	Battery float64

	// Rand drives movement and status values. Nil seeds a new source.
	Rand *rand.Rand
}

func DefaultOptions(id string) Options {
	return Options{
		ID:               id,
		Scenario:         ScenarioAll,
		LocationInterval: 10 * time.Second,
		StatusInterval:   5 * time.Second,
		ProcessingDelay:  100 * time.Millisecond,
		Retry:            RetryPolicy{Interval: 5 * time.Second},
		Start:            message.Location{Lat: DefaultLat, Lon: DefaultLon},
		Battery:          DefaultBattery,
	}
}

type Agent struct {
	opts    Options
	session transport.Session
	metrics *metrics.Collector
	sink    results.Sink
	logger  *slog.Logger

	state atomic.Int32

	mu      sync.Mutex // guards rng, loc and battery
	rng     *rand.Rand
	loc     message.Location
	battery float64

	flushOnce sync.Once
}

// New builds an agent. sink may be nil, in which case metrics are only
// logged on shutdown.
func New(session transport.Session, m *metrics.Collector, sink results.Sink, logger *slog.Logger, opts Options) *Agent {
	if opts.Scenario == "" {
		opts.Scenario = ScenarioAll
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Agent{
		opts:    opts,
		session: session,
		metrics: m,
		sink:    sink,
		logger:  logger.With("scooter_id", opts.ID, "transport", session.Transport()),
		rng:     rng,
		loc:     opts.Start,
		battery: opts.Battery,
	}
}

func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(s State) {
	if prev := State(a.state.Swap(int32(s))); prev != s {
		a.logger.Debug("state changed", "from", prev, "to", s)
	}
}

// Run blocks until ctx is done or connecting gives up. Metrics are flushed
// exactly once on the way out.
func (a *Agent) Run(ctx context.Context) error {
	started := time.Now()
	defer a.shutdown(started)

	a.logger.Info("scooter starting", "scenario", a.opts.Scenario)

	for {
		a.setState(StateConnecting)
		err := a.opts.Retry.Do(ctx, a.session.Connect, func(attempt int, err error) {
			a.logger.Warn("connect failed, retrying",
				"attempt", attempt, "retry_in", a.opts.Retry.Interval, "error", err)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.setState(StateRegistered)
		a.logger.Info("scooter registered")

		err = a.runTasks(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrChannelClosed) && a.session.Transport().Persistent():
			a.setState(StateDisconnected)
			a.logger.Warn("connection lost, reconnecting", "retry_in", a.opts.Retry.Interval, "error", err)
			if sleep(ctx, a.opts.Retry.Interval) != nil {
				return nil
			}
		case err != nil:
			return err
		default:
			// Every task ended on its own; stay registered until shutdown.
			<-ctx.Done()
			return nil
		}
	}
}

func (a *Agent) runTasks(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.setState(StateRunning)

	if a.opts.Scenario.Includes(ScenarioCommand) {
		g.Go(func() error { return a.listen(gctx) })
	}
	if a.opts.Scenario.Includes(ScenarioLocation) {
		g.Go(func() error { return a.reportLocation(gctx) })
	}
	if a.opts.Scenario.Includes(ScenarioStatus) {
		g.Go(func() error { return a.reportStatus(gctx) })
	}
	return g.Wait()
}

// send swallows per-message failures and returns only channel closure.
func (a *Agent) send(ctx context.Context, msg message.Message) error {
	err := a.session.Send(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrChannelClosed):
		return err
	default:
		a.logger.Warn("send failed", "type", msg.Type, "error", err)
		return nil
	}
}

// finish maps a task's terminal error: cancellation is clean, and a closed
// channel on a connectionless transport only ends that task.
func (a *Agent) finish(ctx context.Context, task string, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, transport.ErrChannelClosed) && !a.session.Transport().Persistent() {
		a.logger.Warn("task stopped, channel closed", "task", task, "error", err)
		return nil
	}
	return err
}

func (a *Agent) reportLocation(ctx context.Context) error {
	for {
		loc, battery, ok := a.move()
		if !ok {
			a.logger.Info("battery depleted, location reports stopped")
			return nil
		}
		if err := a.send(ctx, message.NewLocation(a.opts.ID, loc, battery)); err != nil {
			return a.finish(ctx, "location", err)
		}
		if sleep(ctx, a.opts.LocationInterval) != nil {
			return nil
		}
	}
}

// move perturbs the position and drains the battery. It reports false once
// the battery is empty.
func (a *Agent) move() (message.Location, float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.battery <= 0 {
		return a.loc, 0, false
	}
	a.loc.Lat += (a.rng.Float64()*2 - 1) * maxDelta
	a.loc.Lon += (a.rng.Float64()*2 - 1) * maxDelta
	a.battery = max(0, a.battery-batteryDrain)
	return a.loc, a.battery, true
}

func (a *Agent) reportStatus(ctx context.Context) error {
	for {
		a.mu.Lock()
		locked := a.rng.IntN(2) == 0
		speed := 0
		if !locked {
			speed = a.rng.IntN(maxSpeed + 1)
		}
		battery := a.battery
		a.mu.Unlock()

		if err := a.send(ctx, message.NewStatus(a.opts.ID, battery, locked, speed)); err != nil {
			return a.finish(ctx, "status", err)
		}
		if sleep(ctx, a.opts.StatusInterval) != nil {
			return nil
		}
	}
}

func (a *Agent) listen(ctx context.Context) error {
	err := a.session.ReceiveLoop(ctx, a.handleCommand)
	return a.finish(ctx, "listen", err)
}

func (a *Agent) handleCommand(ctx context.Context, msg message.Message) {
	if msg.Type != message.TypeCommand {
		a.logger.Debug("ignoring message", "type", msg.Type)
		return
	}
	received := time.Now()
	a.logger.Info("command received", "command", msg.Command, "send_time", msg.SendTime)

	if sleep(ctx, a.opts.ProcessingDelay) != nil {
		return
	}
	if err := a.session.Send(ctx, message.NewAck(msg, a.opts.ID)); err != nil {
		a.logger.Warn("ack failed", "command", msg.Command, "error", err)
		return
	}
	a.metrics.RecordProcessing(time.Since(received))
}

func (a *Agent) shutdown(started time.Time) {
	a.setState(StateShuttingDown)
	if err := a.session.Close(); err != nil {
		a.logger.Warn("session close failed", "error", err)
	}
	a.flush(started)
	a.setState(StateTerminated)
}

func (a *Agent) flush(started time.Time) {
	a.flushOnce.Do(func() {
		snap := a.metrics.Snapshot()
		a.logger.Info("scooter metrics", "summary", snap.Summary())
		if a.sink == nil {
			return
		}

		run := results.NewRun(a.session.Transport(), results.RoleClient, a.opts.ID, started)
		run.EndedAt = time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := a.sink.Write(ctx, run, snap); err != nil {
			a.logger.Error("results flush failed", "error", err)
			return
		}
		a.logger.Info("results flushed", "run_id", run.ID)
	})
}
