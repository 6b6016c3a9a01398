package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scooterlab/internal/agent"
	"scooterlab/internal/config"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
	"scooterlab/internal/transport/mqtt"
	"scooterlab/internal/transport/tcp"
	"scooterlab/internal/transport/udp"
	"scooterlab/internal/transport/ws"
)

func newClientCommand() *cobra.Command {
	var transportFlag, scenarioFlag, idFlag string
	c := &cobra.Command{
		Use:   "client",
		Short: "Simulate one scooter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := transport.ParseKind(transportFlag)
			if err != nil {
				return err
			}
			scenario, err := agent.ParseScenario(scenarioFlag)
			if err != nil {
				return err
			}
			id := idFlag
			if id == "" {
				id = fmt.Sprintf("scooter_%s_1", kind)
			}
			return runClient(cmd.Context(), kind, scenario, id)
		},
	}
	c.Flags().StringVarP(&transportFlag, "transport", "t", string(transport.TCP), "transport: "+transport.KindList())
	c.Flags().StringVarP(&scenarioFlag, "scenario", "s", string(agent.ScenarioAll), "scenario: status, location, command or all")
	c.Flags().StringVar(&idFlag, "id", "", "scooter id (default scooter_<transport>_1)")
	return c
}

func runClient(ctx context.Context, kind transport.Kind, scenario agent.Scenario, id string) error {
	cfg, logger, err := setup(kind, "client")
	if err != nil {
		return err
	}

	sink, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	m := metrics.NewCollector()
	sess := newSession(cfg, kind, transport.Options{
		ScooterID: id,
		Addr:      cfg.ServerAddr(port(cfg, kind)),
		Metrics:   m,
		Logger:    logger,
	})

	opts := agent.DefaultOptions(id)
	opts.Scenario = scenario
	opts.LocationInterval = cfg.LocationInterval
	opts.StatusInterval = cfg.StatusInterval
	opts.ProcessingDelay = cfg.ProcessingDelay
	opts.Retry = agent.RetryPolicy{Interval: cfg.ReconnectInterval, MaxAttempts: cfg.ConnectMaxAttempts}

	err = agent.New(sess, m, sink, logger, opts).Run(ctx)
	logger.Info("shutting down")
	return err
}

func newSession(cfg config.Config, kind transport.Kind, opts transport.Options) transport.Session {
	switch kind {
	case transport.UDP:
		return udp.NewSession(opts)
	case transport.WebSocket:
		return ws.NewSession(opts)
	case transport.MQTT:
		opts.Addr = cfg.BrokerAddr()
		return mqtt.NewSession(opts)
	default:
		return tcp.NewSession(opts)
	}
}

