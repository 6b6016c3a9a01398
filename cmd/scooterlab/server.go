package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scooterlab/internal/config"
	"scooterlab/internal/httpapi"
	"scooterlab/internal/metrics"
	"scooterlab/internal/registry"
	"scooterlab/internal/server"
	"scooterlab/internal/transport"
	"scooterlab/internal/transport/mqtt"
	"scooterlab/internal/transport/tcp"
	"scooterlab/internal/transport/udp"
	"scooterlab/internal/transport/ws"
)

func newServerCommand() *cobra.Command {
	var transportFlag string
	c := &cobra.Command{
		Use:   "server",
		Short: "Track scooters, broadcast commands and measure round trips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := transport.ParseKind(transportFlag)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), kind)
		},
	}
	c.Flags().StringVarP(&transportFlag, "transport", "t", string(transport.TCP), "transport: "+transport.KindList())
	return c
}

func runServer(ctx context.Context, kind transport.Kind) error {
	cfg, logger, err := setup(kind, "server")
	if err != nil {
		return err
	}

	sink, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	m := metrics.NewCollector()
	ep, err := listen(cfg, kind, m, logger)
	if err != nil {
		return err
	}

	reg := registry.New()
	opts := server.DefaultOptions()
	opts.CommandInterval = cfg.CommandInterval
	srv := server.New(ep, reg, m, sink, logger, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if addr := cfg.AdminAddr(port(cfg, kind)); addr != "" {
		admin := httpapi.NewServer(addr, logger, httpapi.NewMux(kind, reg, m))
		g.Go(func() error {
			if err := httpapi.ListenAndServe(gctx, admin, logger); err != nil {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func listen(cfg config.Config, kind transport.Kind, m *metrics.Collector, logger *slog.Logger) (transport.Endpoint, error) {
	addr := cfg.ListenAddr(port(cfg, kind))
	var (
		ep  transport.Endpoint
		err error
	)
	switch kind {
	case transport.TCP:
		ep, err = tcp.Listen(addr, m, logger)
	case transport.UDP:
		ep, err = udp.Listen(addr, m, logger)
	case transport.WebSocket:
		ep, err = ws.Listen(addr, m, logger)
	case transport.MQTT:
		ep = mqtt.NewEndpoint(mqtt.EndpointConfig{Broker: cfg.BrokerAddr(), ClientID: cfg.MQTTClientID}, m, logger)
	default:
		err = fmt.Errorf("unsupported transport %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", kind, addr, err)
	}
	return ep, nil
}
