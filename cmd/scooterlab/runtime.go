package main

import (
	"context"
	"fmt"
	"log/slog"

	"scooterlab/internal/config"
	"scooterlab/internal/db"
	"scooterlab/internal/logging"
	"scooterlab/internal/results"
	"scooterlab/internal/transport"
)

// setup loads the environment and installs the process logger.
func setup(kind transport.Kind, role string) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	logger.Info("starting",
		"role", role,
		"transport", kind,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"result_sinks", cfg.ResultSinks,
	)
	return cfg, logger, nil
}

// port returns the configured port of a transport.
func port(cfg config.Config, kind transport.Kind) int {
	switch kind {
	case transport.UDP:
		return cfg.UDPPort
	case transport.WebSocket:
		return cfg.WSPort
	case transport.MQTT:
		return cfg.MQTTPort
	default:
		return cfg.TCPPort
	}
}

// openSinks builds the configured result sinks. The returned cleanup closes
// whatever was opened and is safe to call when err is non-nil.
func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (results.Sink, func(), error) {
	var (
		sinks   results.Multi
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, name := range cfg.ResultSinks {
		switch name {
		case "csv":
			sinks = append(sinks, results.NewCSVSink(cfg.ResultsDir))
		case "sqlite":
			conn, err := db.Open(ctx, db.Options{Path: cfg.SQLitePath, LogSQL: cfg.SQLiteLogSQL, Logger: logger})
			if err != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("open results db: %w", err)
			}
			closers = append(closers, func() {
				if err := db.Close(conn); err != nil {
					logger.Warn("close results db", "error", err)
				}
			})
			sinks = append(sinks, results.NewSQLiteSink(conn))
		case "influx":
			sink := results.NewInfluxSink(results.InfluxConfig{
				URL:    cfg.InfluxURL,
				Token:  cfg.InfluxToken,
				Org:    cfg.InfluxOrg,
				Bucket: cfg.InfluxBucket,
			})
			closers = append(closers, sink.Close)
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return nil, cleanup, nil
	}
	return sinks, cleanup, nil
}
