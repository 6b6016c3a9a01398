package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPAddrOff disables the admin HTTP API when used as HTTP_ADDR.
const HTTPAddrOff = "off"

// adminPortOffset places the default admin port next to the transport port.
const adminPortOffset = 1000

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	ServerHost   string
	TCPPort      int
	UDPPort      int
	WSPort       int
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	// HTTPAddr is the HTTP_ADDR override, empty when unset. Use AdminAddr.
	HTTPAddr     string
	HTTPDisabled bool

	LocationInterval   time.Duration
	StatusInterval     time.Duration
	CommandInterval    time.Duration
	ProcessingDelay    time.Duration
	ReconnectInterval  time.Duration
	ConnectMaxAttempts int

	ResultsDir   string
	ResultSinks  []string
	SQLitePath   string
	SQLiteLogSQL bool

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		ServerHost:   env("SERVER_HOST", "localhost"),
		MQTTBroker:   env("MQTT_BROKER", "localhost"),
		MQTTClientID: env("MQTT_CLIENT_ID", "scooterlab-server"),
		ResultsDir:   env("RESULTS_DIR", "."),
		SQLitePath:   env("SQLITE_PATH", "results.db"),
		InfluxURL:    env("INFLUX_URL", ""),
		InfluxToken:  env("INFLUX_TOKEN", ""),
		InfluxOrg:    env("INFLUX_ORG", ""),
		InfluxBucket: env("INFLUX_BUCKET", ""),
	}

	ports := []struct {
		name string
		def  int
		dst  *int
	}{
		{"TCP_PORT", 8765, &cfg.TCPPort},
		{"UDP_PORT", 8766, &cfg.UDPPort},
		{"WS_PORT", 8767, &cfg.WSPort},
		{"MQTT_PORT", 1883, &cfg.MQTTPort},
	}
	for _, p := range ports {
		if *p.dst, err = parsePort(p.name, p.def); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = env("HTTP_ADDR", "")
	if strings.EqualFold(cfg.HTTPAddr, HTTPAddrOff) {
		cfg.HTTPAddr = ""
		cfg.HTTPDisabled = true
	}

	intervals := []struct {
		name string
		def  string
		dst  *time.Duration
		zero bool
	}{
		{name: "LOCATION_INTERVAL", def: "10s", dst: &cfg.LocationInterval},
		{name: "STATUS_INTERVAL", def: "5s", dst: &cfg.StatusInterval},
		{name: "COMMAND_INTERVAL", def: "15s", dst: &cfg.CommandInterval},
		{name: "PROCESSING_DELAY", def: "100ms", dst: &cfg.ProcessingDelay, zero: true},
		{name: "RECONNECT_INTERVAL", def: "5s", dst: &cfg.ReconnectInterval},
	}
	for _, iv := range intervals {
		if *iv.dst, err = parseDuration(iv.name, iv.def, iv.zero); err != nil {
			return Config{}, err
		}
	}

	attemptsStr := env("CONNECT_MAX_ATTEMPTS", "0")
	cfg.ConnectMaxAttempts, err = strconv.Atoi(attemptsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONNECT_MAX_ATTEMPTS %q: %w", attemptsStr, err)
	}
	if cfg.ConnectMaxAttempts < 0 {
		return Config{}, fmt.Errorf("CONNECT_MAX_ATTEMPTS must not be negative, got %d", cfg.ConnectMaxAttempts)
	}

	logSQLStr := env("SQLITE_LOG_SQL", "false")
	cfg.SQLiteLogSQL, err = strconv.ParseBool(logSQLStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SQLITE_LOG_SQL %q: %w", logSQLStr, err)
	}

	cfg.ResultSinks, err = parseSinks(env("RESULT_SINKS", "csv"))
	if err != nil {
		return Config{}, err
	}
	if cfg.HasSink("influx") && (cfg.InfluxURL == "" || cfg.InfluxBucket == "") {
		return Config{}, fmt.Errorf("RESULT_SINKS includes influx but INFLUX_URL or INFLUX_BUCKET is empty")
	}

	return cfg, nil
}

// ServerAddr is the host:port a scooter dials for the given port.
func (c Config) ServerAddr(port int) string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(port))
}

// ListenAddr binds every interface on port.
func (c Config) ListenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

// AdminAddr is where a server on transportPort serves the admin API, or ""
// when it is disabled. Without HTTP_ADDR it is transportPort+1000, so one
// server per transport can run on the same host.
func (c Config) AdminAddr(transportPort int) string {
	switch {
	case c.HTTPDisabled:
		return ""
	case c.HTTPAddr != "":
		return c.HTTPAddr
	}
	p := transportPort + adminPortOffset
	if p > 65535 {
		p = transportPort - adminPortOffset
	}
	return c.ListenAddr(p)
}

// BrokerAddr is the MQTT broker host:port.
func (c Config) BrokerAddr() string {
	return net.JoinHostPort(c.MQTTBroker, strconv.Itoa(c.MQTTPort))
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.ResultSinks {
		if s == name {
			return true
		}
	}
	return false
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parsePort(name string, def int) (int, error) {
	s := env(name, strconv.Itoa(def))
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s must be in 1..65535, got %d", name, port)
	}
	return port, nil
}

func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	s := env(name, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return d, nil
}

func parseSinks(s string) ([]string, error) {
	var sinks []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		switch name {
		case "":
			continue
		case "csv", "sqlite", "influx":
		default:
			return nil, fmt.Errorf("invalid RESULT_SINKS entry %q (allowed: csv, sqlite, influx)", part)
		}
		if !seen[name] {
			seen[name] = true
			sinks = append(sinks, name)
		}
	}
	return sinks, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
