package config

import (
	"log/slog"
	"slices"
	"testing"
	"time"
)

var allVars = []string{
	"APP_ENV", "LOG_LEVEL", "SERVER_HOST", "TCP_PORT", "UDP_PORT", "WS_PORT",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID", "HTTP_ADDR",
	"LOCATION_INTERVAL", "STATUS_INTERVAL", "COMMAND_INTERVAL", "PROCESSING_DELAY",
	"RECONNECT_INTERVAL", "CONNECT_MAX_ATTEMPTS", "RESULTS_DIR", "RESULT_SINKS",
	"SQLITE_PATH", "SQLITE_LOG_SQL", "INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.TCPPort != 8765 || got.UDPPort != 8766 || got.WSPort != 8767 || got.MQTTPort != 1883 {
		t.Errorf("ports = %d/%d/%d/%d, want 8765/8766/8767/1883", got.TCPPort, got.UDPPort, got.WSPort, got.MQTTPort)
	}
	if got.AdminAddr(got.TCPPort) != ":9765" || got.AdminAddr(got.MQTTPort) != ":2883" {
		t.Errorf("AdminAddr = %q / %q, want :9765 / :2883", got.AdminAddr(got.TCPPort), got.AdminAddr(got.MQTTPort))
	}
	if got.CommandInterval != 15*time.Second || got.ProcessingDelay != 100*time.Millisecond {
		t.Errorf("CommandInterval = %v, ProcessingDelay = %v", got.CommandInterval, got.ProcessingDelay)
	}
	if got.ReconnectInterval != 5*time.Second || got.ConnectMaxAttempts != 0 {
		t.Errorf("ReconnectInterval = %v, ConnectMaxAttempts = %d", got.ReconnectInterval, got.ConnectMaxAttempts)
	}
	if !slices.Equal(got.ResultSinks, []string{"csv"}) {
		t.Errorf("ResultSinks = %v, want [csv]", got.ResultSinks)
	}
	if got.ServerAddr(got.TCPPort) != "localhost:8765" {
		t.Errorf("ServerAddr = %q", got.ServerAddr(got.TCPPort))
	}
	if got.ListenAddr(got.UDPPort) != ":8766" {
		t.Errorf("ListenAddr = %q", got.ListenAddr(got.UDPPort))
	}
	if got.BrokerAddr() != "localhost:1883" {
		t.Errorf("BrokerAddr = %q", got.BrokerAddr())
	}
}

func TestLoadFromEnv_AdminAddr(t *testing.T) {
	tests := []struct {
		name string
		in   string
		port int
		want string
	}{
		{name: "derived from tcp port", in: "", port: 8765, want: ":9765"},
		{name: "derived from udp port", in: "", port: 8766, want: ":9766"},
		{name: "derived below when above range", in: "", port: 65000, want: ":64000"},
		{name: "explicit override trimmed", in: "  :9090  ", port: 8765, want: ":9090"},
		{name: "off disables", in: "off", port: 8765, want: ""},
		{name: "off is case insensitive", in: " OFF ", port: 8765, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("HTTP_ADDR", tt.in)

			got, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
			if addr := got.AdminAddr(tt.port); addr != tt.want {
				t.Errorf("AdminAddr(%d) = %q, want %q", tt.port, addr, tt.want)
			}
		})
	}
}

func TestAdminAddr_DistinctPerTransport(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	seen := map[string]bool{}
	for _, p := range []int{cfg.TCPPort, cfg.UDPPort, cfg.WSPort, cfg.MQTTPort} {
		addr := cfg.AdminAddr(p)
		if seen[addr] {
			t.Errorf("AdminAddr(%d) = %q collides with another transport", p, addr)
		}
		seen[addr] = true
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "app env", key: "APP_ENV", val: "staging"},
		{name: "log level", key: "LOG_LEVEL", val: "loud"},
		{name: "port not a number", key: "TCP_PORT", val: "http"},
		{name: "port out of range", key: "UDP_PORT", val: "70000"},
		{name: "port zero", key: "MQTT_PORT", val: "0"},
		{name: "bad duration", key: "STATUS_INTERVAL", val: "often"},
		{name: "zero interval", key: "COMMAND_INTERVAL", val: "0s"},
		{name: "negative delay", key: "PROCESSING_DELAY", val: "-1s"},
		{name: "negative attempts", key: "CONNECT_MAX_ATTEMPTS", val: "-2"},
		{name: "bad bool", key: "SQLITE_LOG_SQL", val: "maybe"},
		{name: "unknown sink", key: "RESULT_SINKS", val: "csv,kafka"},
		{name: "influx without url", key: "RESULT_SINKS", val: "influx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.val)
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HOST", "10.0.0.5")
	t.Setenv("WS_PORT", "9000")
	t.Setenv("PROCESSING_DELAY", "0s")
	t.Setenv("CONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("SQLITE_LOG_SQL", "true")
	t.Setenv("RESULT_SINKS", " CSV , sqlite,influx,csv ")
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_BUCKET", "scooters")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.ServerAddr(got.WSPort) != "10.0.0.5:9000" {
		t.Errorf("ServerAddr = %q, want %q", got.ServerAddr(got.WSPort), "10.0.0.5:9000")
	}
	if got.ProcessingDelay != 0 {
		t.Errorf("ProcessingDelay = %v, want 0", got.ProcessingDelay)
	}
	if got.ConnectMaxAttempts != 3 || !got.SQLiteLogSQL {
		t.Errorf("ConnectMaxAttempts = %d, SQLiteLogSQL = %v", got.ConnectMaxAttempts, got.SQLiteLogSQL)
	}
	if want := []string{"csv", "sqlite", "influx"}; !slices.Equal(got.ResultSinks, want) {
		t.Errorf("ResultSinks = %v, want %v", got.ResultSinks, want)
	}
	if !got.HasSink("sqlite") || got.HasSink("parquet") {
		t.Errorf("HasSink mismatch for %v", got.ResultSinks)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "  ERROR \n", want: slog.LevelError},
		{in: "nope", want: slog.LevelInfo, wantErr: true},
		{in: "", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
