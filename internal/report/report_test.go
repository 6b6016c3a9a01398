package report

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Stats
	}{
		{
			name:    "single sample has no jitter",
			samples: []float64{0.2},
			want:    Stats{Transport: "x", Count: 1, Mean: 0.2, Min: 0.2, Max: 0.2},
		},
		{
			name:    "sample standard deviation",
			samples: []float64{0.1, 0.2, 0.3},
			want:    Stats{Transport: "x", Count: 3, Mean: 0.2, Min: 0.1, Max: 0.3, Jitter: 0.1},
		},
		{
			name: "empty",
			want: Stats{Transport: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute("x", tt.samples)
			if got.Count != tt.want.Count || !near(got.Mean, tt.want.Mean) || !near(got.Min, tt.want.Min) ||
				!near(got.Max, tt.want.Max) || !near(got.Jitter, tt.want.Jitter) {
				t.Errorf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "results_tcp_server.csv", "Latency_RTT,Bandwidth\n0.11,50\n0.13,60\n,70\n")
	writeFile(t, dir, "results_udp_server.csv", "Latency_RTT,Bandwidth\n0.105,40\n0.125,40\n0.115,40\n")
	writeFile(t, dir, "results_websocket_server.csv", "Latency_RTT,Bandwidth\n")
	writeFile(t, dir, "results_tcp.csv", "Latency,Bandwidth,ReconnectTime\n0.1,50,0.001\n")
	writeFile(t, dir, "notes.txt", "ignored")

	stats, err := Load(dir, discard())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Load() returned %d transports, want 2: %+v", len(stats), stats)
	}
	if stats[0].Transport != "tcp" || stats[0].Count != 2 || !near(stats[0].Mean, 0.12) {
		t.Errorf("tcp stats = %+v", stats[0])
	}
	if stats[1].Transport != "udp" || stats[1].Count != 3 {
		t.Errorf("udp stats = %+v", stats[1])
	}

	r := Build(stats)
	if r.Fastest != "udp" {
		t.Errorf("Fastest = %q, want udp", r.Fastest)
	}
	if r.MostStable != "udp" {
		t.Errorf("MostStable = %q, want udp", r.MostStable)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		if _, err := Load(t.TempDir(), discard()); !errors.Is(err, ErrNoResults) {
			t.Fatalf("Load() error = %v, want ErrNoResults", err)
		}
	})

	t.Run("only bad files", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "results_mqtt_server.csv", "Latency_RTT,Bandwidth\nfast,10\n")
		_, err := Load(dir, discard())
		if !errors.Is(err, ErrNoResults) || !strings.Contains(err.Error(), "line 2") {
			t.Fatalf("Load() error = %v, want ErrNoResults with line 2 parse error", err)
		}
	})
}

func TestLoad_SkipsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "results_mqtt_server.csv", "Latency_RTT,Bandwidth\nfast,10\n")
	writeFile(t, dir, "results_tcp_server.csv", "Latency_RTT,Bandwidth\n0.1,50\n0.2,50\n")

	var logs bytes.Buffer
	stats, err := Load(dir, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if len(stats) != 1 || stats[0].Transport != "tcp" || stats[0].Count != 2 {
		t.Fatalf("Load() = %+v, want tcp only", stats)
	}
	out := logs.String()
	if !strings.Contains(out, "skipping result file") || !strings.Contains(out, "results_mqtt_server.csv") {
		t.Errorf("log output = %q, want a warning naming the bad file", out)
	}
}

func TestFastestAndMostStableDiffer(t *testing.T) {
	stats := []Stats{
		{Transport: "tcp", Count: 5, Mean: 0.110, Jitter: 0.020},
		{Transport: "mqtt", Count: 5, Mean: 0.150, Jitter: 0.002},
		{Transport: "websocket", Count: 0},
	}
	if s, _ := Fastest(stats); s.Transport != "tcp" {
		t.Errorf("Fastest = %q, want tcp", s.Transport)
	}
	if s, _ := MostStable(stats); s.Transport != "mqtt" {
		t.Errorf("MostStable = %q, want mqtt", s.Transport)
	}
	if _, ok := Fastest(nil); ok {
		t.Error("Fastest(nil) reported a result")
	}
}

func TestWriters(t *testing.T) {
	r := Build([]Stats{Compute("tcp", []float64{0.1, 0.3})})

	var table bytes.Buffer
	if err := WriteTable(&table, r); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	for _, want := range []string{"TRANSPORT", "tcp", "200.00", "fastest: tcp"} {
		if !strings.Contains(table.String(), want) {
			t.Errorf("table missing %q:\n%s", want, table.String())
		}
	}

	var out bytes.Buffer
	if err := WriteYAML(&out, r); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	var back Report
	if err := yaml.Unmarshal(out.Bytes(), &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if back.Fastest != "tcp" || len(back.Transports) != 1 || back.Transports[0].Count != 2 {
		t.Errorf("decoded report = %+v", back)
	}
}
