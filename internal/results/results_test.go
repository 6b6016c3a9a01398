package results

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"scooterlab/internal/db"
	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// storedSeries returns one series of a stored run in recorded order.
func storedSeries(t *testing.T, conn *sql.DB, runID, series string) []float64 {
	t.Helper()
	rows, err := conn.QueryContext(context.Background(),
		`SELECT value FROM samples WHERE run_id = ? AND metric = ? ORDER BY seq`, runID, series)
	if err != nil {
		t.Fatalf("select samples: %v", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan sample: %v", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("read samples: %v", err)
	}
	return out
}

func sampleSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		RTT:        []float64{0.105, 0.11},
		Processing: []float64{0.1001},
		Bandwidth:  []float64{58, 61, 42},
		Reconnect:  []float64{0.002},
		BytesIn:    103,
		BytesOut:   58,
	}
}

func TestCSVSink_Client(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	run := NewRun(transport.TCP, RoleClient, "S1", time.Now())

	if err := sink.Write(context.Background(), run, sampleSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "results_tcp.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "Latency,Bandwidth,ReconnectTime\n" +
		"0.1001,58,0.002\n" +
		",61,\n" +
		",42,\n"
	if string(got) != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}
}

func TestCSVSink_Server(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	run := NewRun(transport.WebSocket, RoleServer, "", time.Now())

	if err := sink.Write(context.Background(), run, sampleSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if sink.Path(run) != filepath.Join(dir, "results_websocket_server.csv") {
		t.Fatalf("Path() = %q", sink.Path(run))
	}

	got, err := os.ReadFile(sink.Path(run))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "Latency_RTT,Bandwidth\n0.105,58\n0.11,61\n,42\n"
	if string(got) != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}
}

func TestCSVSink_EmptyStillCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewCSVSink(dir)
	run := NewRun(transport.UDP, RoleServer, "", time.Now())

	if err := sink.Write(context.Background(), run, metrics.Snapshot{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := os.ReadFile(sink.Path(run))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "Latency_RTT,Bandwidth\n" {
		t.Errorf("csv = %q, want header only", got)
	}
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Options{Path: ":memory:", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer func() { _ = db.Close(conn) }()

	sink := NewSQLiteSink(conn)
	run := NewRun(transport.MQTT, RoleServer, "", time.Now().Add(-time.Minute))
	run.EndedAt = time.Now()

	if err := sink.Write(ctx, run, sampleSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rtt := storedSeries(t, conn, run.ID, SeriesRTT)
	if len(rtt) != 2 || rtt[0] != 0.105 || rtt[1] != 0.11 {
		t.Errorf("rtt samples = %v, want [0.105 0.11]", rtt)
	}

	var transportName string
	var bytesIn int64
	err = conn.QueryRowContext(ctx, `SELECT transport, bytes_in FROM runs WHERE id = ?`, run.ID).Scan(&transportName, &bytesIn)
	if err != nil {
		t.Fatalf("select run: %v", err)
	}
	if transportName != "mqtt" || bytesIn != 103 {
		t.Errorf("run row = %q/%d, want mqtt/103", transportName, bytesIn)
	}

	// Same run id twice violates the primary key and leaves no partial samples.
	if err := sink.Write(ctx, run, sampleSnapshot()); err == nil {
		t.Fatal("second Write() error = nil, want non-nil")
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE run_id = ?`, run.ID).Scan(&n); err != nil {
		t.Fatalf("count samples: %v", err)
	}
	if n != 7 {
		t.Errorf("samples = %d, want 7", n)
	}
}

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	f.points = append(f.points, p...)
	return f.err
}

func TestInfluxSink(t *testing.T) {
	w := &fakeWriter{}
	sink := &InfluxSink{writer: w}
	run := NewRun(transport.UDP, RoleClient, "S1", time.Now())
	run.EndedAt = time.Unix(1700000000, 0)

	if err := sink.Write(context.Background(), run, sampleSnapshot()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(w.points) != 7 {
		t.Fatalf("points = %d, want 7", len(w.points))
	}

	p := w.points[0]
	if p.Name() != Measurement {
		t.Errorf("measurement = %q, want %q", p.Name(), Measurement)
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["transport"] != "udp" || tags["metric"] != SeriesRTT || tags["scooter"] != "S1" {
		t.Errorf("tags = %v", tags)
	}
	if !w.points[1].Time().After(p.Time()) {
		t.Errorf("points of one series share a timestamp")
	}

	w.err = errors.New("bucket not found")
	if err := sink.Write(context.Background(), run, sampleSnapshot()); err == nil || !strings.Contains(err.Error(), "bucket not found") {
		t.Errorf("Write() error = %v, want wrapped writer error", err)
	}
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, Run, metrics.Snapshot) error { return f.err }

func TestMulti(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	dir := t.TempDir()

	m := Multi{failingSink{errA}, NewCSVSink(dir), failingSink{errB}}
	run := NewRun(transport.TCP, RoleServer, "", time.Now())

	err := m.Write(context.Background(), run, sampleSnapshot())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Write() error = %v, want both errors joined", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "results_tcp_server.csv")); statErr != nil {
		t.Errorf("csv sink skipped after an earlier failure: %v", statErr)
	}
}
