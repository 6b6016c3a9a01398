package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scooterlab/internal/message"
	"scooterlab/internal/metrics"
	"scooterlab/internal/registry"
	"scooterlab/internal/transport"
)

type fakePeer struct{ addr string }

func (p *fakePeer) Addr() string { return p.addr }
func (p *fakePeer) Send(message.Message) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *metrics.Collector) {
	t.Helper()

	reg := registry.New()
	m := metrics.NewCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(":0", logger, NewMux(transport.TCP, reg, m))
	ts := httptest.NewServer(srv.Handler)

	t.Cleanup(ts.Close)
	return ts, reg, m
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body map[string]string
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Fatalf("body.status=%q want=%q", body["status"], "ok")
	}
}

func TestScooters(t *testing.T) {
	ts, reg, _ := newTestServer(t)

	var empty []Scooter
	mustGetJSON(t, ts.Client(), ts.URL+"/scooters", &empty)
	if len(empty) != 0 {
		t.Fatalf("scooters=%v want empty", empty)
	}

	reg.Upsert("S2", &fakePeer{addr: "127.0.0.1:4002"})
	reg.Upsert("S1", &fakePeer{addr: "127.0.0.1:4001"})

	var got []Scooter
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/scooters", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	want := []Scooter{{ID: "S1", Addr: "127.0.0.1:4001"}, {ID: "S2", Addr: "127.0.0.1:4002"}}
	if len(got) != len(want) {
		t.Fatalf("scooters=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scooters[%d]=%+v want=%+v", i, got[i], want[i])
		}
	}
}

func TestMetrics(t *testing.T) {
	ts, reg, m := newTestServer(t)

	reg.Upsert("S1", &fakePeer{addr: "a"})
	m.RecordRTT(0.25)
	m.RecordRTT(0.75)
	m.RecordBandwidth(metrics.Inbound, 40)
	m.RecordReconnect(10 * time.Millisecond)

	var got MetricsResponse
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/metrics", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if got.Transport != transport.TCP {
		t.Errorf("transport=%q want=%q", got.Transport, transport.TCP)
	}
	if got.Scooters != 1 {
		t.Errorf("scooters=%d want=1", got.Scooters)
	}
	if got.Summary.RTT.Count != 2 || got.Summary.RTT.Mean != 0.5 {
		t.Errorf("rtt=%+v want count 2 mean 0.5", got.Summary.RTT)
	}
	if got.Summary.BytesIn != 40 {
		t.Errorf("bytes_in=%d want=40", got.Summary.BytesIn)
	}
}

func TestRouting_WrongMethod(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestScooterByID(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	reg.Upsert("S1", &fakePeer{addr: "127.0.0.1:4001"})

	var got Scooter
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/scooters/S1", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if got != (Scooter{ID: "S1", Addr: "127.0.0.1:4001"}) {
		t.Errorf("scooter=%+v", got)
	}

	var body map[string]string
	resp = mustGetJSON(t, ts.Client(), ts.URL+"/scooters/S9", &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
	if body["error"] != "Not Found" || body["message"] != "unknown scooter S9" {
		t.Errorf("body=%v", body)
	}
}

func TestRouting_UnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body map[string]string
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/nope", &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
	if resp.Header.Get("Content-Type") != "application/json; charset=utf-8" {
		t.Errorf("content-type=%q", resp.Header.Get("Content-Type"))
	}
	if body["message"] != "no route for /nope" {
		t.Errorf("body=%v", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad transport")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Bad Request" || body["message"] != "bad transport" {
		t.Errorf("body=%v", body)
	}
}
