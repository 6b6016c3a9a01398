package httpapi

import (
	"net/http"

	"scooterlab/internal/metrics"
	"scooterlab/internal/registry"
	"scooterlab/internal/transport"
)

// Registry is the read side of the known-clients registry.
type Registry interface {
	Get(id string) (transport.Peer, bool)
	Peers() []registry.Entry
	Len() int
}

// Metrics exposes the running collector.
type Metrics interface {
	Snapshot() metrics.Snapshot
}

type Scooter struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

type MetricsResponse struct {
	Transport transport.Kind  `json:"transport"`
	Scooters  int             `json:"scooters"`
	Summary   metrics.Summary `json:"summary"`
}

type adminAPI struct {
	kind     transport.Kind
	registry Registry
	metrics  Metrics
}

func NewMux(kind transport.Kind, reg Registry, m Metrics) *http.ServeMux {
	api := &adminAPI{kind: kind, registry: reg, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealthz)
	mux.HandleFunc("GET /scooters", api.handleScooters)
	mux.HandleFunc("GET /scooters/{id}", api.handleScooter)
	mux.HandleFunc("GET /metrics", api.handleMetrics)
	mux.HandleFunc("GET /", api.handleNotFound)
	return mux
}

func (a *adminAPI) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *adminAPI) handleScooters(w http.ResponseWriter, r *http.Request) {
	entries := a.registry.Peers()
	out := make([]Scooter, 0, len(entries))
	for _, e := range entries {
		out = append(out, Scooter{ID: e.ID, Addr: e.Peer.Addr()})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *adminAPI) handleScooter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := a.registry.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown scooter "+id)
		return
	}
	WriteJSON(w, http.StatusOK, Scooter{ID: id, Addr: p.Addr()})
}

func (a *adminAPI) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "no route for "+r.URL.Path)
}

func (a *adminAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, MetricsResponse{
		Transport: a.kind,
		Scooters:  a.registry.Len(),
		Summary:   a.metrics.Snapshot().Summary(),
	})
}
