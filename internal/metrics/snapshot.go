package metrics

import (
	"log/slog"
	"math"
)

// Snapshot is an immutable copy of a Collector's series.
type Snapshot struct {
	RTT        []float64
	Processing []float64
	Bandwidth  []float64
	Reconnect  []float64
	BytesIn    int64
	BytesOut   int64
}

// Stats is a count/mean/min/max digest of one series.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summary digests a snapshot for logs and the admin API.
type Summary struct {
	RTT        Stats `json:"rtt_seconds"`
	Processing Stats `json:"processing_seconds"`
	Bandwidth  Stats `json:"bandwidth_bytes"`
	Reconnect  Stats `json:"reconnect_seconds"`
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
}

func (s Snapshot) Summary() Summary {
	return Summary{
		RTT:        Describe(s.RTT),
		Processing: Describe(s.Processing),
		Bandwidth:  Describe(s.Bandwidth),
		Reconnect:  Describe(s.Reconnect),
		BytesIn:    s.BytesIn,
		BytesOut:   s.BytesOut,
	}
}

// TotalBytes is the sum of every bandwidth sample.
func (s Snapshot) TotalBytes() int64 {
	return s.BytesIn + s.BytesOut
}

// Describe computes Stats for values. An empty series yields the zero Stats.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	st := Stats{Count: len(values), Min: math.MaxFloat64, Max: -math.MaxFloat64}
	var sum float64
	for _, v := range values {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / float64(len(values))
	return st
}

// LogValue renders the shutdown summary: average reconnect time, average
// latency, total bytes and average message size.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("reconnects", s.Reconnect.Count),
		slog.Float64("avg_reconnect_s", s.Reconnect.Mean),
		slog.Int("rtt_samples", s.RTT.Count),
		slog.Float64("avg_rtt_s", s.RTT.Mean),
		slog.Int("processing_samples", s.Processing.Count),
		slog.Float64("avg_processing_s", s.Processing.Mean),
		slog.Int("messages", s.Bandwidth.Count),
		slog.Int64("total_bytes", s.BytesIn+s.BytesOut),
		slog.Float64("avg_message_bytes", s.Bandwidth.Mean),
	)
}
