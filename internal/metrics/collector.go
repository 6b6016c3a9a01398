// Package metrics accumulates the per-run measurement samples shared by the
// transports, the scooter agent and the server role.
package metrics

import (
	"sync"
	"time"
)

// Direction tags a bandwidth sample with the way the message travelled.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// Collector holds append-only sample series for one run. Network RTT and
// scooter processing latency are separate series and are never merged.
// All methods are safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	rtt        []float64
	processing []float64
	bandwidth  []float64
	reconnect  []float64
	bytesIn    int64
	bytesOut   int64
}

func NewCollector() *Collector {
	return &Collector{}
}

// RecordRTT appends a server-side round trip in seconds.
func (c *Collector) RecordRTT(seconds float64) {
	c.mu.Lock()
	c.rtt = append(c.rtt, seconds)
	c.mu.Unlock()
}

// RecordProcessing appends the scooter-side command turnaround.
func (c *Collector) RecordProcessing(d time.Duration) {
	c.mu.Lock()
	c.processing = append(c.processing, d.Seconds())
	c.mu.Unlock()
}

// RecordBandwidth appends the wire size of one message.
func (c *Collector) RecordBandwidth(dir Direction, bytes int) {
	if bytes < 0 {
		return
	}
	c.mu.Lock()
	c.bandwidth = append(c.bandwidth, float64(bytes))
	if dir == Outbound {
		c.bytesOut += int64(bytes)
	} else {
		c.bytesIn += int64(bytes)
	}
	c.mu.Unlock()
}

// RecordReconnect appends the duration of one successful connect.
func (c *Collector) RecordReconnect(d time.Duration) {
	c.mu.Lock()
	c.reconnect = append(c.reconnect, d.Seconds())
	c.mu.Unlock()
}

// Snapshot returns a copy of every series.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RTT:        clone(c.rtt),
		Processing: clone(c.processing),
		Bandwidth:  clone(c.bandwidth),
		Reconnect:  clone(c.reconnect),
		BytesIn:    c.bytesIn,
		BytesOut:   c.bytesOut,
	}
}

func clone(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
