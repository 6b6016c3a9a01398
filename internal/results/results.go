// Package results persists the metrics of one run.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"scooterlab/internal/metrics"
	"scooterlab/internal/transport"
)

// Role is the side of the exchange a run measured.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Run identifies one process lifetime of a scooter or server.
type Run struct {
	ID        string
	Transport transport.Kind
	Role      Role
	ScooterID string
	StartedAt time.Time
	EndedAt   time.Time
}

func NewRun(kind transport.Kind, role Role, scooterID string, started time.Time) Run {
	return Run{
		ID:        uuid.NewString(),
		Transport: kind,
		Role:      role,
		ScooterID: scooterID,
		StartedAt: started,
	}
}

// Sink stores a run's snapshot.
type Sink interface {
	Write(ctx context.Context, run Run, snap metrics.Snapshot) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, run Run, snap metrics.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, run, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Series names used by the SQL and Influx sinks.
const (
	SeriesRTT        = "rtt"
	SeriesProcessing = "processing"
	SeriesBandwidth  = "bandwidth"
	SeriesReconnect  = "reconnect"
)

type series struct {
	name   string
	values []float64
}

// seriesOf lists the non-empty series of snap in a fixed order.
func seriesOf(snap metrics.Snapshot) []series {
	all := []series{
		{SeriesRTT, snap.RTT},
		{SeriesProcessing, snap.Processing},
		{SeriesBandwidth, snap.Bandwidth},
		{SeriesReconnect, snap.Reconnect},
	}
	out := all[:0]
	for _, s := range all {
		if len(s.values) > 0 {
			out = append(out, s)
		}
	}
	return out
}
