package results

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"scooterlab/internal/metrics"
)

// Measurement is the InfluxDB measurement every sample is written to.
const Measurement = "scooter_sample"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates the bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per sample. Points of a series are spaced one
// microsecond apart from the run's end so none overwrite each other.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *InfluxSink) Write(ctx context.Context, run Run, snap metrics.Snapshot) error {
	points := buildPoints(run, snap)
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx sink: write %d points: %w", len(points), err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

func buildPoints(run Run, snap metrics.Snapshot) []*write.Point {
	base := run.EndedAt
	if base.IsZero() {
		base = time.Now()
	}

	var points []*write.Point
	for _, ser := range seriesOf(snap) {
		tags := map[string]string{
			"run_id":    run.ID,
			"transport": string(run.Transport),
			"role":      string(run.Role),
			"metric":    ser.name,
		}
		if run.ScooterID != "" {
			tags["scooter"] = run.ScooterID
		}
		for i, v := range ser.values {
			fields := map[string]interface{}{"value": v, "seq": i}
			points = append(points, write.NewPoint(Measurement, tags, fields, base.Add(time.Duration(i)*time.Microsecond)))
		}
	}
	return points
}
