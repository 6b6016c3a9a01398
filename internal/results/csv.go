package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"scooterlab/internal/metrics"
)

// CSVSink writes results_{transport}.csv for scooters and
// results_{transport}_server.csv for servers. Columns are positionally
// aligned; a shorter series leaves its cells blank.
type CSVSink struct {
	Dir string
}

func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{Dir: dir}
}

// Path returns the file a run is written to.
func (s *CSVSink) Path(run Run) string {
	name := fmt.Sprintf("results_%s.csv", run.Transport)
	if run.Role == RoleServer {
		name = fmt.Sprintf("results_%s_server.csv", run.Transport)
	}
	return filepath.Join(s.Dir, name)
}

func (s *CSVSink) Write(_ context.Context, run Run, snap metrics.Snapshot) error {
	header, columns := clientColumns(snap)
	if run.Role == RoleServer {
		header, columns = serverColumns(snap)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("csv sink: mkdir %s: %w", s.Dir, err)
	}

	path := s.Path(run)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv sink: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("csv sink: write header: %w", err)
	}
	if err := w.WriteAll(rows(columns)); err != nil {
		return fmt.Errorf("csv sink: write %s: %w", path, err)
	}
	return f.Close()
}

func clientColumns(snap metrics.Snapshot) ([]string, [][]float64) {
	return []string{"Latency", "Bandwidth", "ReconnectTime"},
		[][]float64{snap.Processing, snap.Bandwidth, snap.Reconnect}
}

func serverColumns(snap metrics.Snapshot) ([]string, [][]float64) {
	return []string{"Latency_RTT", "Bandwidth"},
		[][]float64{snap.RTT, snap.Bandwidth}
}

func rows(columns [][]float64) [][]string {
	n := 0
	for _, c := range columns {
		n = max(n, len(c))
	}

	out := make([][]string, n)
	for i := range out {
		row := make([]string, len(columns))
		for j, c := range columns {
			if i < len(c) {
				row[j] = strconv.FormatFloat(c[i], 'f', -1, 64)
			}
		}
		out[i] = row
	}
	return out
}
