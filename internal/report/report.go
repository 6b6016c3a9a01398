// Package report summarizes the server round-trip series saved by earlier
// runs and ranks the transports against each other.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// ErrNoResults is returned when a directory holds no server result file
// with at least one latency sample.
var ErrNoResults = errors.New("no server results found")

const serverSuffix = "_server.csv"

// Stats describes one transport's round-trip series, in seconds.
type Stats struct {
	Transport string  `yaml:"transport"`
	Count     int     `yaml:"count"`
	Mean      float64 `yaml:"mean_s"`
	Min       float64 `yaml:"min_s"`
	Max       float64 `yaml:"max_s"`
	Jitter    float64 `yaml:"jitter_s"`
}

type Report struct {
	Transports []Stats `yaml:"transports"`
	Fastest    string  `yaml:"fastest"`
	MostStable string  `yaml:"most_stable"`
}

// Load reads every results_*_server.csv in dir. Files without a latency
// column or without samples are skipped. A file that cannot be read or
// parsed is logged and skipped; its error is returned only when no file
// produced results.
func Load(dir string, logger *slog.Logger) ([]Stats, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "results_*"+serverSuffix))
	if err != nil {
		return nil, fmt.Errorf("report: glob %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		out     []Stats
		skipped []error
	)
	for _, path := range paths {
		samples, err := readLatency(path)
		if err != nil {
			logger.Warn("skipping result file", "path", path, "error", err)
			skipped = append(skipped, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "results_"), serverSuffix)
		out = append(out, Compute(name, samples))
	}
	if len(out) == 0 {
		return nil, errors.Join(fmt.Errorf("%w in %s", ErrNoResults, dir), errors.Join(skipped...))
	}
	return out, nil
}

func readLatency(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read header %s: %w", path, err)
	}

	col := -1
	for i, h := range header {
		if strings.Contains(h, "Latency") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, nil
	}

	var samples []float64
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("report: read %s: %w", path, err)
		}
		if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("report: %s line %d: %w", path, line, err)
		}
		samples = append(samples, v)
	}
}

// Compute derives the statistics of one non-empty series. Jitter is the
// sample standard deviation and is zero for a single sample.
func Compute(transport string, samples []float64) Stats {
	s := Stats{Transport: transport, Count: len(samples), Min: math.Inf(1), Max: math.Inf(-1)}
	if len(samples) == 0 {
		return Stats{Transport: transport}
	}
	var sum float64
	for _, v := range samples {
		sum += v
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	s.Mean = sum / float64(len(samples))
	if len(samples) > 1 {
		var sq float64
		for _, v := range samples {
			sq += (v - s.Mean) * (v - s.Mean)
		}
		s.Jitter = math.Sqrt(sq / float64(len(samples)-1))
	}
	return s
}

// Fastest returns the transport with the lowest mean.
func Fastest(stats []Stats) (Stats, bool) {
	return pick(stats, func(s Stats) float64 { return s.Mean })
}

// MostStable returns the transport with the lowest jitter.
func MostStable(stats []Stats) (Stats, bool) {
	return pick(stats, func(s Stats) float64 { return s.Jitter })
}

func pick(stats []Stats, key func(Stats) float64) (Stats, bool) {
	var best Stats
	found := false
	for _, s := range stats {
		if s.Count == 0 {
			continue
		}
		if !found || key(s) < key(best) {
			best, found = s, true
		}
	}
	return best, found
}

func Build(stats []Stats) Report {
	r := Report{Transports: stats}
	if s, ok := Fastest(stats); ok {
		r.Fastest = s.Transport
	}
	if s, ok := MostStable(stats); ok {
		r.MostStable = s.Transport
	}
	return r
}

// WriteTable prints the report with values in milliseconds.
func WriteTable(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TRANSPORT\tCOUNT\tMEAN_MS\tMIN_MS\tMAX_MS\tJITTER_MS\t")
	for _, s := range r.Transports {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			s.Transport, s.Count, s.Mean*1000, s.Min*1000, s.Max*1000, s.Jitter*1000)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("report: write table: %w", err)
	}
	_, err := fmt.Fprintf(w, "\nfastest: %s\nmost stable: %s\n", r.Fastest, r.MostStable)
	return err
}

func WriteYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode yaml: %w", err)
	}
	return enc.Close()
}
