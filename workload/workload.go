// Package workload generates deterministic delimited datasets for the
// benchmark: a monthly CO2 series, a housing table whose "built" column
// turns textual late in the file, and a table of historic voyages with
// booleans and missing values.
package workload

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"strconv"
)

// Dataset kinds.
const (
	CO2     = "co2"
	Housing = "housing"
	Voyages = "voyages"
)

// Kinds returns the dataset kinds the generator knows.
func Kinds() []string {
	return []string{CO2, Housing, Voyages}
}

// Summary contains statistics about the generated dataset.
type Summary struct {
	Rows      int
	Columns   int
	Bytes     int64
	Anomalies int
}

// Config controls dataset generation parameters.
type Config struct {
	Kind string
	// Rows is the number of distinct rows; Duplicate repeats them that
	// many times in order. Duplicate <= 1 writes each row once.
	Rows      int
	Duplicate int
	// AnomalyRow is the 1-based data row of the housing set whose
	// "built" value is textual. Zero puts it on the last row; negative
	// disables it.
	AnomalyRow int
	// Distribution shapes housing prices: "uniform", "exponential" or
	// "power-law".
	Distribution string
	Seed         int64
	NullToken    string
}

// Generator produces deterministic datasets from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	if cfg.NullToken == "" {
		cfg.NullToken = "NA"
	}

	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// DefaultRows returns the natural size of a dataset kind.
func DefaultRows(kind string) int {
	switch kind {
	case CO2:
		return 468
	case Housing:
		return 20000
	case Voyages:
		return 8000
	default:
		return 1000
	}
}

// Generate writes the dataset as comma-separated text with a header row
// and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	var summary Summary

	if g.cfg.Rows < 0 {
		return summary, fmt.Errorf("row count must not be negative, got %d", g.cfg.Rows)
	}

	var (
		header []string
		rows   [][]string
	)

	switch g.cfg.Kind {
	case CO2:
		header, rows = g.co2()
	case Housing:
		header, rows, summary.Anomalies = g.housing()
	case Voyages:
		header, rows = g.voyages()
	default:
		return summary, fmt.Errorf("unknown dataset kind %q", g.cfg.Kind)
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 64*1024)
	enc := csv.NewWriter(bw)

	if err := enc.Write(header); err != nil {
		return summary, fmt.Errorf("write header: %w", err)
	}

	copies := max(1, g.cfg.Duplicate)
	for range copies {
		for _, row := range rows {
			if err := enc.Write(row); err != nil {
				return summary, fmt.Errorf("write row %d: %w", summary.Rows+1, err)
			}

			summary.Rows++
		}
	}

	enc.Flush()
	if err := enc.Error(); err != nil {
		return summary, fmt.Errorf("flush: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return summary, fmt.Errorf("flush: %w", err)
	}

	summary.Columns = len(header)
	summary.Bytes = cw.n
	summary.Anomalies *= copies

	return summary, nil
}

// co2 is a monthly series from 1959 with a linear trend, a seasonal
// cycle and noise.
func (g *Generator) co2() ([]string, [][]string) {
	stations := []string{"mlo", "mlo", "mlo", "spo", "brw"}

	rows := make([][]string, g.cfg.Rows)
	for i := range rows {
		t := 1959 + float64(i)/12
		v := 315 + 0.11*float64(i) + 3*math.Sin(2*math.Pi*float64(i%12)/12) + g.rng.NormFloat64()*0.3

		rows[i] = []string{
			strconv.FormatFloat(t, 'f', 3, 64),
			strconv.FormatFloat(v, 'f', 2, 64),
			stations[g.rng.Intn(len(stations))],
		}
	}

	return []string{"time", "value", "station"}, rows
}

// housing has a numeric "built" column except at the anomaly row.
func (g *Generator) housing() ([]string, [][]string, int) {
	cities := []string{"Boston", "Cambridge", "Somerville", "Brookline", "Newton, MA"}

	anomaly := g.cfg.AnomalyRow
	if anomaly == 0 {
		anomaly = g.cfg.Rows
	}

	prices := g.priceDistribution()
	anomalies := 0

	rows := make([][]string, g.cfg.Rows)
	for i := range rows {
		built := strconv.Itoa(1900 + g.rng.Intn(120))
		if i+1 == anomaly {
			built = "pre-1900"
			anomalies++
		}

		rows[i] = []string{
			strconv.Itoa(i + 1),
			built,
			strconv.Itoa(1 + g.rng.Intn(8)),
			strconv.FormatFloat(prices[i], 'f', 2, 64),
			cities[g.rng.Intn(len(cities))],
		}
	}

	return []string{"id", "built", "rooms", "price", "city"}, rows, anomalies
}

// voyages mixes booleans, missing tonnage and ship names that repeat.
func (g *Generator) voyages() ([]string, [][]string) {
	ships := []string{"Amsterdam", "Batavia", "Duyfken", "Zeelandia", "Hollandia", "Mauritius"}
	ports := []string{"Texel", "Batavia", "Cape of Good Hope", "Ceylon"}

	rows := make([][]string, g.cfg.Rows)
	for i := range rows {
		tonnage := g.cfg.NullToken
		if g.rng.Intn(10) != 0 {
			tonnage = strconv.FormatFloat(200+g.rng.Float64()*1000, 'f', 1, 64)
		}

		chartered := "FALSE"
		if g.rng.Intn(4) == 0 {
			chartered = "TRUE"
		}

		rows[i] = []string{
			strconv.Itoa(i + 1),
			ships[g.rng.Intn(len(ships))],
			strconv.Itoa(1595 + g.rng.Intn(200)),
			tonnage,
			ports[g.rng.Intn(len(ports))],
			chartered,
		}
	}

	return []string{"number", "ship", "departure", "tonnage", "port", "chartered"}, rows
}

func (g *Generator) priceDistribution() []float64 {
	const minPrice, maxPrice = 50_000.0, 5_000_000.0

	dist := make([]float64, g.cfg.Rows)

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 1.5
		for i := range dist {
			u := g.rng.Float64()
			dist[i] = math.Min(minPrice/math.Pow(1-u, 1/alpha), maxPrice)
		}

	case "exponential":
		lambda := math.Log(2) / (maxPrice / 8)
		for i := range dist {
			u := g.rng.Float64()
			dist[i] = math.Max(minPrice, math.Min(-math.Log(1-u)/lambda, maxPrice))
		}

	default:
		for i := range dist {
			dist[i] = minPrice + g.rng.Float64()*(maxPrice-minPrice)
		}
	}

	return dist
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
