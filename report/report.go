// Package report aggregates measurement records into a summary table and
// renders it for people and for other tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/weiihann/iobench/harness"
	"github.com/weiihann/iobench/table"
)

// Summary column names.
const (
	ColScenario  = "scenario"
	ColScale     = "scale"
	ColAdapter   = "adapter"
	ColOperation = "operation"
	ColTrials    = "trials"
	ColFailures  = "failures"
	ColMean      = "mean_elapsed_ms"
	ColMin       = "min_elapsed_ms"
	ColRelative  = "relative_to_fastest"
	ColMeanSize  = "mean_size_bytes"
)

// EmptyRecordSetError is returned when there is nothing to summarize.
type EmptyRecordSetError struct{}

func (e *EmptyRecordSetError) Error() string { return "no records to summarize" }

type groupKey struct {
	scenario  string
	scale     int
	adapter   string
	operation harness.Operation
}

// cohort identifies the groups an adapter is compared against.
type cohort struct {
	scenario  string
	scale     int
	operation harness.Operation
}

type group struct {
	key      groupKey
	trials   int
	failures int
	sum      float64
	min      float64
	sizeSum  int64
	sizes    int
}

func (g *group) mean() float64 {
	ok := g.trials - g.failures
	if ok == 0 {
		return math.NaN()
	}

	return g.sum / float64(ok)
}

// Summarize groups records by scenario, scale, adapter and operation in
// the order the groups first appear. Failed trials count towards
// failures but not towards the timings; a group without a successful
// trial has NaN timings.
func Summarize(records []harness.Record) (*table.Table, error) {
	if len(records) == 0 {
		return nil, &EmptyRecordSetError{}
	}

	var groups []*group
	index := make(map[groupKey]*group)

	for _, r := range records {
		k := groupKey{r.Scenario, r.Scale, r.Adapter, r.Operation}

		g, ok := index[k]
		if !ok {
			g = &group{key: k, min: math.Inf(1)}
			index[k] = g
			groups = append(groups, g)
		}

		g.trials++
		if r.Failed() {
			g.failures++

			continue
		}

		g.sum += r.ElapsedMs
		g.min = math.Min(g.min, r.ElapsedMs)

		if r.OutputSizeBytes != nil {
			g.sizeSum += *r.OutputSizeBytes
			g.sizes++
		}
	}

	fastest := make(map[cohort]float64)
	for _, g := range groups {
		m := g.mean()
		if math.IsNaN(m) {
			continue
		}

		c := cohort{g.key.scenario, g.key.scale, g.key.operation}
		if f, ok := fastest[c]; !ok || m < f {
			fastest[c] = m
		}
	}

	var (
		scenario  = table.NewColumn(ColScenario, table.String)
		scale     = table.NewColumn(ColScale, table.Int)
		adapter   = table.NewColumn(ColAdapter, table.String)
		operation = table.NewColumn(ColOperation, table.String)
		trials    = table.NewColumn(ColTrials, table.Int)
		failures  = table.NewColumn(ColFailures, table.Int)
		mean      = table.NewColumn(ColMean, table.Float)
		minimum   = table.NewColumn(ColMin, table.Float)
		relative  = table.NewColumn(ColRelative, table.Float)
		size      = table.NewColumn(ColMeanSize, table.Float)
	)

	for _, g := range groups {
		m := g.mean()

		scenario.AppendString(g.key.scenario)
		scale.AppendInt(int64(g.key.scale))
		adapter.AppendString(g.key.adapter)
		operation.AppendString(string(g.key.operation))
		trials.AppendInt(int64(g.trials))
		failures.AppendInt(int64(g.failures))
		mean.AppendFloat(m)

		if math.IsNaN(m) {
			minimum.AppendFloat(math.NaN())
		} else {
			minimum.AppendFloat(g.min)
		}

		f, ok := fastest[cohort{g.key.scenario, g.key.scale, g.key.operation}]
		relative.AppendFloat(relativeTo(m, f, ok))

		if g.sizes == 0 {
			size.AppendNull()
		} else {
			size.AppendFloat(float64(g.sizeSum) / float64(g.sizes))
		}
	}

	return table.New(scenario, scale, adapter, operation, trials, failures,
		mean, minimum, relative, size)
}

func relativeTo(mean, fastest float64, ok bool) float64 {
	switch {
	case math.IsNaN(mean) || !ok:
		return math.NaN()
	case mean == fastest:
		return 1
	case fastest == 0:
		return math.Inf(1)
	default:
		return mean / fastest
	}
}

// summaryRow is one row of a summary table.
type summaryRow struct {
	scenario  string
	scale     int64
	adapter   string
	operation string
	trials    int64
	failures  int64
	mean      float64
	min       float64
	relative  float64
	size      *float64
}

func summaryRows(summary *table.Table) ([]summaryRow, error) {
	cols := make(map[string]*table.Column)
	for _, name := range []string{
		ColScenario, ColScale, ColAdapter, ColOperation, ColTrials,
		ColFailures, ColMean, ColMin, ColRelative, ColMeanSize,
	} {
		c, ok := summary.Column(name)
		if !ok {
			return nil, fmt.Errorf("summary has no %q column", name)
		}
		cols[name] = c
	}

	rows := make([]summaryRow, summary.NumRows())
	for i := range rows {
		rows[i] = summaryRow{
			scenario:  cols[ColScenario].Strings[i],
			scale:     cols[ColScale].Ints[i],
			adapter:   cols[ColAdapter].Strings[i],
			operation: cols[ColOperation].Strings[i],
			trials:    cols[ColTrials].Ints[i],
			failures:  cols[ColFailures].Ints[i],
			mean:      cols[ColMean].Floats[i],
			min:       cols[ColMin].Floats[i],
			relative:  cols[ColRelative].Floats[i],
		}

		if !cols[ColMeanSize].IsNull(i) {
			v := cols[ColMeanSize].Floats[i]
			rows[i].size = &v
		}
	}

	return rows, nil
}

// Markdown writes a summary table produced by Summarize as markdown.
func Markdown(w io.Writer, summary *table.Table) error {
	rows, err := summaryRows(summary)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Scenario | Scale | Adapter | Operation | Trials "+
		"| Failures | Mean | Min | Size | Relative |")
	fmt.Fprintln(w, "|----------|-------|---------|-----------|--------"+
		"|----------|------|-----|------|----------|")

	for _, r := range rows {
		size := "-"
		if r.size != nil {
			size = formatBytes(uint64(math.Round(*r.size)))
		}

		fmt.Fprintf(w, "| %s | %dx | %s | %s | %d | %d | %s | %s | %s | %s |\n",
			r.scenario,
			r.scale,
			r.adapter,
			r.operation,
			r.trials,
			r.failures,
			formatMs(r.mean),
			formatMs(r.min),
			size,
			formatRelative(r.relative),
		)
	}

	return nil
}

// JSON writes the raw records as indented JSON. Failed trials have a
// null elapsed_ms.
func JSON(w io.Writer, records []harness.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(records)
}

func formatRelative(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}

	return fmt.Sprintf("%.2fx", v)
}

func formatMs(ms float64) string {
	if math.IsNaN(ms) {
		return "failed"
	}

	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}

	return fmt.Sprintf("%.2fs", ms/1000)
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
