// Package harness runs timed write and read trials of format adapters
// over a registered dataset and records one measurement per trial.
package harness

import (
	"encoding/json"
	"fmt"
	"math"
)

// Operation is the adapter call a record measures.
type Operation string

const (
	Write Operation = "write"
	Read  Operation = "read"
)

// Scenario labels.
const (
	Sequential = "sequential"
	Concurrent = "concurrent"
)

// Record is the measurement of one trial. A failed trial has a NaN
// ElapsedMs and the failure in Err.
type Record struct {
	RunID           string    `json:"run_id"`
	Dataset         string    `json:"dataset"`
	Scenario        string    `json:"scenario"`
	Scale           int       `json:"scale"`
	Adapter         string    `json:"adapter"`
	Operation       Operation `json:"operation"`
	Trial           int       `json:"trial"`
	ElapsedMs       float64   `json:"elapsed_ms"`
	OutputSizeBytes *int64    `json:"output_size_bytes,omitempty"`
	Rows            int       `json:"rows"`
	Err             string    `json:"error,omitempty"`
}

// Failed reports whether the trial failed.
func (r Record) Failed() bool { return math.IsNaN(r.ElapsedMs) }

// MarshalJSON encodes a failed trial's elapsed time as null.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record

	out := struct {
		plain
		ElapsedMs *float64 `json:"elapsed_ms"`
	}{plain: plain(r)}

	if !r.Failed() {
		v := r.ElapsedMs
		out.ElapsedMs = &v
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes a null elapsed time as NaN.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record

	in := struct {
		*plain
		ElapsedMs *float64 `json:"elapsed_ms"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	r.ElapsedMs = math.NaN()
	if in.ElapsedMs != nil {
		r.ElapsedMs = *in.ElapsedMs
	}

	return nil
}

// InvalidTrialCountError is returned when fewer than one trial is
// requested.
type InvalidTrialCountError struct {
	Trials int
}

func (e *InvalidTrialCountError) Error() string {
	return fmt.Sprintf("trial count must be at least 1, got %d", e.Trials)
}
