package telemetry

import (
	"sync/atomic"
	"time"

	"fieldsync/pkg/state/logger"
)

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	lastMark time.Time
	done     bool
}

var slowThreshold atomic.Int64

// SetSlowThreshold makes Finish log traces slower than d; zero disables it.
func SetSlowThreshold(d time.Duration) {
	slowThreshold.Store(int64(d))
}

// Track starts a new trace for the named operation.
func Track(name string) *Trace {
	now := time.Now()
	return &Trace{
		Name:     name,
		Start:    now,
		lastMark: now,
	}
}

// Mark records the elapsed duration since last mark.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	delta := now.Sub(tr.lastMark).Seconds() * 1000
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: delta})
	tr.lastMark = now
}

// Finish records the trace in the operation histograms.
// Safe to call multiple times or via defer.
func (tr *Trace) Finish() {
	if tr == nil || tr.done {
		return
	}
	tr.done = true
	total := time.Since(tr.Start)
	tr.TotalMS = total.Seconds() * 1000

	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
		stepDuration.WithLabelValues(tr.Name, s.Name).Observe(s.Duration / 1000)
	}
	remaining := tr.TotalMS - sum
	if remaining > 0.001 && len(tr.Steps) > 0 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}
	opDuration.WithLabelValues(tr.Name).Observe(total.Seconds())

	if th := time.Duration(slowThreshold.Load()); th > 0 && total > th {
		logger.Warn("slow_operation", "op", tr.Name, "total_ms", tr.TotalMS, "steps", tr.Steps)
	}
}
