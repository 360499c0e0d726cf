// Package streaming implements the stream classifier (C8) and the HLS
// collapsing session (C9): deciding how an upstream URL should be relayed,
// and, for eligible single-variant HLS, turning its segments into one
// continuous byte stream.
package streaming

import (
	"fmt"
	"sync/atomic"
)

// Decision is the outcome of classifying an upstream stream URL.
type Decision int

const (
	// DecisionUnknown covers fetch failures, progressive containers, and
	// anything else the classifier can't confidently place.
	DecisionUnknown Decision = iota
	// DecisionPassthroughRawTS is a direct, already-continuous MPEG-TS
	// stream: relay its bytes unmodified.
	DecisionPassthroughRawTS
	// DecisionCollapsedSingleVariantTS is a single-variant TS media
	// playlist eligible for the collapsing session.
	DecisionCollapsedSingleVariantTS
	// DecisionTransparentHLS must be passed through as HLS: multi-variant,
	// encrypted, fMP4, or otherwise ineligible for collapsing.
	DecisionTransparentHLS
)

func (d Decision) String() string {
	switch d {
	case DecisionPassthroughRawTS:
		return "passthrough_raw_ts"
	case DecisionCollapsedSingleVariantTS:
		return "collapsed_single_variant_ts"
	case DecisionTransparentHLS:
		return "transparent_hls"
	default:
		return "transparent_unknown"
	}
}

// Result is the full classification outcome, including the reasons trail
// required for observability.
type Result struct {
	Decision              Decision
	VariantCount          int
	TargetDuration        float64
	IsEncrypted           bool
	UsesFMP4              bool
	SelectedMediaPlaylist string
	SelectedBandwidth     int64
	SelectedResolution    string
	Reasons               []string
}

func (r *Result) note(format string, args ...any) {
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Metrics holds the process-wide classification counters the spec calls
// for: one counter per decision plus a reason-tagged fallback counter.
type Metrics struct {
	unknown             atomic.Int64
	passthroughRawTS    atomic.Int64
	collapsedSingleTS   atomic.Int64
	transparentHLS      atomic.Int64
	fallbackByReason    syncMap[string, *atomic.Int64]
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{fallbackByReason: newSyncMap[string, *atomic.Int64]()}
}

func (m *Metrics) record(d Decision) {
	if m == nil {
		return
	}
	switch d {
	case DecisionPassthroughRawTS:
		m.passthroughRawTS.Add(1)
	case DecisionCollapsedSingleVariantTS:
		m.collapsedSingleTS.Add(1)
	case DecisionTransparentHLS:
		m.transparentHLS.Add(1)
	default:
		m.unknown.Add(1)
	}
}

// RecordFallback increments classification_fallback_total for the given
// reason tag, e.g. "ts_probe_failed" or "missing_extm3u".
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	counter, _ := m.fallbackByReason.LoadOrStore(reason, &atomic.Int64{})
	counter.Add(1)
}

// Snapshot reports the current counter values.
type Snapshot struct {
	Unknown           int64
	PassthroughRawTS  int64
	CollapsedSingleTS int64
	TransparentHLS    int64
	FallbackByReason  map[string]int64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Unknown:           m.unknown.Load(),
		PassthroughRawTS:  m.passthroughRawTS.Load(),
		CollapsedSingleTS: m.collapsedSingleTS.Load(),
		TransparentHLS:    m.transparentHLS.Load(),
		FallbackByReason:  make(map[string]int64),
	}
	m.fallbackByReason.Range(func(reason string, counter *atomic.Int64) bool {
		snap.FallbackByReason[reason] = counter.Load()
		return true
	})
	return snap
}
