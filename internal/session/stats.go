package session

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focusrecorder",
		Name:      "frames_generated_total",
		Help:      "Encoder input samples produced from captured frames.",
	})
	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focusrecorder",
		Name:      "generation_failures_total",
		Help:      "Frames that ended a stream because they could not be processed.",
	})
	samplesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focusrecorder",
		Name:      "samples_written_total",
		Help:      "Encoded samples appended to containers.",
	})
	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focusrecorder",
		Name:      "bytes_written_total",
		Help:      "Encoded bytes appended to containers.",
	})
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focusrecorder",
		Name:      "active_sessions",
		Help:      "Recording sessions currently running.",
	})
)

// Stats counts one session's progress. The same counts feed the process-wide
// prometheus metrics.
type Stats struct {
	frames   atomic.Uint64
	failures atomic.Uint64
	samples  atomic.Uint64
	bytes    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	FramesGenerated    uint64 `json:"frames_generated"`
	GenerationFailures uint64 `json:"generation_failures"`
	SamplesWritten     uint64 `json:"samples_written"`
	BytesWritten       uint64 `json:"bytes_written"`
}

func (s *Stats) frameGenerated() {
	s.frames.Add(1)
	framesGenerated.Inc()
}

func (s *Stats) generationFailed() {
	s.failures.Add(1)
	generationFailures.Inc()
}

func (s *Stats) sampleWritten(n int) {
	s.samples.Add(1)
	s.bytes.Add(uint64(n))
	samplesWritten.Inc()
	bytesWritten.Add(float64(n))
}

// Snapshot returns the current counts.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesGenerated:    s.frames.Load(),
		GenerationFailures: s.failures.Load(),
		SamplesWritten:     s.samples.Load(),
		BytesWritten:       s.bytes.Load(),
	}
}
