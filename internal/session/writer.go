package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// ErrWriterNotStarted is returned by Write before Start.
var ErrWriterNotStarted = errors.New("writer not started")

type writerState int

const (
	writerCreated writerState = iota
	writerWriting
	writerFinalized
)

// SampleWriter appends encoded samples to a single-stream container. It is
// shared by the session, which starts and stops it, and the encoder, which
// writes to it from its own goroutine.
type SampleWriter struct {
	sink   ContainerSink
	stream int
	format media.StreamFormat
	stats  *Stats
	log    *zerolog.Logger

	mu    sync.Mutex
	state writerState
}

// NewSampleWriter declares one stream of the given format on sink.
func NewSampleWriter(sink ContainerSink, format media.StreamFormat, stats *Stats, log *zerolog.Logger) (*SampleWriter, error) {
	stream, err := sink.AddStream(format)
	if err != nil {
		var sinkErr *media.SinkError
		if errors.As(err, &sinkErr) {
			return nil, err
		}
		return nil, &media.SinkError{Op: "add stream", Err: err}
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &SampleWriter{
		sink:   sink,
		stream: stream,
		format: format,
		stats:  stats,
		log:    log,
	}, nil
}

// Format returns the declared stream format.
func (w *SampleWriter) Format() media.StreamFormat { return w.format }

// Start begins the container. It must precede any Write.
func (w *SampleWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case writerWriting:
		return nil
	case writerFinalized:
		return media.ErrUseAfterFinalize
	}
	if err := w.sink.BeginWriting(); err != nil {
		return &media.SinkError{Op: "begin writing", Err: err}
	}
	w.state = writerWriting
	w.log.Debug().Int("stream", w.stream).Msg("Writer started")
	return nil
}

// Write appends one sample. Samples are written in the order received.
func (w *SampleWriter) Write(sample *media.EncodedSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case writerCreated:
		return ErrWriterNotStarted
	case writerFinalized:
		return media.ErrUseAfterFinalize
	}
	if err := w.sink.WriteSample(w.stream, sample); err != nil {
		return &media.SinkError{Op: "write sample", Err: err}
	}
	w.stats.sampleWritten(len(sample.Data))
	return nil
}

// Stop finalizes the container. A second Stop returns ErrUseAfterFinalize.
func (w *SampleWriter) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == writerFinalized {
		return media.ErrUseAfterFinalize
	}
	w.state = writerFinalized
	if err := w.sink.Finalize(); err != nil {
		return &media.SinkError{Op: "finalize", Err: fmt.Errorf("container may be truncated: %w", err)}
	}
	w.log.Debug().Msg("Writer finalized")
	return nil
}
