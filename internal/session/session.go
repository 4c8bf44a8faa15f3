// Package session runs one recording: frames flow from a capture source
// through composition and conversion into an encoder, and the encoder's
// output is appended to a container.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var (
	// ErrInvalidState is returned by Start on a session that is not idle.
	ErrInvalidState = errors.New("invalid session state")
	// ErrEncoderNotStarted is returned by Start when the encoder refused to
	// start.
	ErrEncoderNotStarted = errors.New("encoder did not start")
)

// State is the lifecycle of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	// StateFailed means Start did not complete. Stop is still required to
	// release the session.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Params configures a session.
type Params struct {
	Device       gpu.Device
	Source       FrameSource
	NewConverter ConverterFactory
	NewEncoder   EncoderFactory
	Sink         ContainerSink

	// Annotator is optional.
	Annotator Annotator

	// Resolution is the encoded size. Odd dimensions are rounded up.
	Resolution media.Size
	// Bitrate in bits per second.
	Bitrate   int
	FrameRate int
}

func (p Params) validate() error {
	switch {
	case p.Device == nil:
		return &media.ConfigError{Field: "device", Reason: "missing"}
	case p.Source == nil:
		return &media.ConfigError{Field: "capture source", Reason: "missing"}
	case p.NewConverter == nil:
		return &media.ConfigError{Field: "converter", Reason: "missing"}
	case p.NewEncoder == nil:
		return &media.ConfigError{Field: "encoder", Reason: "missing"}
	case p.Sink == nil:
		return &media.ConfigError{Field: "container", Reason: "missing"}
	case p.Resolution.Empty():
		return &media.ConfigError{Field: "resolution", Reason: fmt.Sprintf("%s has no area", p.Resolution)}
	case p.Bitrate <= 0:
		return &media.ConfigError{Field: "bitrate", Reason: "must be positive"}
	case p.FrameRate <= 0:
		return &media.ConfigError{Field: "frame rate", Reason: "must be positive"}
	}
	return nil
}

// Info describes a session.
type Info struct {
	ID         string             `json:"id"`
	State      string             `json:"state"`
	InputSize  media.Size         `json:"input_size"`
	OutputSize media.Size         `json:"output_size"`
	Format     media.StreamFormat `json:"format"`
	StartedAt  time.Time          `json:"started_at,omitempty"`
	Duration   time.Duration      `json:"duration"`
	Stats      StatsSnapshot      `json:"stats"`
}

// Session owns the encoder, the generator and the writer of one recording.
type Session struct {
	id         string
	inputSize  media.Size
	outputSize media.Size

	source    FrameSource
	encoder   HardwareEncoder
	generator *SampleGenerator
	writer    *SampleWriter
	stats     *Stats
	log       *zerolog.Logger

	mu        sync.RWMutex
	state     State
	stopping  bool
	startedAt time.Time
	stoppedAt time.Time

	stopOnce sync.Once
	stopErr  error
}

// New builds a session. Nothing is started; on error nothing is left
// allocated.
func New(p Params) (*Session, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	inputSize := media.EvenAlign(p.Source.ItemSize())
	if inputSize.Empty() {
		return nil, &media.ConfigError{Field: "capture target", Reason: fmt.Sprintf("size %s has no area", inputSize)}
	}
	outputSize := media.EvenAlign(p.Resolution)

	id := uuid.NewString()
	s := &Session{
		id:         id,
		inputSize:  inputSize,
		outputSize: outputSize,
		source:     p.Source,
		stats:      &Stats{},
		log:        logger.WithSession("session", id),
	}

	encoder, err := p.NewEncoder(EncoderConfig{
		Size:      outputSize,
		Bitrate:   p.Bitrate,
		FrameRate: p.FrameRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	generator, err := NewSampleGenerator(
		p.Device, p.Source, p.NewConverter,
		inputSize, outputSize,
		s.stats, logger.WithSession("generator", id),
	)
	if err != nil {
		s.release(encoder)
		return nil, err
	}

	if p.Annotator != nil {
		generator.WithAnnotator(p.Annotator)
	}

	writer, err := NewSampleWriter(p.Sink, encoder.OutputFormat(), s.stats, logger.WithSession("writer", id))
	if err != nil {
		s.release(encoder)
		return nil, fmt.Errorf("failed to create sample writer: %w", err)
	}

	encoder.SetProducer(generator)
	encoder.SetConsumer(writer)

	s.encoder = encoder
	s.generator = generator
	s.writer = writer

	s.log.Info().
		Stringer("input", inputSize).
		Stringer("output", outputSize).
		Str("codec", string(writer.Format().Codec)).
		Int("bitrate", p.Bitrate).
		Int("fps", p.FrameRate).
		Msg("Session created")
	return s, nil
}

func (s *Session) release(encoder HardwareEncoder) {
	if err := encoder.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release encoder")
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed when the encoder has drained after the capture ended on
// its own. Stop must still be called.
func (s *Session) Done() <-chan struct{} { return s.encoder.Done() }

// Start arms the writer, starts capture and then the encoder.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, s.state)
	}
	if s.stopping {
		return fmt.Errorf("%w: session is stopping", ErrInvalidState)
	}

	if err := s.writer.Start(); err != nil {
		s.state = StateFailed
		return fmt.Errorf("failed to start writer: %w", err)
	}
	if err := s.source.Start(); err != nil {
		s.state = StateFailed
		return fmt.Errorf("failed to start capture: %w", err)
	}

	ok, err := s.encoder.TryStart()
	if !ok || err != nil {
		s.state = StateFailed
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncoderNotStarted, err)
		}
		return ErrEncoderNotStarted
	}

	s.state = StateRunning
	s.startedAt = time.Now()
	activeSessions.Inc()
	s.log.Info().Msg("Session started")
	return nil
}

// Stop drains the encoder, stops capture and finalizes the container. Only
// the first call does any work; later calls return the first call's result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		// The lock is not held while the encoder drains so Info and State
		// stay responsive.
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		var result *multierror.Error
		if err := s.encoder.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop encoder: %w", err))
		}
		s.generator.Close()
		if err := s.writer.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to finalize container: %w", err))
		}

		s.mu.Lock()
		if s.state == StateRunning {
			activeSessions.Dec()
		}
		s.state = StateStopped
		s.stoppedAt = time.Now()
		s.stopErr = result.ErrorOrNil()
		s.mu.Unlock()

		snap := s.stats.Snapshot()
		s.log.Info().
			Uint64("frames", snap.FramesGenerated).
			Uint64("samples", snap.SamplesWritten).
			Uint64("bytes", snap.BytesWritten).
			Err(s.stopErr).
			Msg("Session stopped")
	})
	return s.stopErr
}

// Stats returns the session's counters.
func (s *Session) Stats() StatsSnapshot { return s.stats.Snapshot() }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:         s.id,
		State:      s.state.String(),
		InputSize:  s.inputSize,
		OutputSize: s.outputSize,
		Format:     s.writer.Format(),
		StartedAt:  s.startedAt,
		Stats:      s.stats.Snapshot(),
	}
	switch {
	case !s.stoppedAt.IsZero() && !s.startedAt.IsZero():
		info.Duration = s.stoppedAt.Sub(s.startedAt)
	case !s.startedAt.IsZero():
		info.Duration = time.Since(s.startedAt)
	}
	return info
}
