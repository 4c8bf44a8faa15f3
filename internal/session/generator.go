package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// GeneratorState is the lifecycle of a SampleGenerator.
type GeneratorState int

const (
	AwaitingFirstFrame GeneratorState = iota
	Streaming
	Stopped
)

func (s GeneratorState) String() string {
	switch s {
	case AwaitingFirstFrame:
		return "awaiting_first_frame"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("GeneratorState(%d)", int(s))
	}
}

// SampleGenerator turns captured frames into encoder input. It is the
// encoder's FrameProducer and is only ever called from the encoder's pull
// goroutine.
type SampleGenerator struct {
	device     gpu.Device
	source     FrameSource
	compositor *Compositor
	converter  FormatConverter
	annotator  Annotator
	stats      *Stats
	log        *zerolog.Logger

	mu    sync.Mutex
	state GeneratorState
	// baseline is the source timestamp of the first frame, nil until then.
	baseline *time.Duration
	// clockWarned is set once a frame older than the baseline was seen.
	clockWarned bool
}

// NewSampleGenerator allocates the composition surface at inputSize and the
// converter from inputSize to outputSize.
func NewSampleGenerator(
	device gpu.Device,
	source FrameSource,
	newConverter ConverterFactory,
	inputSize, outputSize media.Size,
	stats *Stats,
	log *zerolog.Logger,
) (*SampleGenerator, error) {
	compositor, err := NewCompositor(device, inputSize, log)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate composition surface: %w", err)
	}
	converter, err := newConverter(inputSize, outputSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create format converter: %w", err)
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &SampleGenerator{
		device:     device,
		source:     source,
		compositor: compositor,
		converter:  converter,
		stats:      stats,
		log:        log,
	}, nil
}

// WithAnnotator sets an annotator run on every composed frame.
func (g *SampleGenerator) WithAnnotator(a Annotator) *SampleGenerator {
	g.annotator = a
	return g
}

// State returns the generator's lifecycle state.
func (g *SampleGenerator) State() GeneratorState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Generate produces the next encoder input sample. It returns ok=false when
// the source has ended or any step failed; capture is stopped in both cases
// and every later call returns ok=false without touching the source.
func (g *SampleGenerator) Generate(ctx context.Context) (*media.EncoderInputSample, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Stopped {
		return nil, false
	}

	frame, err := g.source.NextFrame(ctx)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrStreamEnded):
			g.log.Info().Msg("Capture ended")
		case ctx.Err() != nil:
			g.log.Debug().Err(err).Msg("Frame wait cancelled")
		default:
			g.stats.generationFailed()
			g.log.Error().Err(err).Msg("Failed to get next frame, ending stream")
		}
		g.stop()
		return nil, false
	}

	sample, err := g.fromFrame(frame)
	if err != nil {
		g.stats.generationFailed()
		g.log.Error().Err(err).Msg("Failed to generate sample, ending stream")
		g.stop()
		return nil, false
	}

	g.stats.frameGenerated()
	return sample, true
}

func (g *SampleGenerator) fromFrame(frame *media.CaptureFrame) (*media.EncoderInputSample, error) {
	if g.baseline == nil {
		base := frame.Timestamp
		g.baseline = &base
		g.state = Streaming
		g.log.Debug().
			Dur("baseline", base).
			Stringer("content", frame.ContentSize).
			Msg("First frame received")
	}
	timestamp := frame.Timestamp - *g.baseline
	if timestamp < 0 {
		if !g.clockWarned {
			g.clockWarned = true
			g.log.Warn().
				Dur("baseline", *g.baseline).
				Dur("timestamp", frame.Timestamp).
				Msg("Capture clock went backwards, clamping to the first frame")
		}
		timestamp = 0
	}

	composed, err := g.compositor.Compose(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to compose frame: %w", err)
	}
	if g.annotator != nil {
		if err := g.annotator.Annotate(composed, timestamp); err != nil {
			return nil, fmt.Errorf("failed to annotate frame: %w", err)
		}
	}
	converted, err := g.converter.Convert(composed)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	// The converter reuses its output, the encoder may still hold the last one.
	owned, err := g.device.Duplicate(converted)
	if err != nil {
		return nil, fmt.Errorf("failed to copy converted frame: %w", err)
	}

	return &media.EncoderInputSample{Timestamp: timestamp, Surface: owned}, nil
}

func (g *SampleGenerator) stop() {
	g.state = Stopped
	if err := g.source.Stop(); err != nil {
		g.log.Warn().Err(err).Msg("Failed to stop capture")
	}
}

// Close stops capture if the stream has not already ended. It must not be
// called while Generate is running.
func (g *SampleGenerator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Stopped {
		g.stop()
	}
}
