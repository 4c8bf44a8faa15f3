package session

import (
	"context"
	"time"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// FrameSource delivers captured frames of one capture target.
type FrameSource interface {
	// ItemSize is the size of the capture target when the source was opened.
	ItemSize() media.Size
	Start() error
	// NextFrame blocks until a frame is ready. It returns media.ErrStreamEnded
	// once the source is stopped or the target is gone.
	NextFrame(ctx context.Context) (*media.CaptureFrame, error)
	Stop() error
}

// FormatConverter converts a composed BGRA surface into the encoder's input
// format and size. The returned surface may be reused by the next call.
type FormatConverter interface {
	Convert(in media.Surface) (media.Surface, error)
}

// Annotator draws onto the composed surface before conversion.
type Annotator interface {
	Annotate(s media.Surface, elapsed time.Duration) error
}

// FrameProducer supplies the encoder with input. ok is false once the
// stream has ended, after which the encoder drains and stops.
type FrameProducer interface {
	Generate(ctx context.Context) (sample *media.EncoderInputSample, ok bool)
}

// SampleConsumer receives encoded output in presentation order.
type SampleConsumer interface {
	Write(sample *media.EncodedSample) error
}

// HardwareEncoder pulls input from its producer and pushes output to its
// consumer on its own goroutines.
type HardwareEncoder interface {
	SetProducer(p FrameProducer)
	SetConsumer(c SampleConsumer)
	// OutputFormat is the negotiated output type, valid after construction.
	OutputFormat() media.StreamFormat
	// TryStart starts the pull loop. It reports false when the encoder could
	// not be started.
	TryStart() (bool, error)
	// Stop stops pulling, drains pending output to the consumer and returns
	// once no callback is in flight.
	Stop() error
	// Done is closed when the encoder has drained after end of stream.
	Done() <-chan struct{}
}

// ContainerSink serializes encoded samples into an output stream.
type ContainerSink interface {
	AddStream(format media.StreamFormat) (int, error)
	BeginWriting() error
	WriteSample(stream int, sample *media.EncodedSample) error
	Finalize() error
}

// EncoderConfig is what an encoder is negotiated with.
type EncoderConfig struct {
	Size      media.Size
	Bitrate   int
	FrameRate int
}

// EncoderFactory negotiates an encoder for the given configuration.
// Negotiation failures are reported as *media.ConfigError.
type EncoderFactory func(cfg EncoderConfig) (HardwareEncoder, error)

// ConverterFactory builds a converter from the composition size to the
// encoder size.
type ConverterFactory func(in, out media.Size) (FormatConverter, error)
