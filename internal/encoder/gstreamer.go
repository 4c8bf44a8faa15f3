package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/session"
)

// Hardware selects which H.264 encoder element to negotiate.
type Hardware string

const (
	HardwareAuto     Hardware = "auto"
	HardwareVAAPI    Hardware = "vaapi"
	HardwareNVENC    Hardware = "nvenc"
	HardwareSoftware Hardware = "software"
)

var gstInit sync.Once

// h264Element returns the encoder element description for a backend.
// Bitrates are given to GStreamer in kbit/s.
func h264Element(hw Hardware, cfg session.EncoderConfig) string {
	kbps := cfg.Bitrate / 1000
	if kbps < 1 {
		kbps = 1
	}
	gop := cfg.FrameRate * 2
	switch hw {
	case HardwareVAAPI:
		return fmt.Sprintf("vaapih264enc rate-control=cbr bitrate=%d keyframe-period=%d max-bframes=0", kbps, gop)
	case HardwareNVENC:
		return fmt.Sprintf("nvh264enc rc-mode=cbr bitrate=%d gop-size=%d bframes=0 zerolatency=true", kbps, gop)
	default:
		return fmt.Sprintf("x264enc bitrate=%d key-int-max=%d bframes=0 tune=zerolatency speed-preset=ultrafast", kbps, gop)
	}
}

// candidates lists the backends to try, in order, for a configured choice.
func candidates(hw Hardware) []Hardware {
	switch hw {
	case HardwareAuto, "":
		return []Hardware{HardwareVAAPI, HardwareNVENC, HardwareSoftware}
	default:
		return []Hardware{hw}
	}
}

func pipelineDescription(hw Hardware, cfg session.EncoderConfig) string {
	frameBytes := cfg.Size.Width * cfg.Size.Height * 3 / 2
	return strings.Join([]string{
		fmt.Sprintf("appsrc name=src is-live=true format=time do-timestamp=false block=true max-bytes=%d "+
			"caps=video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/1",
			frameBytes*3, cfg.Size.Width, cfg.Size.Height, cfg.FrameRate),
		"queue",
		h264Element(hw, cfg),
		"h264parse config-interval=-1",
		"video/x-h264,stream-format=byte-stream,alignment=au",
		"appsink name=sink sync=false emit-signals=false",
	}, " ! ")
}

// GStreamer encodes H.264 through a GStreamer pipeline: input samples are
// pushed into an appsrc and access units are pulled from an appsink.
type GStreamer struct {
	*runner
	format   media.StreamFormat
	hardware Hardware

	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	// pending holds the timestamps of pushed frames not yet encoded. The
	// encoders are configured without B-frames so output order is input
	// order.
	pendingMu sync.Mutex
	pending   []time.Duration

	released sync.Once
}

// NewGStreamer negotiates an H.264 pipeline. When hw is auto, hardware
// encoders are tried before x264. A configuration no element accepts is a
// *media.ConfigError.
func NewGStreamer(cfg session.EncoderConfig, hw Hardware) (*GStreamer, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	gstInit.Do(func() { gst.Init(nil) })

	log := logger.WithComponent("gst-encoder")
	e, err := negotiate(candidates(hw), func(candidate Hardware) (*GStreamer, error) {
		pipeline, err := gst.NewPipelineFromString(pipelineDescription(candidate, cfg))
		if err != nil {
			return nil, err
		}
		e, err := newGStreamer(pipeline, cfg, candidate, log)
		if err != nil {
			pipeline.SetState(gst.StateNull)
			return nil, err
		}
		return e, nil
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("hardware", string(e.hardware)).
		Stringer("size", cfg.Size).
		Int("bitrate", cfg.Bitrate).
		Int("fps", cfg.FrameRate).
		Msg("H.264 encoder negotiated")
	return e, nil
}

// negotiate opens each backend in order and returns the first that comes
// up. A backend that parses but cannot reach paused counts as unavailable.
func negotiate[T any](backends []Hardware, open func(Hardware) (T, error), log *zerolog.Logger) (T, error) {
	var zero T
	var failures []string
	for _, backend := range backends {
		v, err := open(backend)
		if err != nil {
			log.Debug().Err(err).Str("hardware", string(backend)).Msg("Encoder backend unavailable")
			failures = append(failures, fmt.Sprintf("%s: %v", backend, err))
			continue
		}
		return v, nil
	}
	return zero, &media.ConfigError{
		Field:  "encoder",
		Reason: "no usable H.264 encoder: " + strings.Join(failures, "; "),
	}
}

func newGStreamer(pipeline *gst.Pipeline, cfg session.EncoderConfig, hw Hardware, log *zerolog.Logger) (*GStreamer, error) {
	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to get appsrc: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	// Move to paused so caps negotiation errors surface before the session
	// is started.
	if err := pipeline.SetState(gst.StatePaused); err != nil {
		return nil, &media.ConfigError{Field: "encoder", Reason: fmt.Sprintf("%s rejected the stream: %v", hw, err)}
	}

	return &GStreamer{
		runner: newRunner(log),
		format: media.StreamFormat{
			Codec:     media.CodecH264,
			Size:      cfg.Size,
			FrameRate: cfg.FrameRate,
			Bitrate:   cfg.Bitrate,
		},
		hardware: hw,
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElem),
		sink:     app.SinkFromElement(sinkElem),
	}, nil
}

func (e *GStreamer) OutputFormat() media.StreamFormat { return e.format }

// Hardware returns the backend that was negotiated.
func (e *GStreamer) Hardware() Hardware { return e.hardware }

func (e *GStreamer) TryStart() (bool, error) {
	return e.start(func(g *errgroup.Group, gctx, feedCtx context.Context) error {
		if err := e.pipeline.SetState(gst.StatePlaying); err != nil {
			return fmt.Errorf("failed to start encoder pipeline: %w", err)
		}
		drained := make(chan struct{})
		g.Go(func() error { return e.feed(feedCtx) })
		g.Go(func() error {
			defer close(drained)
			return e.drain(gctx)
		})
		g.Go(func() error { return e.watchBus(gctx, drained) })
		return nil
	})
}

// Stop ends the input, waits for every queued frame to come out of the
// encoder and tears the pipeline down.
func (e *GStreamer) Stop() error {
	_, err := e.stop()
	e.released.Do(func() {
		if stateErr := e.pipeline.SetState(gst.StateNull); stateErr != nil {
			e.log.Warn().Err(stateErr).Msg("Failed to stop encoder pipeline")
		}
	})
	return err
}

func (e *GStreamer) feed(ctx context.Context) error {
	frameDuration := e.format.FrameDuration()
	for {
		sample, ok := e.producer.Generate(ctx)
		if !ok {
			e.log.Debug().Msg("Producer ended, flushing encoder")
			if ret := e.src.EndStream(); ret != gst.FlowOK {
				return fmt.Errorf("failed to end encoder input: %v", ret)
			}
			return nil
		}

		s, ok := sample.Surface.(*gpu.Surface)
		if !ok || s.Format() != media.FormatNV12 {
			return errNotNV12
		}
		buffer := gst.NewBufferFromBytes(s.Bytes())
		buffer.SetPresentationTimestamp(sample.Timestamp)
		buffer.SetDuration(frameDuration)

		e.pendingMu.Lock()
		e.pending = append(e.pending, sample.Timestamp)
		e.pendingMu.Unlock()

		if ret := e.src.PushBuffer(buffer); ret != gst.FlowOK {
			return fmt.Errorf("encoder refused input: %v", ret)
		}
	}
}

func (e *GStreamer) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		sample := e.sink.TryPullSample(20 * time.Millisecond)
		if sample == nil {
			if e.sink.IsEOS() {
				e.log.Debug().Msg("Encoder drained")
				return nil
			}
			continue
		}

		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		data := append([]byte(nil), mapInfo.Bytes()...)
		buffer.Unmap()

		err := e.deliver(&media.EncodedSample{
			Data:      data,
			Timestamp: e.nextTimestamp(),
			Duration:  e.format.FrameDuration(),
			KeyFrame:  IsKeyFrame(data),
		})
		if err != nil {
			return err
		}
	}
}

func (e *GStreamer) nextTimestamp() time.Duration {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if len(e.pending) == 0 {
		return 0
	}
	ts := e.pending[0]
	e.pending = e.pending[1:]
	return ts
}

var errPipeline = errors.New("encoder pipeline error")

func (e *GStreamer) watchBus(ctx context.Context, drained <-chan struct{}) error {
	bus := e.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-drained:
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			e.log.Error().
				Str("error", gerr.Error()).
				Str("debug", gerr.DebugString()).
				Msg("Encoder pipeline error")
			return fmt.Errorf("%w: %s", errPipeline, gerr.Error())
		}
	}
}
