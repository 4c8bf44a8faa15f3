package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture"
	"github.com/bryanchriswhite/FocusRecorder/internal/config"
	"github.com/bryanchriswhite/FocusRecorder/internal/container"
	"github.com/bryanchriswhite/FocusRecorder/internal/convert"
	"github.com/bryanchriswhite/FocusRecorder/internal/encoder"
	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/overlay"
	"github.com/bryanchriswhite/FocusRecorder/internal/session"
)

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// Status describes the current or most recent recording.
type Status struct {
	Recording bool          `json:"recording"`
	Output    string        `json:"output,omitempty"`
	Session   *session.Info `json:"session,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Recording is one running session and the file it writes.
type Recording struct {
	sess   *session.Session
	output string

	once     sync.Once
	finished chan struct{}
	err      error
}

// Done is closed once the recording has been finalized, either by Stop or
// because the capture target went away.
func (r *Recording) Done() <-chan struct{} { return r.finished }

// Err is the finalization error. Only valid after Done is closed.
func (r *Recording) Err() error { return r.err }

// Output is the path of the file being written.
func (r *Recording) Output() string { return r.output }

// Status returns a snapshot of the recording.
func (r *Recording) Status() Status {
	info := r.sess.Info()
	st := Status{
		Recording: info.State == session.StateRunning.String(),
		Output:    r.output,
		Session:   &info,
	}
	select {
	case <-r.finished:
		st.Recording = false
		if r.err != nil {
			st.Error = r.err.Error()
		}
	default:
	}
	return st
}

// Recorder builds sessions from configuration and owns at most one
// running recording.
type Recorder struct {
	log *zerolog.Logger

	device     gpu.Device
	openSource func(ctx context.Context, opts capture.Options) (session.FrameSource, error)
	createFile func(path string) (io.WriteCloser, error)
	newEncoder func(cfg config.EncoderConfig, kind container.Kind) (session.EncoderFactory, error)
	now        func() time.Time

	mu       sync.Mutex
	starting bool
	active   *Recording
	last     *Status
	subs     map[chan Status]struct{}
}

// New creates a recorder that captures with the platform's backends.
func New() *Recorder {
	return &Recorder{
		log:    logger.WithComponent("recorder"),
		device: gpu.NewSoftwareDevice(),
		openSource: func(ctx context.Context, opts capture.Options) (session.FrameSource, error) {
			src, err := capture.Open(ctx, opts)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		createFile: func(path string) (io.WriteCloser, error) {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create output directory: %w", err)
			}
			return os.Create(path)
		},
		newEncoder: encoderFactory,
		now:        time.Now,
		subs:       make(map[chan Status]struct{}),
	}
}

// Start opens the capture target, negotiates the encoder and starts a
// session writing to output. An empty output picks a timestamped file in
// the configured output directory.
func (r *Recorder) Start(ctx context.Context, cfg *config.Config, output string) (*Recording, error) {
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.starting = true
	r.mu.Unlock()

	rec, err := r.start(ctx, cfg, output)

	r.mu.Lock()
	r.starting = false
	if err == nil {
		r.active = rec
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go r.watch(rec)
	r.broadcast(rec.Status())
	return rec, nil
}

func (r *Recorder) start(ctx context.Context, cfg *config.Config, output string) (*Recording, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := container.ParseKind(cfg.Recording.Container)
	if err != nil {
		return nil, &media.ConfigError{Field: "container", Reason: err.Error()}
	}
	newEncoder, err := r.newEncoder(cfg.Encoder, kind)
	if err != nil {
		return nil, err
	}
	opts, err := captureOptions(cfg)
	if err != nil {
		return nil, err
	}
	if output == "" {
		output = filepath.Join(cfg.Recording.OutputDir, "focusrecorder-"+r.now().Format("20060102-150405")+kind.Extension())
	}

	source, err := r.openSource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture source: %w", err)
	}

	file, err := r.createFile(output)
	if err != nil {
		source.Stop()
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	sess, err := session.New(session.Params{
		Device: r.device,
		Source: source,
		NewConverter: func(in, out media.Size) (session.FormatConverter, error) {
			p, err := convert.NewProcessor(r.device, in, out)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		NewEncoder: newEncoder,
		Sink:       newSink(kind, file),
		Annotator:  newAnnotator(cfg.Overlay),
		Resolution: media.Size{Width: cfg.Recording.Width, Height: cfg.Recording.Height},
		Bitrate:    cfg.Recording.Bitrate,
		FrameRate:  cfg.Recording.FPS,
	})
	if err != nil {
		source.Stop()
		file.Close()
		r.discard(output)
		return nil, err
	}

	if err := sess.Start(); err != nil {
		if stopErr := sess.Stop(); stopErr != nil {
			r.log.Warn().Err(stopErr).Msg("Failed to clean up session")
		}
		// Finalizing may still have written container headers.
		if sess.Stats().SamplesWritten == 0 {
			r.discard(output)
		}
		return nil, err
	}

	r.log.Info().
		Str("session", sess.ID()).
		Str("output", output).
		Str("container", string(kind)).
		Msg("Recording started")
	return &Recording{sess: sess, output: output, finished: make(chan struct{})}, nil
}

// discard removes an output file that holds no video.
func (r *Recorder) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn().Err(err).Str("output", path).Msg("Failed to remove empty output file")
	}
}

func (r *Recorder) watch(rec *Recording) {
	select {
	case <-rec.sess.Done():
		r.log.Info().Str("session", rec.sess.ID()).Msg("Capture ended, finalizing recording")
		r.finish(rec)
	case <-rec.finished:
	}
}

func (r *Recorder) finish(rec *Recording) error {
	rec.once.Do(func() {
		rec.err = rec.sess.Stop()
		close(rec.finished)

		st := rec.Status()
		r.mu.Lock()
		if r.active == rec {
			r.active = nil
		}
		r.last = &st
		r.mu.Unlock()

		r.log.Info().
			Str("session", rec.sess.ID()).
			Str("output", rec.output).
			Err(rec.err).
			Msg("Recording finished")
		r.broadcast(st)
	})
	<-rec.finished
	return rec.err
}

// Stop finalizes the running recording.
func (r *Recorder) Stop() (Status, error) {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return Status{}, ErrNotRecording
	}
	err := r.finish(rec)
	return rec.Status(), err
}

// Status describes the running recording, or the last one when idle.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	rec, last := r.active, r.last
	r.mu.Unlock()

	switch {
	case rec != nil:
		return rec.Status()
	case last != nil:
		return *last
	default:
		return Status{}
	}
}

// Subscribe returns a channel of status changes. Slow subscribers miss
// updates rather than block the recorder.
func (r *Recorder) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Recorder) broadcast(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Close stops any running recording.
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

func captureOptions(cfg *config.Config) (capture.Options, error) {
	backend, err := capture.ParseBackend(cfg.Capture.Backend)
	if err != nil {
		return capture.Options{}, &media.ConfigError{Field: "capture backend", Reason: err.Error()}
	}
	windowID, err := config.ParseWindowID(cfg.Capture.WindowID)
	if err != nil {
		return capture.Options{}, &media.ConfigError{Field: "window id", Reason: err.Error()}
	}
	return capture.Options{
		Backend:   backend,
		WindowID:  windowID,
		Display:   cfg.Capture.Display,
		FrameRate: cfg.Recording.FPS,
	}, nil
}

// encoderFactory picks the encoder the container can carry.
func encoderFactory(cfg config.EncoderConfig, kind container.Kind) (session.EncoderFactory, error) {
	backend := cfg.Backend
	if backend == "" || backend == "auto" {
		backend = "gstreamer"
		if kind.Codec() == media.CodecMJPEG {
			backend = "mjpeg"
		}
	}

	switch backend {
	case "gstreamer":
		if kind.Codec() != media.CodecH264 {
			return nil, &media.ConfigError{Field: "encoder", Reason: fmt.Sprintf("gstreamer produces h264, %s container needs %s", kind, kind.Codec())}
		}
		hw := encoder.Hardware(cfg.Hardware)
		if hw == "" {
			hw = encoder.HardwareAuto
		}
		return func(ec session.EncoderConfig) (session.HardwareEncoder, error) {
			e, err := encoder.NewGStreamer(ec, hw)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	case "mjpeg":
		if kind.Codec() != media.CodecMJPEG {
			return nil, &media.ConfigError{Field: "encoder", Reason: fmt.Sprintf("mjpeg encoder cannot feed a %s container", kind)}
		}
		quality := cfg.JPEGQuality
		return func(ec session.EncoderConfig) (session.HardwareEncoder, error) {
			e, err := encoder.NewMJPEG(ec, quality)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	default:
		return nil, &media.ConfigError{Field: "encoder", Reason: fmt.Sprintf("unknown backend %q", backend)}
	}
}

// newAnnotator returns nil when the overlay is disabled.
func newAnnotator(cfg config.OverlayConfig) session.Annotator {
	if !cfg.Enabled {
		return nil
	}
	return overlay.NewManager(overlay.NewTextWidget(overlay.TextOptions{
		Text:        cfg.Text,
		ShowElapsed: cfg.ShowTime,
		X:           cfg.X,
		Y:           cfg.Y,
		Opacity:     cfg.Opacity,
		Background:  cfg.Background,
	}))
}

func newSink(kind container.Kind, w io.Writer) session.ContainerSink {
	if kind == container.KindMJPEG {
		return container.NewMJPEG(w)
	}
	return container.NewTS(w)
}
