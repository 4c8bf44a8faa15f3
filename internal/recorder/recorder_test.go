package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture"
	"github.com/bryanchriswhite/FocusRecorder/internal/config"
	"github.com/bryanchriswhite/FocusRecorder/internal/container"
	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/session"
)

// frameSource emits frames every interval until limit frames were sent or
// it is stopped. A zero limit never ends on its own.
type frameSource struct {
	size     media.Size
	limit    int
	interval time.Duration

	mu      sync.Mutex
	sent    int
	stopped bool
	quit    chan struct{}
}

func newFrameSource(size media.Size, limit int) *frameSource {
	return &frameSource{size: size, limit: limit, interval: 2 * time.Millisecond, quit: make(chan struct{})}
}

func (s *frameSource) ItemSize() media.Size { return s.size }
func (s *frameSource) Start() error         { return nil }

func (s *frameSource) NextFrame(ctx context.Context) (*media.CaptureFrame, error) {
	s.mu.Lock()
	if s.stopped || (s.limit > 0 && s.sent >= s.limit) {
		s.mu.Unlock()
		return nil, media.ErrStreamEnded
	}
	n := s.sent
	s.sent++
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, media.ErrStreamEnded
	case <-time.After(s.interval):
	}

	img := image.NewRGBA(image.Rect(0, 0, s.size.Width, s.size.Height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	return &media.CaptureFrame{
		Surface:     gpu.NewBGRASurface(img),
		ContentSize: s.size,
		Timestamp:   time.Second + time.Duration(n)*s.interval,
	}, nil
}

func (s *frameSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.quit)
	}
	return nil
}

func (s *frameSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Recording: config.RecordingConfig{
			Width:     32,
			Height:    24,
			Bitrate:   1_000_000,
			FPS:       30,
			OutputDir: t.TempDir(),
			Container: "mjpeg",
		},
		Capture: config.CaptureConfig{Backend: "auto"},
		Encoder: config.EncoderConfig{Backend: "auto", Hardware: "auto", JPEGQuality: 80},
	}
}

func newTestRecorder(src session.FrameSource) (*Recorder, *[]capture.Options) {
	var opened []capture.Options
	r := New()
	r.openSource = func(_ context.Context, opts capture.Options) (session.FrameSource, error) {
		opened = append(opened, opts)
		return src, nil
	}
	r.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	return r, &opened
}

func waitDone(t *testing.T, rec *Recording) {
	t.Helper()
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not finish")
	}
}

func TestRecordUntilSourceEnds(t *testing.T) {
	src := newFrameSource(media.Size{Width: 64, Height: 48}, 5)
	r, opened := newTestRecorder(src)
	cfg := testConfig(t)

	rec, err := r.Start(context.Background(), cfg, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Recording.OutputDir, "focusrecorder-20261016-093000.mjpeg"), rec.Output())
	require.Len(t, *opened, 1)
	assert.Equal(t, 30, (*opened)[0].FrameRate)

	waitDone(t, rec)
	require.NoError(t, rec.Err())

	st := r.Status()
	assert.False(t, st.Recording)
	require.NotNil(t, st.Session)
	assert.Equal(t, uint64(5), st.Session.Stats.FramesGenerated)
	assert.Equal(t, uint64(5), st.Session.Stats.SamplesWritten)
	assert.Equal(t, media.CodecMJPEG, st.Session.Format.Codec)

	data, err := os.ReadFile(rec.Output())
	require.NoError(t, err)
	assert.Equal(t, 5, bytes.Count(data, []byte("Content-Type: image/jpeg")))
	assert.True(t, bytes.HasSuffix(data, []byte("--"+container.Boundary+"--\r\n")))

	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStopFinalizes(t *testing.T) {
	src := newFrameSource(media.Size{Width: 64, Height: 48}, 0)
	r, _ := newTestRecorder(src)
	output := filepath.Join(t.TempDir(), "out.mjpeg")

	rec, err := r.Start(context.Background(), testConfig(t), output)
	require.NoError(t, err)
	assert.True(t, r.Status().Recording)

	_, err = r.Start(context.Background(), testConfig(t), "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	time.Sleep(20 * time.Millisecond)
	st, err := r.Stop()
	require.NoError(t, err)
	assert.False(t, st.Recording)
	assert.Equal(t, output, st.Output)
	assert.True(t, src.isStopped())
	waitDone(t, rec)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, []byte("--"+container.Boundary+"--\r\n")))
}

func TestSubscribe(t *testing.T) {
	src := newFrameSource(media.Size{Width: 64, Height: 48}, 0)
	r, _ := newTestRecorder(src)
	events, cancel := r.Subscribe()
	defer cancel()

	_, err := r.Start(context.Background(), testConfig(t), "")
	require.NoError(t, err)
	first := <-events
	assert.True(t, first.Recording)

	_, err = r.Stop()
	require.NoError(t, err)
	last := <-events
	assert.False(t, last.Recording)
}

func TestStartRejectsBadConfig(t *testing.T) {
	src := newFrameSource(media.Size{Width: 64, Height: 48}, 1)

	t.Run("encoder cannot feed container", func(t *testing.T) {
		r, opened := newTestRecorder(src)
		cfg := testConfig(t)
		cfg.Encoder.Backend = "gstreamer"

		_, err := r.Start(context.Background(), cfg, "")
		var cfgErr *media.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "encoder", cfgErr.Field)
		assert.Empty(t, *opened)
	})

	t.Run("invalid settings", func(t *testing.T) {
		r, _ := newTestRecorder(src)
		cfg := testConfig(t)
		cfg.Recording.FPS = 0

		_, err := r.Start(context.Background(), cfg, "")
		require.Error(t, err)
	})

	t.Run("capture target has no area", func(t *testing.T) {
		r, _ := newTestRecorder(newFrameSource(media.Size{}, 1))
		output := filepath.Join(t.TempDir(), "empty.mjpeg")

		_, err := r.Start(context.Background(), testConfig(t), output)
		var cfgErr *media.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.NoFileExists(t, output)

		// A failed start leaves the recorder idle.
		assert.False(t, r.Status().Recording)
	})
}

func TestEncoderFactory(t *testing.T) {
	_, err := encoderFactory(config.EncoderConfig{Backend: "auto"}, container.KindTS)
	require.NoError(t, err)

	_, err = encoderFactory(config.EncoderConfig{Backend: "mjpeg"}, container.KindTS)
	assert.Error(t, err)

	newEncoder, err := encoderFactory(config.EncoderConfig{Backend: "auto", JPEGQuality: 50}, container.KindMJPEG)
	require.NoError(t, err)
	enc, err := newEncoder(session.EncoderConfig{Size: media.Size{Width: 32, Height: 24}, Bitrate: 1, FrameRate: 10})
	require.NoError(t, err)
	assert.Equal(t, media.CodecMJPEG, enc.OutputFormat().Codec)
	require.NoError(t, enc.Stop())
}

// failingSource refuses to start.
type failingSource struct{ size media.Size }

func (s failingSource) ItemSize() media.Size { return s.size }
func (failingSource) Start() error           { return errors.New("capture permission denied") }
func (failingSource) Stop() error            { return nil }

func (failingSource) NextFrame(context.Context) (*media.CaptureFrame, error) {
	return nil, media.ErrStreamEnded
}

// idleEncoder claims H.264 output and never produces anything.
type idleEncoder struct {
	cfg  session.EncoderConfig
	done chan struct{}
}

func (e *idleEncoder) SetProducer(session.FrameProducer)  {}
func (e *idleEncoder) SetConsumer(session.SampleConsumer) {}
func (e *idleEncoder) TryStart() (bool, error)            { return true, nil }
func (e *idleEncoder) Stop() error                        { return nil }
func (e *idleEncoder) Done() <-chan struct{}              { return e.done }

func (e *idleEncoder) OutputFormat() media.StreamFormat {
	return media.StreamFormat{Codec: media.CodecH264, Size: e.cfg.Size, FrameRate: e.cfg.FrameRate, Bitrate: e.cfg.Bitrate}
}

func TestFailedStartRemovesTSOutput(t *testing.T) {
	r, _ := newTestRecorder(failingSource{size: media.Size{Width: 64, Height: 48}})
	r.newEncoder = func(config.EncoderConfig, container.Kind) (session.EncoderFactory, error) {
		return func(cfg session.EncoderConfig) (session.HardwareEncoder, error) {
			return &idleEncoder{cfg: cfg, done: make(chan struct{})}, nil
		}, nil
	}
	cfg := testConfig(t)
	cfg.Recording.Container = "ts"
	output := filepath.Join(cfg.Recording.OutputDir, "failed.ts")

	_, err := r.Start(context.Background(), cfg, output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture permission denied")

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "output with only container headers was left behind")

	st := r.Status()
	assert.False(t, st.Recording)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestOutputWriterInjected(t *testing.T) {
	var buf bytes.Buffer
	r, _ := newTestRecorder(newFrameSource(media.Size{Width: 64, Height: 48}, 2))
	r.createFile = func(string) (io.WriteCloser, error) { return nopWriteCloser{&buf}, nil }

	rec, err := r.Start(context.Background(), testConfig(t), "memory.mjpeg")
	require.NoError(t, err)
	waitDone(t, rec)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Content-Type: image/jpeg")))
}
