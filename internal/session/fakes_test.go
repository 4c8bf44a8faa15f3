package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var nopLog = zerolog.Nop()

func bgra(size media.Size) media.Surface {
	return gpu.NewBGRASurface(image.NewRGBA(image.Rect(0, 0, size.Width, size.Height)))
}

type fakeSource struct {
	mu       sync.Mutex
	itemSize media.Size
	frames   []*media.CaptureFrame
	err      error
	pulls    int
	started  int
	stopped  int
}

func newFakeSource(itemSize media.Size, timestamps ...time.Duration) *fakeSource {
	src := &fakeSource{itemSize: itemSize}
	for _, ts := range timestamps {
		src.frames = append(src.frames, &media.CaptureFrame{
			Surface:     bgra(itemSize),
			ContentSize: itemSize,
			Timestamp:   ts,
		})
	}
	return src
}

func (f *fakeSource) ItemSize() media.Size { return f.itemSize }

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeSource) NextFrame(ctx context.Context) (*media.CaptureFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if len(f.frames) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, media.ErrStreamEnded
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) counts() (pulls, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls, f.stopped
}

// passthroughConverter hands the composed surface on unchanged.
type passthroughConverter struct{}

func (passthroughConverter) Convert(in media.Surface) (media.Surface, error) { return in, nil }

type failingConverter struct{}

func (failingConverter) Convert(media.Surface) (media.Surface, error) {
	return nil, &media.DeviceError{Op: "convert", Err: errors.New("device removed")}
}

type converterCall struct{ in, out media.Size }

func recordingConverters(calls *[]converterCall, conv FormatConverter) ConverterFactory {
	return func(in, out media.Size) (FormatConverter, error) {
		*calls = append(*calls, converterCall{in, out})
		return conv, nil
	}
}

// fakeEncoder pulls on a goroutine until the producer ends, turning every
// input sample into one encoded sample.
type fakeEncoder struct {
	cfg      EncoderConfig
	refuse   bool
	producer FrameProducer
	consumer SampleConsumer

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stops   int
	pulled  []time.Duration
	written []error

	// drain, when set, holds Stop until it is closed.
	drain chan struct{}
}

func newFakeEncoder(cfg EncoderConfig) *fakeEncoder {
	return &fakeEncoder{cfg: cfg, done: make(chan struct{})}
}

func (e *fakeEncoder) SetProducer(p FrameProducer)  { e.producer = p }
func (e *fakeEncoder) SetConsumer(c SampleConsumer) { e.consumer = c }

func (e *fakeEncoder) OutputFormat() media.StreamFormat {
	return media.StreamFormat{Codec: media.CodecH264, Size: e.cfg.Size, FrameRate: e.cfg.FrameRate, Bitrate: e.cfg.Bitrate}
}

func (e *fakeEncoder) TryStart() (bool, error) {
	if e.refuse {
		return false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.once.Do(func() { close(e.done) })
		for {
			sample, ok := e.producer.Generate(ctx)
			if !ok {
				return
			}
			err := e.consumer.Write(&media.EncodedSample{
				Data:      []byte{0, 0, 0, 1, 0x65},
				Timestamp: sample.Timestamp,
			})
			e.mu.Lock()
			e.pulled = append(e.pulled, sample.Timestamp)
			e.written = append(e.written, err)
			e.mu.Unlock()
		}
	}()
	return true, nil
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	e.stops++
	e.mu.Unlock()
	if e.drain != nil {
		<-e.drain
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return nil
}

func (e *fakeEncoder) Done() <-chan struct{} { return e.done }

func (e *fakeEncoder) timestamps() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.pulled...)
}

type sinkCall struct {
	op        string
	stream    int
	timestamp time.Duration
}

type fakeSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	addErr   error
	writeErr error
}

func (s *fakeSink) record(c sinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeSink) AddStream(media.StreamFormat) (int, error) {
	if s.addErr != nil {
		return 0, s.addErr
	}
	s.record(sinkCall{op: "add"})
	return 0, nil
}

func (s *fakeSink) BeginWriting() error {
	s.record(sinkCall{op: "begin"})
	return nil
}

func (s *fakeSink) WriteSample(stream int, sample *media.EncodedSample) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.record(sinkCall{op: "write", stream: stream, timestamp: sample.Timestamp})
	return nil
}

func (s *fakeSink) Finalize() error {
	s.record(sinkCall{op: "finalize"})
	return nil
}

func (s *fakeSink) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (s *fakeSink) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c.op)
	}
	return out
}
