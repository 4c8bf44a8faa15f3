// Package encoder provides the encoders a recording session drives: an
// H.264 encoder built on GStreamer and a software Motion-JPEG encoder.
package encoder

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/session"
)

var (
	errAlreadyStarted = errors.New("encoder already started")
	errNotWired       = errors.New("encoder has no producer or consumer")
)

// runner owns the goroutines of a started encoder. The feed context is
// cancelled by stop; the group context is cancelled when any goroutine
// fails.
type runner struct {
	log *zerolog.Logger

	mu       sync.Mutex
	producer session.FrameProducer
	consumer session.SampleConsumer
	started  bool
	cancel   context.CancelFunc

	done chan struct{}
	err  error
}

func newRunner(log *zerolog.Logger) *runner {
	return &runner{log: log, done: make(chan struct{})}
}

func (r *runner) SetProducer(p session.FrameProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producer = p
}

func (r *runner) SetConsumer(c session.SampleConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumer = c
}

func (r *runner) Done() <-chan struct{} { return r.done }

// start runs launch with a fresh errgroup. launch adds the encoder's
// goroutines; feedCtx is what the producer must be called with.
func (r *runner) start(launch func(g *errgroup.Group, gctx, feedCtx context.Context) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return false, errAlreadyStarted
	}
	if r.producer == nil || r.consumer == nil {
		return false, errNotWired
	}

	g, gctx := errgroup.WithContext(context.Background())
	feedCtx, cancel := context.WithCancel(gctx)
	if err := launch(g, gctx, feedCtx); err != nil {
		cancel()
		return false, err
	}
	r.started = true
	r.cancel = cancel

	go func() {
		r.err = g.Wait()
		cancel()
		close(r.done)
	}()
	return true, nil
}

// stop cancels the feed and waits for every goroutine to return. It reports
// whether the runner had been started.
func (r *runner) stop() (bool, error) {
	r.mu.Lock()
	started, cancel := r.started, r.cancel
	r.mu.Unlock()

	if !started {
		return false, nil
	}
	cancel()
	<-r.done
	return true, r.err
}

// deliver hands one encoded sample to the consumer.
func (r *runner) deliver(sample *media.EncodedSample) error {
	err := r.consumer.Write(sample)
	if errors.Is(err, media.ErrUseAfterFinalize) {
		r.log.Error().Err(err).Dur("timestamp", sample.Timestamp).Msg("Encoder output arrived after the container was finalized")
	}
	return err
}
