package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture/mailbox"
	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// maxConsecutiveFailures ends a poll loop whose grabs keep failing.
const maxConsecutiveFailures = 10

// poller grabs frames on a ticker and posts them to a mailbox. grab returns
// media.ErrStreamEnded when the target is gone.
type poller struct {
	interval time.Duration
	grab     func() (*image.RGBA, error)
	box      *mailbox.Mailbox
	log      *zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func newPoller(fps int, grab func() (*image.RGBA, error), log *zerolog.Logger) *poller {
	if fps <= 0 {
		fps = 30
	}
	return &poller{
		interval: time.Second / time.Duration(fps),
		grab:     grab,
		box:      mailbox.New(),
		log:      log,
		quit:     make(chan struct{}),
	}
}

func (p *poller) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errStopped
	}
	if p.started {
		return errAlreadyStarted
	}
	p.started = true

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		img, err := p.grab()
		switch {
		case errors.Is(err, media.ErrStreamEnded):
			p.log.Info().Msg("Capture target gone")
			p.box.Close()
			return
		case err != nil:
			failures++
			if failures == 1 {
				p.log.Warn().Err(err).Msg("Failed to grab frame")
			}
			if failures >= maxConsecutiveFailures {
				p.box.Fail(fmt.Errorf("capture failed %d times in a row: %w", failures, err))
				return
			}
		default:
			failures = 0
			b := img.Bounds()
			p.box.Put(&media.CaptureFrame{
				Surface:     gpu.NewBGRASurface(img),
				ContentSize: media.Size{Width: b.Dx(), Height: b.Dy()},
				Timestamp:   mailbox.Now(),
			})
		}

		select {
		case <-p.quit:
			return
		case <-ticker.C:
		}
	}
}

func (p *poller) next(ctx context.Context) (*media.CaptureFrame, error) {
	return p.box.Next(ctx)
}

// stop ends the loop and the stream. It is safe to call more than once and
// before start.
func (p *poller) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	p.box.Close()
	p.log.Debug().
		Uint64("delivered", p.box.Delivered()).
		Uint64("dropped", p.box.Dropped()).
		Msg("Capture stopped")
}
