// Package mailbox hands captured frames from a capture goroutine to the
// single consumer that encodes them. It holds one frame: a frame that is not
// taken before the next one arrives is replaced.
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var epoch = time.Now()

// Now is the capture clock: a monotonic duration since process start.
func Now() time.Duration {
	return time.Since(epoch)
}

// Mailbox is a one-slot latest-wins frame queue.
type Mailbox struct {
	slot   chan *media.CaptureFrame
	closed chan struct{}
	once   sync.Once
	err    error

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func New() *Mailbox {
	return &Mailbox{
		slot:   make(chan *media.CaptureFrame, 1),
		closed: make(chan struct{}),
	}
}

// Put offers a frame without blocking. It replaces a frame still waiting in
// the slot.
func (m *Mailbox) Put(frame *media.CaptureFrame) {
	select {
	case <-m.closed:
		return
	default:
	}

	select {
	case m.slot <- frame:
		return
	default:
	}

	select {
	case <-m.slot:
		m.dropped.Add(1)
	default:
	}
	select {
	case m.slot <- frame:
	default:
		m.dropped.Add(1)
	}
}

// Next waits for a frame. After Close it returns media.ErrStreamEnded, after
// Fail the error given to Fail.
func (m *Mailbox) Next(ctx context.Context) (*media.CaptureFrame, error) {
	select {
	case <-m.closed:
		return nil, m.err
	default:
	}

	select {
	case frame := <-m.slot:
		m.delivered.Add(1)
		return frame, nil
	case <-m.closed:
		return nil, m.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the stream. Later calls have no effect.
func (m *Mailbox) Close() {
	m.Fail(media.ErrStreamEnded)
}

// Fail ends the stream with err.
func (m *Mailbox) Fail(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.closed)
	})
}

// Dropped is the number of frames replaced before they were taken.
func (m *Mailbox) Dropped() uint64 { return m.dropped.Load() }

// Delivered is the number of frames taken by Next.
func (m *Mailbox) Delivered() uint64 { return m.delivered.Load() }
