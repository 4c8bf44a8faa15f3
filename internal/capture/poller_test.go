package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var nopLog = zerolog.Nop()

type scriptedGrab struct {
	mu     sync.Mutex
	sizes  []media.Size
	errs   []error
	calls  int
	repeat error
}

func (s *scriptedGrab) grab() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.sizes) {
		sz := s.sizes[i]
		return image.NewRGBA(image.Rect(0, 0, sz.Width, sz.Height)), nil
	}
	return nil, s.repeat
}

func TestPollerDeliversFramesThenEnds(t *testing.T) {
	g := &scriptedGrab{
		sizes:  []media.Size{{Width: 10, Height: 8}, {Width: 12, Height: 8}},
		repeat: media.ErrStreamEnded,
	}
	p := newPoller(200, g.grab, &nopLog)
	require.NoError(t, p.start())
	defer p.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var last time.Duration
	var frames int
	for {
		f, err := p.next(ctx)
		if errors.Is(err, media.ErrStreamEnded) {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f.Timestamp, last)
		assert.Equal(t, f.Surface.Size(), f.ContentSize)
		last = f.Timestamp
		frames++
	}
	assert.LessOrEqual(t, frames, 2)
}

func TestPollerFailsAfterRepeatedErrors(t *testing.T) {
	boom := errors.New("BadMatch")
	g := &scriptedGrab{repeat: boom}
	p := newPoller(1000, g.grab, &nopLog)
	require.NoError(t, p.start())
	defer p.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.next(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestPollerStop(t *testing.T) {
	g := &scriptedGrab{repeat: errors.New("transient")}
	p := newPoller(10, g.grab, &nopLog)

	p.stop()
	assert.ErrorIs(t, p.start(), errStopped)
	_, err := p.next(context.Background())
	assert.ErrorIs(t, err, media.ErrStreamEnded)
	p.stop()
}

func TestPollerStartTwice(t *testing.T) {
	g := &scriptedGrab{repeat: errors.New("transient")}
	p := newPoller(10, g.grab, &nopLog)
	require.NoError(t, p.start())
	assert.ErrorIs(t, p.start(), errAlreadyStarted)
	p.stop()
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendAuto, b)

	b, err = ParseBackend("PipeWire")
	require.NoError(t, err)
	assert.Equal(t, BackendPipeWire, b)

	_, err = ParseBackend("dxgi")
	assert.Error(t, err)
}
