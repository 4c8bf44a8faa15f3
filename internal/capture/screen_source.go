package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// ScreenSource captures a whole display through the platform screenshot API.
type ScreenSource struct {
	display int
	bounds  image.Rectangle
	*poller
}

// NewScreenSource captures the display with the given index.
func NewScreenSource(display, fps int) (*ScreenSource, error) {
	n := screenshot.NumActiveDisplays()
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d not found (%d active)", display, n)
	}
	bounds := screenshot.GetDisplayBounds(display)
	if bounds.Empty() {
		return nil, fmt.Errorf("display %d has no area", display)
	}

	s := &ScreenSource{display: display, bounds: bounds}
	log := logger.WithComponent("screen-source")
	s.poller = newPoller(fps, s.grab, log)

	log.Info().
		Int("display", display).
		Stringer("bounds", bounds).
		Msg("Display capture target resolved")
	return s, nil
}

func (s *ScreenSource) Name() string { return "screen" }

func (s *ScreenSource) ItemSize() media.Size {
	return media.Size{Width: s.bounds.Dx(), Height: s.bounds.Dy()}
}

func (s *ScreenSource) Start() error { return s.start() }

func (s *ScreenSource) NextFrame(ctx context.Context) (*media.CaptureFrame, error) {
	return s.next(ctx)
}

func (s *ScreenSource) Stop() error {
	s.stop()
	return nil
}

// grab captures the display at its current bounds so a mode change shows up
// as a new content size.
func (s *ScreenSource) grab() (*image.RGBA, error) {
	if s.display >= screenshot.NumActiveDisplays() {
		return nil, media.ErrStreamEnded
	}
	return screenshot.CaptureRect(screenshot.GetDisplayBounds(s.display))
}
