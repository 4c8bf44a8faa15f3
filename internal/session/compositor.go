package session

import (
	"image/color"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// ClearColor fills the composition surface outside the captured content.
var ClearColor = color.RGBA{A: 255}

// Compositor copies each captured frame into one fixed-size surface so the
// converter always sees the same input size, whatever the target does.
type Compositor struct {
	device  gpu.Device
	surface media.Surface
	log     *zerolog.Logger

	// grown is set after the first frame whose content exceeded the surface.
	grown bool
}

// NewCompositor allocates the composition surface once. It is never resized.
func NewCompositor(device gpu.Device, size media.Size, log *zerolog.Logger) (*Compositor, error) {
	surface, err := device.CreateSurface(size, media.FormatBGRA)
	if err != nil {
		return nil, err
	}
	return &Compositor{device: device, surface: surface, log: log}, nil
}

// Surface returns the composition surface.
func (c *Compositor) Surface() media.Surface { return c.surface }

// Region is the part of frame that is copied: its content size clamped to
// both the captured buffer and the composition surface.
func (c *Compositor) Region(frame *media.CaptureFrame) media.Size {
	region := media.Clamp(frame.ContentSize, frame.Surface.Size())
	return media.Clamp(region, c.surface.Size())
}

// Compose clears the surface and copies the frame's region to its top-left
// corner. Content beyond the surface is dropped.
func (c *Compositor) Compose(frame *media.CaptureFrame) (media.Surface, error) {
	region := c.Region(frame)
	if !c.grown && (frame.ContentSize.Width > region.Width || frame.ContentSize.Height > region.Height) {
		c.grown = true
		c.log.Warn().
			Stringer("content", frame.ContentSize).
			Stringer("surface", c.surface.Size()).
			Msg("Capture target grew beyond the recording size, content is truncated")
	}

	if err := c.device.Clear(c.surface, ClearColor); err != nil {
		return nil, err
	}
	if err := c.device.CopyRegion(c.surface, frame.Surface, region); err != nil {
		return nil, err
	}
	return c.surface, nil
}
