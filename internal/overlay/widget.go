package overlay

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
)

// Widget draws onto a composed frame.
type Widget interface {
	// Render draws the widget. elapsed is the frame's time since the first
	// frame of the recording.
	Render(img *image.RGBA, elapsed time.Duration) error
}

// BaseWidget holds a widget's position and opacity.
type BaseWidget struct {
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	return w.x, w.y
}

// GetOpacity returns the widget's opacity
func (w *BaseWidget) GetOpacity() float64 {
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// BlendImage composites src over dst with its top-left corner at x, y,
// scaling src's alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	draw.DrawMask(dst, r, src, sb.Min, alphaMask(opacity), image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity.
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	r := image.Rect(x, y, x+width, y+height)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, alphaMask(opacity), image.Point{}, draw.Over)
}

func alphaMask(opacity float64) image.Image {
	return image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
}
