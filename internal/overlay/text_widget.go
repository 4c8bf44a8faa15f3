package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget draws a caption and, optionally, the recording's elapsed time.
type TextWidget struct {
	*BaseWidget
	text        string
	showElapsed bool
	textColor   color.RGBA
	bgColor     *color.RGBA // Optional background color
	padding     int
}

// TextOptions configures a TextWidget.
type TextOptions struct {
	Text        string
	ShowElapsed bool
	X, Y        int
	Opacity     float64
	Background  bool
}

// NewTextWidget creates a new text widget
func NewTextWidget(opts TextOptions) *TextWidget {
	w := &TextWidget{
		BaseWidget:  NewBaseWidget(opts.X, opts.Y, opts.Opacity),
		text:        opts.Text,
		showElapsed: opts.ShowElapsed,
		textColor:   color.RGBA{255, 255, 255, 255},
		padding:     5,
	}
	if opts.Background {
		w.bgColor = &color.RGBA{0, 0, 0, 255}
	}
	return w
}

// Line returns the text drawn for a frame at elapsed.
func (w *TextWidget) Line(elapsed time.Duration) string {
	parts := make([]string, 0, 2)
	if w.showElapsed {
		parts = append(parts, FormatElapsed(elapsed))
	}
	if w.text != "" {
		parts = append(parts, w.text)
	}
	return strings.Join(parts, "  ")
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, elapsed time.Duration) error {
	line := w.Line(elapsed)
	if line == "" {
		return nil
	}

	face := basicfont.Face7x13
	height := face.Metrics().Height.Ceil()
	width := font.MeasureString(face, line).Ceil()

	if w.bgColor != nil {
		DrawRectangle(img, w.x, w.y, width+w.padding*2, height+w.padding*2, *w.bgColor, w.opacity)
	}

	// Text is drawn into its own image so opacity applies to the glyphs too.
	textImg := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(line)

	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, w.opacity)
	return nil
}

// FormatElapsed formats d as HH:MM:SS.mmm.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
