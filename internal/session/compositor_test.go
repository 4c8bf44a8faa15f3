package session

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

func TestCompositorClampsToSurface(t *testing.T) {
	c, err := NewCompositor(gpu.NewSoftwareDevice(), media.Size{Width: 1920, Height: 1080}, &nopLog)
	require.NoError(t, err)

	frame := &media.CaptureFrame{
		Surface:     bgra(media.Size{Width: 2000, Height: 2000}),
		ContentSize: media.Size{Width: 2000, Height: 2000},
	}
	assert.Equal(t, media.Size{Width: 1920, Height: 1080}, c.Region(frame))

	out, err := c.Compose(frame)
	require.NoError(t, err)
	assert.Equal(t, media.Size{Width: 1920, Height: 1080}, out.Size())
}

func TestCompositorRegionNeverExceedsBuffer(t *testing.T) {
	c, err := NewCompositor(gpu.NewSoftwareDevice(), media.Size{Width: 640, Height: 480}, &nopLog)
	require.NoError(t, err)

	for _, content := range []media.Size{
		{Width: 100, Height: 100},
		{Width: 640, Height: 480},
		{Width: 641, Height: 10},
		{Width: -1, Height: 500},
	} {
		frame := &media.CaptureFrame{
			Surface:     bgra(media.Size{Width: 700, Height: 700}),
			ContentSize: content,
		}
		region := c.Region(frame)
		assert.LessOrEqual(t, region.Width, 640)
		assert.LessOrEqual(t, region.Height, 480)
		assert.GreaterOrEqual(t, region.Width, 0)
		assert.GreaterOrEqual(t, region.Height, 0)
	}
}

func TestCompositorClearsOutsideContent(t *testing.T) {
	c, err := NewCompositor(gpu.NewSoftwareDevice(), media.Size{Width: 8, Height: 8}, &nopLog)
	require.NoError(t, err)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	out, err := c.Compose(&media.CaptureFrame{
		Surface:     gpu.NewBGRASurface(img),
		ContentSize: media.Size{Width: 4, Height: 4},
	})
	require.NoError(t, err)

	rgba := out.(*gpu.Surface).RGBA()
	assert.Equal(t, white, rgba.RGBAAt(3, 3))
	assert.Equal(t, color.RGBA{A: 255}, rgba.RGBAAt(4, 4))
	assert.Equal(t, color.RGBA{A: 255}, rgba.RGBAAt(7, 0))
}

func TestCompositorClearsLargerPreviousFrame(t *testing.T) {
	c, err := NewCompositor(gpu.NewSoftwareDevice(), media.Size{Width: 8, Height: 8}, &nopLog)
	require.NoError(t, err)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black := color.RGBA{A: 255}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	out, err := c.Compose(&media.CaptureFrame{
		Surface:     gpu.NewBGRASurface(img),
		ContentSize: media.Size{Width: 8, Height: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, white, out.(*gpu.Surface).RGBA().RGBAAt(7, 7))

	out, err = c.Compose(&media.CaptureFrame{
		Surface:     gpu.NewBGRASurface(img),
		ContentSize: media.Size{Width: 2, Height: 2},
	})
	require.NoError(t, err)

	rgba := out.(*gpu.Surface).RGBA()
	assert.Equal(t, white, rgba.RGBAAt(1, 1))
	for _, p := range []image.Point{{2, 2}, {5, 1}, {1, 5}, {7, 7}} {
		assert.Equal(t, black, rgba.RGBAAt(p.X, p.Y), "pixel %v kept content from the larger frame", p)
	}
}
