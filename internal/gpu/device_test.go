package gpu

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCreateSurface(t *testing.T) {
	dev := NewSoftwareDevice()

	s, err := dev.CreateSurface(media.Size{Width: 64, Height: 32}, media.FormatBGRA)
	require.NoError(t, err)
	assert.Equal(t, media.Size{Width: 64, Height: 32}, s.Size())
	assert.Equal(t, media.FormatBGRA, s.Format())

	nv, err := dev.CreateSurface(media.Size{Width: 64, Height: 32}, media.FormatNV12)
	require.NoError(t, err)
	y, uv := nv.(*Surface).Planes()
	assert.Len(t, y, 64*32)
	assert.Len(t, uv, 64*16)
}

func TestCreateSurfaceRejects(t *testing.T) {
	dev := NewSoftwareDevice().WithMaxDimension(100)

	var devErr *media.DeviceError
	_, err := dev.CreateSurface(media.Size{Width: 101, Height: 10}, media.FormatBGRA)
	assert.ErrorAs(t, err, &devErr)

	_, err = dev.CreateSurface(media.Size{}, media.FormatBGRA)
	assert.ErrorAs(t, err, &devErr)

	_, err = dev.CreateSurface(media.Size{Width: 11, Height: 10}, media.FormatNV12)
	assert.ErrorAs(t, err, &devErr)
}

func TestClearAndCopyRegion(t *testing.T) {
	dev := NewSoftwareDevice()
	dst, err := dev.CreateSurface(media.Size{Width: 8, Height: 8}, media.FormatBGRA)
	require.NoError(t, err)

	red := color.RGBA{R: 255, A: 255}
	require.NoError(t, dev.Clear(dst, color.Black))
	src := NewBGRASurface(filled(16, 16, red))

	require.NoError(t, dev.CopyRegion(dst, src, media.Size{Width: 4, Height: 2}))

	img := dst.(*Surface).RGBA()
	assert.Equal(t, red, img.RGBAAt(0, 0))
	assert.Equal(t, red, img.RGBAAt(3, 1))
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(4, 0))
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(0, 2))
}

func TestCopyRegionTooLarge(t *testing.T) {
	dev := NewSoftwareDevice()
	dst, err := dev.CreateSurface(media.Size{Width: 8, Height: 8}, media.FormatBGRA)
	require.NoError(t, err)
	src := NewBGRASurface(filled(16, 16, color.RGBA{A: 255}))

	var devErr *media.DeviceError
	assert.ErrorAs(t, dev.CopyRegion(dst, src, media.Size{Width: 9, Height: 8}), &devErr)
}

func TestDuplicateIsIndependent(t *testing.T) {
	dev := NewSoftwareDevice()
	orig := NewBGRASurface(filled(4, 4, color.RGBA{G: 200, A: 255}))

	dup, err := dev.Duplicate(orig)
	require.NoError(t, err)
	require.NoError(t, dev.Clear(orig, color.White))

	assert.Equal(t, color.RGBA{G: 200, A: 255}, dup.(*Surface).RGBA().RGBAAt(2, 2))
}

func TestYCbCrDeinterleavesChroma(t *testing.T) {
	dev := NewSoftwareDevice()
	s, err := dev.CreateSurface(media.Size{Width: 4, Height: 2}, media.FormatNV12)
	require.NoError(t, err)
	_, uv := s.(*Surface).Planes()
	copy(uv, []byte{10, 20, 30, 40})

	img := s.(*Surface).YCbCr()
	assert.Equal(t, []byte{10, 30}, img.Cb[:2])
	assert.Equal(t, []byte{20, 40}, img.Cr[:2])
}

func TestForeignSurface(t *testing.T) {
	dev := NewSoftwareDevice()
	var devErr *media.DeviceError
	assert.ErrorAs(t, dev.Clear(fakeSurface{}, color.Black), &devErr)
}

type fakeSurface struct{}

func (fakeSurface) Size() media.Size          { return media.Size{Width: 1, Height: 1} }
func (fakeSurface) Format() media.PixelFormat { return media.FormatBGRA }
