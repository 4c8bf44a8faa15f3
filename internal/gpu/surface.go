package gpu

import (
	"image"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// Surface is a device image held in host memory. BGRA surfaces keep their
// pixels in an *image.RGBA so the x/image/draw fast paths apply; NV12
// surfaces keep a full-resolution luma plane followed by a half-resolution
// interleaved chroma plane, both with a stride equal to the width.
type Surface struct {
	size   media.Size
	format media.PixelFormat

	img *image.RGBA
	y   []byte
	uv  []byte
}

// NewBGRASurface wraps captured pixels without copying them.
func NewBGRASurface(img *image.RGBA) *Surface {
	b := img.Bounds()
	return &Surface{
		size:   media.Size{Width: b.Dx(), Height: b.Dy()},
		format: media.FormatBGRA,
		img:    img,
	}
}

func newSurface(size media.Size, format media.PixelFormat) *Surface {
	s := &Surface{size: size, format: format}
	switch format {
	case media.FormatBGRA:
		s.img = image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	case media.FormatNV12:
		s.y = make([]byte, size.Width*size.Height)
		s.uv = make([]byte, size.Width*(size.Height/2))
	}
	return s
}

func (s *Surface) Size() media.Size          { return s.size }
func (s *Surface) Format() media.PixelFormat { return s.format }

// RGBA returns the backing image of a BGRA surface, nil otherwise.
func (s *Surface) RGBA() *image.RGBA { return s.img }

// Planes returns the luma and chroma planes of an NV12 surface.
func (s *Surface) Planes() (y, uv []byte) { return s.y, s.uv }

// Bytes returns the NV12 planes laid out contiguously, the layout encoders
// expect in a raw buffer.
func (s *Surface) Bytes() []byte {
	if s.format != media.FormatNV12 {
		return s.img.Pix
	}
	out := make([]byte, 0, len(s.y)+len(s.uv))
	out = append(out, s.y...)
	return append(out, s.uv...)
}

// YCbCr exposes an NV12 surface as a 4:2:0 image, deinterleaving chroma.
func (s *Surface) YCbCr() *image.YCbCr {
	w, h := s.size.Width, s.size.Height
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for row := 0; row < h; row++ {
		copy(img.Y[row*img.YStride:row*img.YStride+w], s.y[row*w:(row+1)*w])
	}
	for row := 0; row < h/2; row++ {
		src := s.uv[row*w : (row+1)*w]
		for col := 0; col < w/2; col++ {
			img.Cb[row*img.CStride+col] = src[2*col]
			img.Cr[row*img.CStride+col] = src[2*col+1]
		}
	}
	return img
}

func (s *Surface) clone() *Surface {
	c := &Surface{size: s.size, format: s.format}
	if s.img != nil {
		c.img = &image.RGBA{
			Pix:    append([]byte(nil), s.img.Pix...),
			Stride: s.img.Stride,
			Rect:   s.img.Rect,
		}
	}
	if s.y != nil {
		c.y = append([]byte(nil), s.y...)
		c.uv = append([]byte(nil), s.uv...)
	}
	return c
}
