// Package gpu provides the device surfaces the pipeline composes into.
package gpu

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// MaxDimension is the largest surface edge a device accepts.
const MaxDimension = 16384

var (
	errForeignSurface = errors.New("surface not created by this device")
	errFormat         = errors.New("unsupported pixel format")
)

// Device creates surfaces and runs the copy operations composition needs.
type Device interface {
	CreateSurface(size media.Size, format media.PixelFormat) (media.Surface, error)
	Clear(dst media.Surface, c color.Color) error
	// CopyRegion copies the region of the given size anchored at the origin
	// of src to the origin of dst.
	CopyRegion(dst, src media.Surface, region media.Size) error
	Duplicate(src media.Surface) (media.Surface, error)
}

// SoftwareDevice implements Device on host memory.
type SoftwareDevice struct {
	maxDimension int
}

// NewSoftwareDevice creates a device that accepts surfaces up to
// MaxDimension on each edge.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{maxDimension: MaxDimension}
}

// WithMaxDimension lowers the largest accepted surface edge.
func (d *SoftwareDevice) WithMaxDimension(n int) *SoftwareDevice {
	d.maxDimension = n
	return d
}

func (d *SoftwareDevice) CreateSurface(size media.Size, format media.PixelFormat) (media.Surface, error) {
	if size.Empty() || size.Width > d.maxDimension || size.Height > d.maxDimension {
		return nil, &media.DeviceError{
			Op:  "create surface",
			Err: fmt.Errorf("size %s outside 1..%d", size, d.maxDimension),
		}
	}
	switch format {
	case media.FormatBGRA:
	case media.FormatNV12:
		if size.Width%2 != 0 || size.Height%2 != 0 {
			return nil, &media.DeviceError{
				Op:  "create surface",
				Err: fmt.Errorf("NV12 requires even dimensions, got %s", size),
			}
		}
	default:
		return nil, &media.DeviceError{Op: "create surface", Err: errFormat}
	}
	return newSurface(size, format), nil
}

func (d *SoftwareDevice) Clear(dst media.Surface, c color.Color) error {
	s, err := local(dst, "clear")
	if err != nil {
		return err
	}
	switch s.format {
	case media.FormatBGRA:
		draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	case media.FormatNV12:
		r, g, b, _ := c.RGBA()
		y, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
		for i := range s.y {
			s.y[i] = y
		}
		for i := 0; i+1 < len(s.uv); i += 2 {
			s.uv[i] = cb
			s.uv[i+1] = cr
		}
	}
	return nil
}

func (d *SoftwareDevice) CopyRegion(dst, src media.Surface, region media.Size) error {
	to, err := local(dst, "copy region")
	if err != nil {
		return err
	}
	from, err := local(src, "copy region")
	if err != nil {
		return err
	}
	if to.format != media.FormatBGRA || from.format != media.FormatBGRA {
		return &media.DeviceError{Op: "copy region", Err: errFormat}
	}
	if region.Width > to.size.Width || region.Height > to.size.Height ||
		region.Width > from.size.Width || region.Height > from.size.Height {
		return &media.DeviceError{
			Op:  "copy region",
			Err: fmt.Errorf("region %s exceeds %s or %s", region, from.size, to.size),
		}
	}
	if region.Empty() {
		return nil
	}
	sr := image.Rect(0, 0, region.Width, region.Height).Add(from.img.Rect.Min)
	draw.Copy(to.img, to.img.Rect.Min, from.img, sr, draw.Src, nil)
	return nil
}

func (d *SoftwareDevice) Duplicate(src media.Surface) (media.Surface, error) {
	s, err := local(src, "duplicate")
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

func local(s media.Surface, op string) (*Surface, error) {
	ls, ok := s.(*Surface)
	if !ok || ls == nil {
		return nil, &media.DeviceError{Op: op, Err: errForeignSurface}
	}
	return ls, nil
}
