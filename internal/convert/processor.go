// Package convert turns composed BGRA surfaces into the NV12 surfaces the
// encoders consume, scaling between the capture size and the output size.
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var errInput = errors.New("input must be a BGRA device surface")

// Processor converts BGRA at the input size to NV12 at the output size. The
// returned surface is owned by the processor and overwritten by the next
// Convert call.
type Processor struct {
	in, out media.Size
	scaler  draw.Scaler

	scaled *image.RGBA
	output *gpu.Surface
}

// NewProcessor allocates the conversion target on dev.
func NewProcessor(dev gpu.Device, in, out media.Size) (*Processor, error) {
	if in.Empty() {
		return nil, &media.ConfigError{Field: "input size", Reason: fmt.Sprintf("%s has no area", in)}
	}
	surface, err := dev.CreateSurface(out, media.FormatNV12)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate conversion target: %w", err)
	}
	output, ok := surface.(*gpu.Surface)
	if !ok {
		return nil, &media.DeviceError{Op: "create surface", Err: errors.New("device returned a foreign surface")}
	}

	p := &Processor{
		in:     in,
		out:    out,
		scaler: draw.ApproxBiLinear,
		output: output,
	}
	if in != out {
		p.scaled = image.NewRGBA(image.Rect(0, 0, out.Width, out.Height))
	}
	return p, nil
}

// WithScaler replaces the default bilinear scaler.
func (p *Processor) WithScaler(s draw.Scaler) *Processor {
	p.scaler = s
	return p
}

// InputSize returns the size Convert expects.
func (p *Processor) InputSize() media.Size { return p.in }

// OutputSize returns the size Convert produces.
func (p *Processor) OutputSize() media.Size { return p.out }

// Convert converts in into the processor's output surface.
func (p *Processor) Convert(in media.Surface) (media.Surface, error) {
	s, ok := in.(*gpu.Surface)
	if !ok || s.Format() != media.FormatBGRA {
		return nil, &media.DeviceError{Op: "convert", Err: errInput}
	}
	if s.Size() != p.in {
		return nil, &media.DeviceError{
			Op:  "convert",
			Err: fmt.Errorf("input is %s, processor expects %s", s.Size(), p.in),
		}
	}

	src := s.RGBA()
	if p.scaled != nil {
		p.scaler.Scale(p.scaled, p.scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		src = p.scaled
	}
	toNV12(p.output, src)
	return p.output, nil
}

// toNV12 writes BT.601 luma per pixel and chroma averaged over each 2x2
// block.
func toNV12(dst *gpu.Surface, src *image.RGBA) {
	yPlane, uvPlane := dst.Planes()
	w, h := dst.Size().Width, dst.Size().Height
	o := src.Rect.Min

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(o.X+x, o.Y+y)
			yy, _, _ := color.RGBToYCbCr(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			yPlane[y*w+x] = yy
		}
	}

	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			t := src.PixOffset(o.X+2*x, o.Y+2*y)
			b := t + src.Stride
			p := src.Pix
			r := avg4(p[t], p[t+4], p[b], p[b+4])
			g := avg4(p[t+1], p[t+5], p[b+1], p[b+5])
			bl := avg4(p[t+2], p[t+6], p[b+2], p[b+6])
			_, cb, cr := color.RGBToYCbCr(r, g, bl)
			uvPlane[y*w+2*x] = cb
			uvPlane[y*w+2*x+1] = cr
		}
	}
}

func avg4(a, b, c, d uint8) uint8 {
	return uint8((uint16(a) + uint16(b) + uint16(c) + uint16(d) + 2) / 4)
}
