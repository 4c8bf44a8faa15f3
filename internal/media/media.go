// Package media holds the types shared by every stage of the recording
// pipeline: sizes, surfaces, frames and encoded samples.
package media

import (
	"fmt"
	"time"
)

// Size is a pixel extent.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Empty reports whether the size has no area.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// EvenAlign rounds each odd dimension up to the next even value. Hardware
// encoders working on 4:2:0 chroma reject odd dimensions.
func EvenAlign(s Size) Size {
	return Size{
		Width:  s.Width + s.Width%2,
		Height: s.Height + s.Height%2,
	}
}

// Clamp limits each dimension of s to [0, bound].
func Clamp(s, bound Size) Size {
	return Size{
		Width:  clamp(s.Width, 0, bound.Width),
		Height: clamp(s.Height, 0, bound.Height),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PixelFormat identifies the memory layout of a Surface.
type PixelFormat int

const (
	// FormatBGRA is the 8-bit per channel display format produced by capture.
	FormatBGRA PixelFormat = iota
	// FormatNV12 is the 4:2:0 planar luma plus interleaved chroma format
	// encoders consume.
	FormatNV12
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	case FormatNV12:
		return "NV12"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Surface is an image resident on a device.
type Surface interface {
	Size() Size
	Format() PixelFormat
}

// CaptureFrame is one frame delivered by a frame source. The surface may be
// larger than the content that is actually valid in it.
type CaptureFrame struct {
	Surface     Surface
	ContentSize Size
	// Timestamp is on the source's own monotonic clock.
	Timestamp time.Duration
}

// EncoderInputSample is a converted frame ready for the encoder. Timestamp
// is relative to the first frame of the session.
type EncoderInputSample struct {
	Timestamp time.Duration
	Surface   Surface
}

// EncodedSample is one unit of compressed output.
type EncodedSample struct {
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	KeyFrame  bool
}

// Codec names an encoded stream's compression format.
type Codec string

const (
	CodecH264  Codec = "h264"
	CodecMJPEG Codec = "mjpeg"
)

// StreamFormat is the negotiated output type of an encoder.
type StreamFormat struct {
	Codec     Codec `json:"codec"`
	Size      Size  `json:"size"`
	FrameRate int   `json:"frame_rate"`
	// Bitrate in bits per second.
	Bitrate int `json:"bitrate"`
}

// FrameDuration is the nominal duration of one frame at the stream's rate.
func (f StreamFormat) FrameDuration() time.Duration {
	if f.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(f.FrameRate)
}
