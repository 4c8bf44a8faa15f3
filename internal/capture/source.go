// Package capture provides the frame sources a recording reads from: a single
// X11 window, a whole display, or a PipeWire screencast.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// Source delivers frames of one capture target.
type Source interface {
	Name() string
	// ItemSize is the size of the target when the source was opened.
	ItemSize() media.Size
	Start() error
	NextFrame(ctx context.Context) (*media.CaptureFrame, error)
	Stop() error
}

// Backend names a capture implementation.
type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendX11      Backend = "x11"
	BackendScreen   Backend = "screen"
	BackendPipeWire Backend = "pipewire"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendX11, BackendScreen, BackendPipeWire:
		return b, nil
	default:
		return "", fmt.Errorf("unknown capture backend %q", s)
	}
}

var (
	errAlreadyStarted = errors.New("capture already started")
	errStopped        = errors.New("capture stopped")
)

// Options select what to capture.
type Options struct {
	Backend Backend
	// WindowID selects an X11 window. Zero captures the root window.
	WindowID uint32
	// Display is the index of the display the screen backend captures.
	Display int
	// FrameRate is how often polling backends grab a frame.
	FrameRate int
}
