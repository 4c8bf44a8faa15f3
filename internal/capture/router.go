package capture

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture/pipewire"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
)

var errNoBackend = errors.New("no capture backends available")

// Open resolves the capture target and returns a source for it. With the
// auto backend a window id selects X11, a Wayland session selects PipeWire
// and anything else captures a display; a backend that fails to open falls
// through to the next candidate.
func Open(ctx context.Context, opts Options) (Source, error) {
	log := logger.WithComponent("capture-router")

	var result *multierror.Error
	for _, backend := range candidates(opts, os.Getenv) {
		src, err := open(ctx, backend, opts)
		if err == nil {
			log.Info().
				Str("backend", string(backend)).
				Stringer("size", src.ItemSize()).
				Msg("Capture source opened")
			return src, nil
		}
		log.Warn().Err(err).Str("backend", string(backend)).Msg("Capture backend not available")
		result = multierror.Append(result, fmt.Errorf("%s: %w", backend, err))
	}
	if result == nil {
		return nil, errNoBackend
	}
	return nil, fmt.Errorf("%w: %v", errNoBackend, result)
}

func open(ctx context.Context, backend Backend, opts Options) (Source, error) {
	switch backend {
	case BackendX11:
		return NewX11Source(opts.WindowID, opts.FrameRate)
	case BackendScreen:
		return NewScreenSource(opts.Display, opts.FrameRate)
	case BackendPipeWire:
		return pipewire.NewSource(ctx, opts.WindowID != 0, opts.FrameRate)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}
}

// candidates orders the backends to try.
func candidates(opts Options, getenv func(string) string) []Backend {
	if opts.Backend != BackendAuto && opts.Backend != "" {
		return []Backend{opts.Backend}
	}

	wayland := getenv("WAYLAND_DISPLAY") != "" || getenv("XDG_SESSION_TYPE") == "wayland"
	x11 := getenv("DISPLAY") != ""

	var out []Backend
	switch {
	case opts.WindowID != 0:
		// XWayland windows are still readable over X11.
		if x11 {
			out = append(out, BackendX11)
		}
		if wayland {
			out = append(out, BackendPipeWire)
		}
	case wayland:
		out = append(out, BackendPipeWire)
		if x11 {
			out = append(out, BackendScreen)
		}
	default:
		out = append(out, BackendScreen)
		if x11 {
			out = append(out, BackendX11)
		}
	}
	return out
}
