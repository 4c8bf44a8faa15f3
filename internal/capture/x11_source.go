package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// X11Source captures one X11 window, or the root window, by polling
// GetImage. Windows are read through a Composite pixmap when the extension
// is available so that obscured windows still render.
type X11Source struct {
	conn             *xgb.Conn
	screen           *xproto.ScreenInfo
	win              xproto.Window
	compositeEnabled bool
	itemSize         media.Size
	log              *zerolog.Logger

	mu sync.Mutex
	*poller
}

// NewX11Source connects to the X server and resolves the window to capture.
// A zero windowID captures the whole root window.
func NewX11Source(windowID uint32, fps int) (*X11Source, error) {
	log := logger.WithComponent("x11-source")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	if depth := screen.RootDepth; depth != 24 && depth != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}

	s := &X11Source{
		conn:   conn,
		screen: screen,
		win:    screen.Root,
		log:    log,
	}

	if windowID != 0 {
		if err := composite.Init(conn); err != nil {
			log.Warn().
				Err(err).
				Msg("Composite extension not available - obscured windows will capture incorrectly")
		} else {
			s.compositeEnabled = true
		}

		win, err := s.resolveWindow(xproto.Window(windowID))
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.win = win
	}

	geom, err := xproto.GetGeometry(conn, xproto.Drawable(s.win)).Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}
	s.itemSize = media.Size{Width: int(geom.Width), Height: int(geom.Height)}
	s.poller = newPoller(fps, s.grab, log)

	log.Info().
		Uint32("window_id", uint32(s.win)).
		Stringer("size", s.itemSize).
		Bool("composite", s.compositeEnabled).
		Msg("X11 capture target resolved")
	return s, nil
}

func (s *X11Source) Name() string         { return "x11" }
func (s *X11Source) ItemSize() media.Size { return s.itemSize }
func (s *X11Source) Start() error         { return s.start() }
func (s *X11Source) WindowID() uint32     { return uint32(s.win) }

func (s *X11Source) NextFrame(ctx context.Context) (*media.CaptureFrame, error) {
	return s.next(ctx)
}

// Stop ends capture and closes the X connection.
func (s *X11Source) Stop() error {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// resolveWindow returns win if it can be read directly, otherwise its first
// viewable InputOutput descendant. Window managers reparent clients, so the
// id listed in _NET_CLIENT_LIST is often not the one holding pixels.
func (s *X11Source) resolveWindow(win xproto.Window) (xproto.Window, error) {
	attrs, err := xproto.GetWindowAttributes(s.conn, win).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get window attributes: %w", err)
	}
	if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable {
		return win, nil
	}

	s.log.Debug().
		Uint32("window_id", uint32(win)).
		Msg("Window not directly capturable, searching for child windows")
	child, err := s.findCapturableChild(win)
	if err != nil {
		return 0, fmt.Errorf("no capturable window found: %w", err)
	}
	return child, nil
}

func (s *X11Source) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(s.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(s.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := s.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}
	return 0, errors.New("no capturable child found")
}

// grab reads the window at its current size. The frame's content size
// follows the window when it is resized.
func (s *X11Source) grab() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, media.ErrStreamEnded
	}

	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.win)).Reply()
	if err != nil {
		if windowGone(err) {
			return nil, media.ErrStreamEnded
		}
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	drawable, release := s.drawable()
	defer release()

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		if windowGone(err) {
			return nil, media.ErrStreamEnded
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return bgrxToRGBA(reply.Data, int(geom.Width), int(geom.Height)), nil
}

// drawable returns what to read pixels from and a func releasing it.
func (s *X11Source) drawable() (xproto.Drawable, func()) {
	direct := xproto.Drawable(s.win)
	if !s.compositeEnabled || s.win == s.screen.Root {
		return direct, func() {}
	}

	if err := composite.RedirectWindowChecked(s.conn, s.win, composite.RedirectAutomatic).Check(); err != nil {
		return direct, func() {}
	}
	pixmap, err := xproto.NewPixmapId(s.conn)
	if err != nil {
		composite.UnredirectWindow(s.conn, s.win, composite.RedirectAutomatic)
		return direct, func() {}
	}
	if err := composite.NameWindowPixmapChecked(s.conn, s.win, pixmap).Check(); err != nil {
		composite.UnredirectWindow(s.conn, s.win, composite.RedirectAutomatic)
		return direct, func() {}
	}
	return xproto.Drawable(pixmap), func() {
		xproto.FreePixmap(s.conn, pixmap)
		composite.UnredirectWindow(s.conn, s.win, composite.RedirectAutomatic)
	}
}

func windowGone(err error) bool {
	var winErr xproto.WindowError
	var drawErr xproto.DrawableError
	return errors.As(err, &winErr) || errors.As(err, &drawErr)
}

// bgrxToRGBA converts a 32 bits-per-pixel ZPixmap to RGBA with opaque alpha.
func bgrxToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}
