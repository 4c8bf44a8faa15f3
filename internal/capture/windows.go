package capture

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/kbinani/screenshot"

	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
)

// WindowInfo describes a top-level X11 window that can be recorded.
type WindowInfo struct {
	ID     uint32 `json:"id"`
	Title  string `json:"title"`
	Class  string `json:"class"`
	PID    int    `json:"pid,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DisplayInfo describes an active display the screen backend can record.
type DisplayInfo struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ListDisplays returns the active displays.
func ListDisplays() []DisplayInfo {
	n := screenshot.NumActiveDisplays()
	displays := make([]DisplayInfo, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		displays = append(displays, DisplayInfo{
			Index:  i,
			X:      b.Min.X,
			Y:      b.Min.Y,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return displays
}

// ListWindows returns the client windows the window manager advertises in
// _NET_CLIENT_LIST, falling back to the root window's children.
func ListWindows() ([]WindowInfo, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	l := &windowLister{conn: conn, root: xproto.Setup(conn).DefaultScreen(conn).Root}
	log := logger.WithComponent("x11-windows")

	ids, err := l.clientList()
	if err != nil || len(ids) == 0 {
		log.Debug().Err(err).Msg("EWMH client list unavailable, falling back to QueryTree")
		tree, err := xproto.QueryTree(conn, l.root).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to query window tree: %w", err)
		}
		ids = tree.Children
	}

	windows := make([]WindowInfo, 0, len(ids))
	for _, id := range ids {
		info, err := l.info(id)
		if err != nil {
			continue
		}
		if info.Title == "" && info.Class == "" {
			continue
		}
		windows = append(windows, info)
	}
	log.Debug().Int("count", len(windows)).Msg("Listed windows")
	return windows, nil
}

type windowLister struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

func (l *windowLister) clientList() ([]xproto.Window, error) {
	value, err := l.property(l.root, "_NET_CLIENT_LIST", xproto.GetPropertyTypeAny)
	if err != nil {
		return nil, err
	}
	ids := make([]xproto.Window, 0, len(value)/4)
	for i := 0; i+4 <= len(value); i += 4 {
		ids = append(ids, xproto.Window(le32(value[i:])))
	}
	return ids, nil
}

func (l *windowLister) info(win xproto.Window) (WindowInfo, error) {
	geom, err := xproto.GetGeometry(l.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return WindowInfo{}, err
	}
	info := WindowInfo{
		ID:     uint32(win),
		X:      int(geom.X),
		Y:      int(geom.Y),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}

	if title, err := l.property(win, "_NET_WM_NAME", xproto.GetPropertyTypeAny); err == nil {
		info.Title = string(title)
	}
	if info.Title == "" {
		if title, err := l.property(win, "WM_NAME", xproto.GetPropertyTypeAny); err == nil {
			info.Title = string(title)
		}
	}

	// WM_CLASS is instance\0class\0.
	if raw, err := l.property(win, "WM_CLASS", xproto.GetPropertyTypeAny); err == nil {
		parts := strings.Split(string(raw), "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.Class = parts[1]
		} else if parts[0] != "" {
			info.Class = parts[0]
		}
	}

	if pid, err := l.property(win, "_NET_WM_PID", xproto.AtomCardinal); err == nil && len(pid) >= 4 {
		info.PID = int(le32(pid))
	}
	return info, nil
}

func (l *windowLister) atom(name string) (xproto.Atom, error) {
	if a, ok := l.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(l.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	if l.atoms == nil {
		l.atoms = make(map[string]xproto.Atom)
	}
	l.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (l *windowLister) property(win xproto.Window, name string, typ xproto.Atom) ([]byte, error) {
	atom, err := l.atom(name)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(l.conn, false, win, atom, typ, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, err
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("property %s is empty", name)
	}
	return reply.Value, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
