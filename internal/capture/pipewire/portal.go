package pipewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
)

const (
	cursorModeEmbedded = 1 << 1
	persistModeSession = 2
)

// Stream is a screencast stream granted by the portal.
type Stream struct {
	NodeID uint32
	// Size is the stream's size as reported by the portal, empty when the
	// compositor did not report one.
	Size media.Size
}

// Portal drives the xdg-desktop-portal ScreenCast handshake over D-Bus.
type Portal struct {
	conn      *dbus.Conn
	tokenPath string
	log       *zerolog.Logger

	mu            sync.Mutex
	sessionHandle dbus.ObjectPath
	restoreToken  string
	requests      int
}

// NewPortal connects to the session bus and loads any saved restore token.
func NewPortal() (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}

	p := &Portal{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "focusrecorder", "portal_token"),
		log:       logger.WithComponent("portal"),
	}
	p.restoreToken = loadRestoreToken(p.tokenPath)
	return p, nil
}

// Close ends the screencast session and the bus connection.
func (p *Portal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionHandle != "" {
		p.conn.Object(portalService, p.sessionHandle).Call(sessionIface+".Close", 0)
		p.sessionHandle = ""
	}
	return p.conn.Close()
}

// Open runs CreateSession, SelectSources and Start. The user may be shown a
// picker; a saved restore token skips it.
func (p *Portal) Open(ctx context.Context, sourceTypes uint32) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.request(ctx, "CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(p.token("session")),
	})
	if err != nil {
		return Stream{}, fmt.Errorf("failed to create session: %w", err)
	}
	switch v := results["session_handle"].Value().(type) {
	case dbus.ObjectPath:
		p.sessionHandle = v
	case string:
		p.sessionHandle = dbus.ObjectPath(v)
	default:
		return Stream{}, fmt.Errorf("unexpected session_handle type: %T", v)
	}
	p.log.Debug().Str("session", string(p.sessionHandle)).Msg("Created portal session")

	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(sourceTypes),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(cursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(persistModeSession)),
	}
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
	}
	if _, err := p.request(ctx, "SelectSources", options, p.sessionHandle); err != nil {
		return Stream{}, fmt.Errorf("failed to select sources: %w", err)
	}

	results, err = p.request(ctx, "Start", map[string]dbus.Variant{}, p.sessionHandle, "")
	if err != nil {
		return Stream{}, fmt.Errorf("failed to start session: %w", err)
	}

	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok {
			p.restoreToken = token
			if err := saveRestoreToken(p.tokenPath, token); err != nil {
				p.log.Warn().Err(err).Msg("Failed to save restore token")
			}
		}
	}

	stream, err := parseStreams(results["streams"].Value())
	if err != nil {
		return Stream{}, err
	}
	p.log.Info().
		Uint32("node_id", stream.NodeID).
		Stringer("size", stream.Size).
		Msg("Screen cast started")
	return stream, nil
}

func (p *Portal) token(prefix string) string {
	p.requests++
	return fmt.Sprintf("focusrecorder_%s_%d_%d", prefix, os.Getpid(), p.requests)
}

// request calls a ScreenCast method and waits for its Request.Response
// signal. args precede the options map in the call.
func (p *Portal) request(ctx context.Context, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	options["handle_token"] = dbus.MakeVariant(p.token(method))

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		p.log.Warn().Err(err).Msg("Failed to add match rule")
	}

	// Subscribe before the call so a fast response is not missed.
	responses := make(chan *dbus.Signal, 10)
	p.conn.Signal(responses)
	defer p.conn.RemoveSignal(responses)

	var requestPath dbus.ObjectPath
	call := p.conn.Object(portalService, portalPath).Call(screenCastIface+"."+method, 0, append(args, options)...)
	if err := call.Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	p.log.Info().Str("request_path", string(requestPath)).Msgf("Waiting for %s response (portal dialog may appear)", method)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
		case sig := <-responses:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			return parseResponse(sig.Body)
		}
	}
}

var errDenied = errors.New("portal request denied")

func parseResponse(body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 1 {
		return nil, errors.New("invalid response")
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected response code type %T", body[0])
	}
	if code != 0 {
		return nil, fmt.Errorf("%w (code %d)", errDenied, code)
	}
	results := map[string]dbus.Variant{}
	if len(body) > 1 {
		if m, ok := body[1].(map[string]dbus.Variant); ok {
			results = m
		}
	}
	return results, nil
}

// parseStreams reads the first entry of the a(ua{sv}) streams result.
func parseStreams(value interface{}) (Stream, error) {
	var first []interface{}
	switch v := value.(type) {
	case [][]interface{}:
		if len(v) > 0 {
			first = v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			first, _ = v[0].([]interface{})
		}
	}
	if len(first) == 0 {
		return Stream{}, errors.New("no streams in response")
	}

	nodeID, ok := first[0].(uint32)
	if !ok {
		return Stream{}, fmt.Errorf("unexpected node id type %T", first[0])
	}
	stream := Stream{NodeID: nodeID}

	if len(first) > 1 {
		if props, ok := first[1].(map[string]dbus.Variant); ok {
			if size, ok := props["size"].Value().([]interface{}); ok && len(size) == 2 {
				w, _ := size[0].(int32)
				h, _ := size[1].(int32)
				stream.Size = media.Size{Width: int(w), Height: int(h)}
			}
		}
	}
	return stream, nil
}

type restoreToken struct {
	Token string `json:"token"`
}

func loadRestoreToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var t restoreToken
	if err := json.Unmarshal(data, &t); err != nil {
		return ""
	}
	return t.Token
}

func saveRestoreToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(restoreToken{Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// DefaultHandshakeTimeout bounds the whole portal handshake, picker included.
const DefaultHandshakeTimeout = 90 * time.Second
