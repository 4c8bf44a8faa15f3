package pipewire

import (
	"path/filepath"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

func TestParseResponse(t *testing.T) {
	results, err := parseResponse([]interface{}{
		uint32(0),
		map[string]dbus.Variant{"session_handle": dbus.MakeVariant("/org/freedesktop/portal/desktop/session/1_1/x")},
	})
	require.NoError(t, err)
	assert.Contains(t, results, "session_handle")

	_, err = parseResponse([]interface{}{uint32(1), map[string]dbus.Variant{}})
	assert.ErrorIs(t, err, errDenied)

	_, err = parseResponse(nil)
	assert.Error(t, err)

	results, err = parseResponse([]interface{}{uint32(0)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParseStreams(t *testing.T) {
	props := map[string]dbus.Variant{
		"size":     dbus.MakeVariant([]interface{}{int32(2560), int32(1440)}),
		"position": dbus.MakeVariant([]interface{}{int32(0), int32(0)}),
	}

	stream, err := parseStreams([][]interface{}{{uint32(42), props}})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), stream.NodeID)
	assert.Equal(t, media.Size{Width: 2560, Height: 1440}, stream.Size)

	stream, err = parseStreams([]interface{}{[]interface{}{uint32(7)}})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), stream.NodeID)
	assert.True(t, stream.Size.Empty())

	_, err = parseStreams(nil)
	assert.Error(t, err)
	_, err = parseStreams([][]interface{}{{"not a node"}})
	assert.Error(t, err)
}

func TestRestoreTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focusrecorder", "portal_token")
	assert.Empty(t, loadRestoreToken(path))

	require.NoError(t, saveRestoreToken(path, "abc-123"))
	assert.Equal(t, "abc-123", loadRestoreToken(path))
}

func TestPipelineDescription(t *testing.T) {
	desc := pipelineDescription(42, 24)
	assert.Contains(t, desc, "pipewiresrc path=42")
	assert.Contains(t, desc, "framerate=24/1")
	assert.Contains(t, desc, "appsink name=sink")
}
