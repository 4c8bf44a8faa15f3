package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		env  map[string]string
		want []Backend
	}{
		{
			name: "explicit backend",
			opts: Options{Backend: BackendScreen, WindowID: 5},
			want: []Backend{BackendScreen},
		},
		{
			name: "window on x11",
			opts: Options{Backend: BackendAuto, WindowID: 0x3a00007},
			env:  map[string]string{"DISPLAY": ":0"},
			want: []Backend{BackendX11},
		},
		{
			name: "window on wayland with xwayland",
			opts: Options{WindowID: 0x3a00007},
			env:  map[string]string{"DISPLAY": ":0", "WAYLAND_DISPLAY": "wayland-0"},
			want: []Backend{BackendX11, BackendPipeWire},
		},
		{
			name: "screen on wayland",
			opts: Options{Backend: BackendAuto},
			env:  map[string]string{"XDG_SESSION_TYPE": "wayland", "DISPLAY": ":0"},
			want: []Backend{BackendPipeWire, BackendScreen},
		},
		{
			name: "screen on x11",
			opts: Options{},
			env:  map[string]string{"DISPLAY": ":1"},
			want: []Backend{BackendScreen, BackendX11},
		},
		{
			name: "headless",
			opts: Options{},
			want: []Backend{BackendScreen},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidates(tt.opts, env(tt.env)))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "dxgi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoBackend)
}
