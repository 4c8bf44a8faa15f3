package overlay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var errSurface = errors.New("overlay target must be a BGRA device surface")

// Manager draws its widgets, in the order added, onto composed frames.
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
}

// NewManager creates a new overlay manager
func NewManager(widgets ...Widget) *Manager {
	return &Manager{widgets: widgets}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widgets = append(m.widgets, widget)
}

// Len returns the number of widgets.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

// Annotate renders every widget onto s.
func (m *Manager) Annotate(s media.Surface, elapsed time.Duration) error {
	surface, ok := s.(*gpu.Surface)
	if !ok || surface.Format() != media.FormatBGRA {
		return errSurface
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, w := range m.widgets {
		if err := w.Render(surface.RGBA(), elapsed); err != nil {
			return fmt.Errorf("failed to render overlay widget %d: %w", i, err)
		}
	}
	return nil
}
