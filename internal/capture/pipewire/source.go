// Package pipewire captures the screen on Wayland desktops through the
// xdg-desktop-portal ScreenCast interface and a GStreamer pipewiresrc.
package pipewire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture/mailbox"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// probeTimeout bounds the wait for a first frame when the portal did not
// report the stream size.
const probeTimeout = 5 * time.Second

// Source records a portal screencast stream.
type Source struct {
	portal   *Portal
	pipeline *Pipeline
	box      *mailbox.Mailbox
	itemSize media.Size

	mu      sync.Mutex
	stopped bool
}

// NewSource runs the portal handshake, asking for a monitor or, when window
// is set, a single window. The stream's size is known when it returns.
func NewSource(ctx context.Context, window bool, fps int) (*Source, error) {
	portal, err := NewPortal()
	if err != nil {
		return nil, fmt.Errorf("failed to create portal: %w", err)
	}

	sourceTypes := uint32(SourceTypeMonitor)
	if window {
		sourceTypes = SourceTypeWindow
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()

	stream, err := portal.Open(ctx, sourceTypes)
	if err != nil {
		portal.Close()
		return nil, fmt.Errorf("failed to start screen share: %w", err)
	}

	box := mailbox.New()
	s := &Source{
		portal:   portal,
		pipeline: NewPipeline(stream.NodeID, fps, box),
		box:      box,
		itemSize: stream.Size,
	}

	if s.itemSize.Empty() {
		if err := s.probe(ctx); err != nil {
			s.Stop()
			return nil, err
		}
	}
	return s, nil
}

// probe starts the pipeline early and takes the size from the first frame,
// which is put back for the session to consume.
func (s *Source) probe(ctx context.Context) error {
	if err := s.pipeline.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	frame, err := s.box.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream size: %w", err)
	}
	s.itemSize = frame.ContentSize
	s.box.Put(frame)

	logger.WithComponent("pipewire").Debug().
		Stringer("size", s.itemSize).
		Msg("Stream size probed from first frame")
	return nil
}

func (s *Source) Name() string         { return "pipewire" }
func (s *Source) ItemSize() media.Size { return s.itemSize }

func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("screen cast already stopped")
	}
	if s.pipeline.Running() {
		return nil
	}
	return s.pipeline.Start()
}

func (s *Source) NextFrame(ctx context.Context) (*media.CaptureFrame, error) {
	return s.box.Next(ctx)
}

// Stop stops the pipeline and closes the portal session.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	err := s.pipeline.Stop()
	s.box.Close()
	if closeErr := s.portal.Close(); err == nil {
		err = closeErr
	}
	return err
}
