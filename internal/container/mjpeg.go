package container

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// Boundary separates parts of a Motion-JPEG stream.
const Boundary = "frame"

// MJPEG writes JPEG samples as a multipart/x-mixed-replace stream, the
// format browsers and ffmpeg read as Motion-JPEG.
type MJPEG struct {
	mu     sync.Mutex
	dst    io.Writer
	w      *bufio.Writer
	state  streamState
	frames uint64
}

// NewMJPEG writes to w. w is closed by Finalize when it is an io.Closer.
func NewMJPEG(w io.Writer) *MJPEG {
	return &MJPEG{dst: w, w: bufio.NewWriter(w)}
}

func (m *MJPEG) AddStream(format media.StreamFormat) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.add(format, media.CodecMJPEG)
}

func (m *MJPEG) BeginWriting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.begin()
}

func (m *MJPEG) WriteSample(stream int, sample *media.EncodedSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.state.check(stream); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(m.w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Timestamp-Us: %d\r\n\r\n",
		Boundary, len(sample.Data), sample.Timestamp.Microseconds()); err != nil {
		return err
	}
	if _, err := m.w.Write(sample.Data); err != nil {
		return err
	}
	if _, err := m.w.WriteString("\r\n"); err != nil {
		return err
	}
	m.frames++
	return nil
}

// Finalize writes the closing boundary, flushes and closes the destination.
func (m *MJPEG) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.finalized {
		return errFinalized
	}
	m.state.finalized = true

	var err error
	if m.state.begun {
		if _, err = fmt.Fprintf(m.w, "--%s--\r\n", Boundary); err == nil {
			err = m.w.Flush()
		}
	}
	if closeErr := closeWriter(m.dst); err == nil {
		err = closeErr
	}
	return err
}
