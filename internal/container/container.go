// Package container writes encoded samples into file formats.
package container

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

// Kind names a container format.
type Kind string

const (
	KindTS    Kind = "ts"
	KindMJPEG Kind = "mjpeg"
)

var (
	errSingleStream = errors.New("container holds exactly one stream")
	errNoStream     = errors.New("no stream declared")
	errNotStarted   = errors.New("writing has not begun")
	errFinalized    = errors.New("container already finalized")
)

// ParseKind validates a container name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTS, KindMJPEG:
		return k, nil
	default:
		return "", fmt.Errorf("unknown container %q (want ts or mjpeg)", s)
	}
}

// Extension is the file name extension for the format, with the dot.
func (k Kind) Extension() string {
	return "." + string(k)
}

// Codec is the only codec the format can carry.
func (k Kind) Codec() media.Codec {
	if k == KindMJPEG {
		return media.CodecMJPEG
	}
	return media.CodecH264
}

// closeWriter closes w if it is an io.Closer.
func closeWriter(w io.Writer) error {
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// streamState tracks the single stream and write phase every container
// shares.
type streamState struct {
	declared  bool
	format    media.StreamFormat
	begun     bool
	finalized bool
}

func (s *streamState) add(format media.StreamFormat, want media.Codec) (int, error) {
	if s.declared {
		return 0, &media.SinkError{Op: "add stream", Err: errSingleStream}
	}
	if format.Codec != want {
		return 0, &media.SinkError{
			Op:  "add stream",
			Err: fmt.Errorf("codec %s not supported, container carries %s", format.Codec, want),
		}
	}
	s.declared = true
	s.format = format
	return 0, nil
}

func (s *streamState) begin() error {
	switch {
	case !s.declared:
		return errNoStream
	case s.finalized:
		return errFinalized
	}
	s.begun = true
	return nil
}

func (s *streamState) check(stream int) error {
	switch {
	case s.finalized:
		return errFinalized
	case !s.begun:
		return errNotStarted
	case stream != 0:
		return fmt.Errorf("unknown stream %d", stream)
	}
	return nil
}
