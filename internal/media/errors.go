package media

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamEnded is returned by a frame source once it will deliver no
	// more frames. It marks normal termination, not a failure.
	ErrStreamEnded = errors.New("stream ended")

	// ErrUseAfterFinalize is returned when a sample is written to a stream
	// that was already finalized.
	ErrUseAfterFinalize = errors.New("write after finalize")
)

// ConfigError reports an encoder or session parameter that cannot be used.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeviceError reports a failed device operation such as a surface
// allocation or a format conversion.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// SinkError reports a container sink that could not be created, configured
// or written.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s failed: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
