package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"

	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/session"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 90

// MJPEG encodes every input sample as an independent JPEG image.
type MJPEG struct {
	*runner
	format  media.StreamFormat
	quality int
}

// NewMJPEG negotiates a Motion-JPEG encoder. Bitrate is advisory only.
func NewMJPEG(cfg session.EncoderConfig, quality int) (*MJPEG, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if quality > 100 {
		return nil, &media.ConfigError{Field: "jpeg quality", Reason: fmt.Sprintf("%d is above 100", quality)}
	}
	return &MJPEG{
		runner: newRunner(logger.WithComponent("mjpeg-encoder")),
		format: media.StreamFormat{
			Codec:     media.CodecMJPEG,
			Size:      cfg.Size,
			FrameRate: cfg.FrameRate,
			Bitrate:   cfg.Bitrate,
		},
		quality: quality,
	}, nil
}

func (e *MJPEG) OutputFormat() media.StreamFormat { return e.format }

func (e *MJPEG) TryStart() (bool, error) {
	return e.start(func(g *errgroup.Group, _, feedCtx context.Context) error {
		g.Go(func() error { return e.encodeLoop(feedCtx) })
		return nil
	})
}

func (e *MJPEG) Stop() error {
	_, err := e.stop()
	return err
}

func (e *MJPEG) encodeLoop(ctx context.Context) error {
	var buf bytes.Buffer
	for {
		sample, ok := e.producer.Generate(ctx)
		if !ok {
			e.log.Debug().Msg("Producer ended, encoder drained")
			return nil
		}

		data, err := e.encode(&buf, sample)
		if err != nil {
			return err
		}
		err = e.deliver(&media.EncodedSample{
			Data:      data,
			Timestamp: sample.Timestamp,
			Duration:  e.format.FrameDuration(),
			KeyFrame:  true,
		})
		if err != nil {
			return err
		}
	}
}

var errNotNV12 = errors.New("encoder input must be an NV12 device surface")

func (e *MJPEG) encode(buf *bytes.Buffer, sample *media.EncoderInputSample) ([]byte, error) {
	s, ok := sample.Surface.(*gpu.Surface)
	if !ok || s.Format() != media.FormatNV12 {
		return nil, errNotNV12
	}
	buf.Reset()
	if err := jpeg.Encode(buf, s.YCbCr(), &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func validate(cfg session.EncoderConfig) error {
	switch {
	case cfg.Size.Empty():
		return &media.ConfigError{Field: "encoder size", Reason: fmt.Sprintf("%s has no area", cfg.Size)}
	case cfg.Size.Width%2 != 0 || cfg.Size.Height%2 != 0:
		return &media.ConfigError{Field: "encoder size", Reason: fmt.Sprintf("%s is not even", cfg.Size)}
	case cfg.Bitrate <= 0:
		return &media.ConfigError{Field: "bitrate", Reason: "must be positive"}
	case cfg.FrameRate <= 0:
		return &media.ConfigError{Field: "frame rate", Reason: "must be positive"}
	}
	return nil
}
