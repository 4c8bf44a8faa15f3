package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var (
	h264Format  = media.StreamFormat{Codec: media.CodecH264, Size: media.Size{Width: 640, Height: 480}, FrameRate: 30, Bitrate: 1_000_000}
	mjpegFormat = media.StreamFormat{Codec: media.CodecMJPEG, Size: media.Size{Width: 640, Height: 480}, FrameRate: 30, Bitrate: 1_000_000}
)

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" TS ")
	require.NoError(t, err)
	assert.Equal(t, KindTS, k)
	assert.Equal(t, ".ts", k.Extension())
	assert.Equal(t, media.CodecH264, k.Codec())
	assert.Equal(t, media.CodecMJPEG, KindMJPEG.Codec())

	_, err = ParseKind("mp4")
	assert.Error(t, err)
}

func TestMJPEGWritesMultipart(t *testing.T) {
	out := &closeRecorder{}
	sink := NewMJPEG(out)

	stream, err := sink.AddStream(mjpegFormat)
	require.NoError(t, err)
	require.NoError(t, sink.BeginWriting())

	frames := [][]byte{[]byte("first"), []byte("second frame")}
	for i, f := range frames {
		require.NoError(t, sink.WriteSample(stream, &media.EncodedSample{Data: f, Timestamp: time.Duration(i) * time.Second}))
	}
	require.NoError(t, sink.Finalize())
	assert.Equal(t, 1, out.closed)

	r := multipart.NewReader(bytes.NewReader(out.Bytes()), Boundary)
	for i, want := range frames {
		part, err := r.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		got, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, want, got, "part %d", i)
	}
	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSinkLifecycleErrors(t *testing.T) {
	sinks := map[string]struct {
		sink interface {
			AddStream(media.StreamFormat) (int, error)
			BeginWriting() error
			WriteSample(int, *media.EncodedSample) error
			Finalize() error
		}
		format media.StreamFormat
		wrong  media.StreamFormat
	}{
		"ts":    {NewTS(&bytes.Buffer{}), h264Format, mjpegFormat},
		"mjpeg": {NewMJPEG(&bytes.Buffer{}), mjpegFormat, h264Format},
	}
	for name, tt := range sinks {
		t.Run(name, func(t *testing.T) {
			var sinkErr *media.SinkError
			_, err := tt.sink.AddStream(tt.wrong)
			assert.ErrorAs(t, err, &sinkErr)

			assert.ErrorIs(t, tt.sink.BeginWriting(), errNoStream)

			_, err = tt.sink.AddStream(tt.format)
			require.NoError(t, err)
			_, err = tt.sink.AddStream(tt.format)
			assert.ErrorAs(t, err, &sinkErr)

			assert.ErrorIs(t, tt.sink.WriteSample(0, &media.EncodedSample{}), errNotStarted)
			require.NoError(t, tt.sink.BeginWriting())
			assert.Error(t, tt.sink.WriteSample(1, &media.EncodedSample{}))

			require.NoError(t, tt.sink.Finalize())
			assert.ErrorIs(t, tt.sink.Finalize(), errFinalized)
			assert.ErrorIs(t, tt.sink.WriteSample(0, &media.EncodedSample{}), errFinalized)
		})
	}
}

func TestTSWritesPackets(t *testing.T) {
	out := &closeRecorder{}
	sink := NewTS(out)

	stream, err := sink.AddStream(h264Format)
	require.NoError(t, err)
	require.NoError(t, sink.BeginWriting())

	idr := append([]byte{0, 0, 0, 1, 0x65}, bytes.Repeat([]byte{0xab}, 400)...)
	require.NoError(t, sink.WriteSample(stream, &media.EncodedSample{Data: idr, KeyFrame: true}))
	require.NoError(t, sink.WriteSample(stream, &media.EncodedSample{Data: []byte{0, 0, 0, 1, 0x41, 1, 2, 3}, Timestamp: time.Second}))
	require.NoError(t, sink.Finalize())
	assert.Equal(t, 1, out.closed)

	data := out.Bytes()
	require.NotEmpty(t, data)
	require.Zero(t, len(data)%188)
	for i := 0; i < len(data); i += 188 {
		assert.Equal(t, byte(0x47), data[i], "packet %d has no sync byte", i/188)
	}

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data))
	var ptses, pcrs []int64
	for {
		d, err := dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			break
		}
		require.NoError(t, err)
		if d.PES != nil && d.PID == videoPID {
			ptses = append(ptses, d.PES.Header.OptionalHeader.PTS.Base)
			if af := d.FirstPacket.AdaptationField; af != nil && af.HasPCR {
				pcrs = append(pcrs, af.PCR.Base)
			}
		}
	}
	require.Len(t, ptses, 2)
	require.Len(t, pcrs, 2)
	assert.Equal(t, clock90k(ptsOffset), ptses[0])
	assert.Equal(t, []int64{0, 90000}, pcrs)
	for i := range ptses {
		assert.Equal(t, clock90k(ptsOffset), ptses[i]-pcrs[i], "sample %d", i)
	}
}

func TestClock90k(t *testing.T) {
	assert.Equal(t, int64(90000), clock90k(time.Second))
	assert.Equal(t, int64(3600), clock90k(40*time.Millisecond))
	assert.Equal(t, int64(90000*3600*10), clock90k(10*time.Hour))
}
