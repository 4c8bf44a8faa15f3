package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/asticode/go-astits"

	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

const (
	videoPID      uint16 = 0x100
	videoStreamID uint8  = 0xe0

	// ptsOffset is how far the PTS leads the PCR, the decoder's buffering
	// margin.
	ptsOffset = 100 * time.Millisecond
)

// TS writes an H.264 elementary stream into MPEG transport stream packets.
// The stream needs no index, so a recording cut short is still playable.
type TS struct {
	mu    sync.Mutex
	dst   io.Writer
	w     *bufio.Writer
	muxer *astits.Muxer
	state streamState
}

// NewTS writes to w. w is closed by Finalize when it is an io.Closer.
func NewTS(w io.Writer) *TS {
	bw := bufio.NewWriter(w)
	return &TS{
		dst:   w,
		w:     bw,
		muxer: astits.NewMuxer(context.Background(), bw),
	}
}

func (t *TS) AddStream(format media.StreamFormat) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stream, err := t.state.add(format, media.CodecH264)
	if err != nil {
		return 0, err
	}
	if err := t.muxer.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		t.state.declared = false
		return 0, &media.SinkError{Op: "add stream", Err: err}
	}
	t.muxer.SetPCRPID(videoPID)
	return stream, nil
}

func (t *TS) BeginWriting() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.state.begin(); err != nil {
		return err
	}
	if _, err := t.muxer.WriteTables(); err != nil {
		return fmt.Errorf("failed to write PAT/PMT: %w", err)
	}
	return nil
}

func (t *TS) WriteSample(stream int, sample *media.EncodedSample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.state.check(stream); err != nil {
		return err
	}
	pcr := clock90k(sample.Timestamp)
	pts := clock90k(sample.Timestamp + ptsOffset)
	_, err := t.muxer.WriteData(&astits.MuxerData{
		PID: videoPID,
		AdaptationField: &astits.PacketAdaptationField{
			RandomAccessIndicator: sample.KeyFrame,
			HasPCR:                true,
			PCR:                   &astits.ClockReference{Base: pcr},
		},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: pts},
				},
				StreamID: videoStreamID,
			},
			Data: sample.Data,
		},
	})
	return err
}

// Finalize flushes buffered packets and closes the destination.
func (t *TS) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.finalized {
		return errFinalized
	}
	t.state.finalized = true

	err := t.w.Flush()
	if closeErr := closeWriter(t.dst); err == nil {
		err = closeErr
	}
	return err
}

// clock90k converts a duration to the 90 kHz MPEG system clock.
func clock90k(d time.Duration) int64 {
	sec, rem := int64(d/time.Second), int64(d%time.Second)
	return sec*90000 + rem*90000/int64(time.Second)
}
