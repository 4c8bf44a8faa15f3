package pipewire

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture/mailbox"
	"github.com/bryanchriswhite/FocusRecorder/internal/gpu"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
)

var gstInit sync.Once

func pipelineDescription(nodeID uint32, fps int) string {
	return fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videorate ! video/x-raw,framerate=%d/1 ! "+
			"videoconvert ! video/x-raw,format=RGBA ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true sync=false",
		nodeID, fps,
	)
}

// Pipeline reads a PipeWire node through GStreamer and posts every decoded
// frame to a mailbox. Samples are pulled on a goroutine rather than through
// appsink signals to keep callbacks out of cgo.
type Pipeline struct {
	nodeID uint32
	fps    int
	box    *mailbox.Mailbox
	log    *zerolog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewPipeline prepares a pipeline for a portal stream node.
func NewPipeline(nodeID uint32, fps int, box *mailbox.Mailbox) *Pipeline {
	if fps <= 0 {
		fps = 30
	}
	return &Pipeline{
		nodeID: nodeID,
		fps:    fps,
		box:    box,
		log:    logger.WithComponent("pipewire"),
	}
}

// Start builds the pipeline and starts pulling samples.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already running")
	}
	gstInit.Do(func() { gst.Init(nil) })

	desc := pipelineDescription(p.nodeID, p.fps)
	p.log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		return fmt.Errorf("failed to get appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	p.pipeline = pipeline
	p.appsink = app.SinkFromElement(sinkElement)
	p.running = true
	p.quit = make(chan struct{})

	p.wg.Add(1)
	go p.pullSamples(p.appsink, p.quit)

	p.log.Info().Uint32("node_id", p.nodeID).Msg("GStreamer pipeline started")
	return nil
}

// Running reports whether the pipeline was started and not stopped.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop stops pulling and tears the pipeline down.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		p.log.Warn().Err(err).Msg("Failed to stop pipeline")
	}
	p.pipeline.Unref()
	p.pipeline = nil
	p.appsink = nil

	p.log.Info().Msg("GStreamer pipeline stopped")
	return nil
}

func (p *Pipeline) pullSamples(appsink *app.Sink, quit <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-quit:
			return
		default:
		}

		// go-gst releases samples itself; calling Unref here double-frees.
		sample := appsink.TryPullSample(20 * time.Millisecond)
		if sample == nil {
			if appsink.IsEOS() {
				p.log.Info().Msg("Screen cast ended")
				p.box.Close()
				return
			}
			continue
		}

		if frame := p.toFrame(sample); frame != nil {
			p.box.Put(frame)
		}
	}
}

func (p *Pipeline) toFrame(sample *gst.Sample) *media.CaptureFrame {
	buffer := sample.GetBuffer()
	caps := sample.GetCaps()
	if buffer == nil || caps == nil {
		return nil
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return nil
	}
	h, ok := height.(int)
	if !ok {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < w*h*4 {
		p.log.Debug().Int("bytes", len(data)).Int("width", w).Int("height", h).Msg("Short buffer dropped")
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[:w*h*4])

	return &media.CaptureFrame{
		Surface:     gpu.NewBGRASurface(img),
		ContentSize: media.Size{Width: w, Height: h},
		Timestamp:   mailbox.Now(),
	}
}
