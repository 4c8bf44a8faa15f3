package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FocusRecorder/internal/recorder"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a window or display",
	Long: `Record a window or display until interrupted, until --duration has
elapsed, or until the captured window is closed.

Flags override the configuration file for this recording only.`,
	Example: `  # Record the primary display with the configured settings
  focusrecorder record

  # Record one window for 30 seconds
  focusrecorder record --window 0x3a00007 --duration 30s

  # Record 720p Motion-JPEG to a given file
  focusrecorder record --width 1280 --height 720 --container mjpeg -o demo.mjpeg

  # Burn a caption and the elapsed time into the recording
  focusrecorder record --overlay --caption "build #42"`,
	RunE: runRecord,
}

var (
	recordOutput   string
	recordDuration time.Duration
)

// recordBindings maps configuration keys to record flags.
var recordBindings = map[string]string{
	"capture.window_id":   "window",
	"capture.display":     "display",
	"capture.backend":     "capture",
	"recording.width":     "width",
	"recording.height":    "height",
	"recording.bitrate":   "bitrate",
	"recording.fps":       "fps",
	"recording.container": "container",
	"encoder.backend":     "encoder",
	"encoder.hardware":    "hardware",
	"overlay.enabled":     "overlay",
	"overlay.text":        "caption",
}

func init() {
	rootCmd.AddCommand(recordCmd)

	f := recordCmd.Flags()
	f.StringVarP(&recordOutput, "output", "o", "", "output file (default is a timestamped file in recording.output_dir)")
	f.DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (default is until interrupted)")
	f.StringP("window", "w", "", "X11 window id to record, decimal or 0x hex (default is a whole display)")
	f.Int("display", 0, "index of the display to record")
	f.String("capture", "", "capture backend (auto, x11, screen, pipewire)")
	f.Int("width", 0, "encoded width")
	f.Int("height", 0, "encoded height")
	f.Int("bitrate", 0, "target bitrate in bits per second")
	f.Int("fps", 0, "frames per second")
	f.String("container", "", "container format (ts or mjpeg)")
	f.String("encoder", "", "encoder backend (auto, gstreamer, mjpeg)")
	f.String("hardware", "", "H.264 encoder (auto, vaapi, nvenc, software)")
	f.Bool("overlay", false, "burn the elapsed time and caption into the video")
	f.String("caption", "", "caption text drawn by the overlay")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd, recordBindings)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := recorder.New()
	recording, err := rec.Start(ctx, cfg, recordOutput)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	fmt.Printf("🔴 Recording to %s\n", recording.Output())
	if recordDuration > 0 {
		fmt.Printf("   Stopping after %s, press Ctrl+C to stop early\n", recordDuration)
	} else {
		fmt.Println("   Press Ctrl+C to stop")
	}

	var timeout <-chan time.Time
	if recordDuration > 0 {
		timer := time.NewTimer(recordDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		fmt.Println()
	case <-timeout:
	case <-recording.Done():
		fmt.Println("Capture target is gone, finishing")
	}

	st, err := rec.Stop()
	if errors.Is(err, recorder.ErrNotRecording) {
		<-recording.Done()
		st, err = recording.Status(), recording.Err()
	}
	printSummary(st)
	if err != nil {
		return fmt.Errorf("recording finished with errors: %w", err)
	}
	return nil
}

func printSummary(st recorder.Status) {
	fmt.Printf("✅ Saved %s\n", st.Output)
	if st.Session == nil {
		return
	}
	info := st.Session
	fmt.Printf("   Duration: %s\n", info.Duration.Round(time.Millisecond))
	fmt.Printf("   Size:     %s -> %s (%s)\n", info.InputSize, info.OutputSize, info.Format.Codec)
	fmt.Printf("   Frames:   %s\n", humanize.Comma(int64(info.Stats.FramesGenerated)))
	fmt.Printf("   Written:  %s in %s samples\n",
		humanize.Bytes(info.Stats.BytesWritten),
		humanize.Comma(int64(info.Stats.SamplesWritten)))
}
