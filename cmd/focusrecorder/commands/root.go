package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FocusRecorder/internal/config"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "focusrecorder",
		Short: "FocusRecorder - Record a window or display to a video file",
		Long: `FocusRecorder captures a single window or a whole display, encodes it
and writes it to a video container.

Features:
  • Capture X11 windows, displays, or PipeWire screencasts on Wayland
  • H.264 encoding through GStreamer (VA-API, NVENC or x264)
  • MPEG-TS or Motion-JPEG output
  • Persistent configuration
  • REST API with live recording status and Prometheus metrics`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focusrecorder/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig opens the configuration, binds the command's flags over it
// and initializes logging from the result.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Manager, error) {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	v := configMgr.GetViper()
	bind := func(key, flag string) error {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return nil
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
		return nil
	}
	if err := bind("server_port", "port"); err != nil {
		return nil, err
	}
	if err := bind("log_level", "log-level"); err != nil {
		return nil, err
	}
	for key, flag := range bindings {
		if err := bind(key, flag); err != nil {
			return nil, err
		}
	}

	logger.Init(configMgr.GetLogLevel(), true)
	return configMgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
