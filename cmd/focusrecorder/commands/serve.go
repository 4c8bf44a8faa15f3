package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FocusRecorder/internal/api"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/recorder"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FocusRecorder control server",
	Long: `Start the FocusRecorder HTTP server.

The server exposes a REST API to start and stop recordings, a WebSocket
stream of recording status and Prometheus metrics at /metrics.`,
	Example: `  # Start server on default port (8080)
  focusrecorder serve

  # Start server on custom port
  focusrecorder serve --port 9090

  # Start a recording through the API
  curl -X POST localhost:8080/api/recording/start -d '{"window_id":"0x3a00007"}'`,
	RunE: runServe,
}

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	rec := recorder.New()
	server := api.NewServer(rec, configMgr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	fmt.Println("✅ FocusRecorder is running!")
	fmt.Printf("   - API: http://localhost:%d/api\n", cfg.ServerPort)
	fmt.Printf("   - Metrics: http://localhost:%d/metrics\n", cfg.ServerPort)
	fmt.Println("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case err := <-errCh:
		if err != nil {
			rec.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	return rec.Close()
}
