package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusRecorder/internal/config"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
	"github.com/bryanchriswhite/FocusRecorder/internal/media"
	"github.com/bryanchriswhite/FocusRecorder/internal/recorder"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// progressInterval is how often the events stream repeats the status while
// a recording runs.
const progressInterval = time.Second

// Recorder is the recording service the API controls.
type Recorder interface {
	Start(ctx context.Context, cfg *config.Config, output string) (*recorder.Recording, error)
	Stop() (recorder.Status, error)
	Status() recorder.Status
	Subscribe() (<-chan recorder.Status, func())
}

// ConfigSource supplies the configuration new recordings start from.
type ConfigSource interface {
	Get() *config.Config
}

// StartRequest overrides configured settings for one recording. Zero
// fields keep the configured value.
type StartRequest struct {
	Output    string `json:"output,omitempty"`
	WindowID  string `json:"window_id,omitempty"`
	Display   *int   `json:"display,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FPS       int    `json:"fps,omitempty"`
	Bitrate   int    `json:"bitrate,omitempty"`
	Container string `json:"container,omitempty"`
}

func (req StartRequest) apply(cfg *config.Config) {
	if req.WindowID != "" {
		cfg.Capture.WindowID = req.WindowID
	}
	if req.Display != nil {
		cfg.Capture.Display = *req.Display
	}
	if req.Width > 0 {
		cfg.Recording.Width = req.Width
	}
	if req.Height > 0 {
		cfg.Recording.Height = req.Height
	}
	if req.FPS > 0 {
		cfg.Recording.FPS = req.FPS
	}
	if req.Bitrate > 0 {
		cfg.Recording.Bitrate = req.Bitrate
	}
	if req.Container != "" {
		cfg.Recording.Container = req.Container
	}
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	recorder  Recorder
	configMgr ConfigSource
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
	log       *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(rec Recorder, configMgr ConfigSource) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		recorder:  rec,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/recording", s.handleGetRecording).Methods("GET")
	api.HandleFunc("/recording/start", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleStopRecording).Methods("POST")
	api.HandleFunc("/recording/events", s.handleRecordingEvents)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps recorder errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *media.ConfigError
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording), errors.Is(err, recorder.ErrNotRecording):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.Status())
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	cfg := s.configMgr.Get()
	req.apply(cfg)
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := s.recorder.Start(r.Context(), cfg, req.Output); err != nil {
		s.log.Warn().Err(err).Msg("Failed to start recording")
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, s.recorder.Status())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	st, err := s.recorder.Stop()
	if err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			writeError(w, http.StatusConflict, err)
			return
		}
		// The file is finalized either way, report what was recorded.
		s.log.Error().Err(err).Msg("Recording finished with errors")
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecordingEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates, cancel := s.recorder.Subscribe()
	defer cancel()

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.recorder.Status()); err != nil {
		return
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			st := s.recorder.Status()
			if !st.Recording {
				continue
			}
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}
