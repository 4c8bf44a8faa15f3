package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. FOCUSRECORDER_RECORDING_FPS.
const EnvPrefix = "FOCUSRECORDER"

// Config is the complete configuration.
type Config struct {
	ServerPort int             `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string          `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	Recording  RecordingConfig `json:"recording" yaml:"recording" mapstructure:"recording"`
	Capture    CaptureConfig   `json:"capture" yaml:"capture" mapstructure:"capture"`
	Encoder    EncoderConfig   `json:"encoder" yaml:"encoder" mapstructure:"encoder"`
	Overlay    OverlayConfig   `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
}

// RecordingConfig describes the recorded stream and where it is written.
type RecordingConfig struct {
	Width     int    `json:"width" yaml:"width" mapstructure:"width"`
	Height    int    `json:"height" yaml:"height" mapstructure:"height"`
	Bitrate   int    `json:"bitrate" yaml:"bitrate" mapstructure:"bitrate"`
	FPS       int    `json:"fps" yaml:"fps" mapstructure:"fps"`
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
	Container string `json:"container" yaml:"container" mapstructure:"container"`
}

// CaptureConfig selects the capture backend and target.
type CaptureConfig struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	// WindowID is an X11 window id, decimal or 0x-prefixed hex. Empty
	// captures a whole display.
	WindowID string `json:"window_id" yaml:"window_id" mapstructure:"window_id"`
	Display  int    `json:"display" yaml:"display" mapstructure:"display"`
}

// EncoderConfig selects the encoder implementation.
type EncoderConfig struct {
	Backend     string `json:"backend" yaml:"backend" mapstructure:"backend"`
	Hardware    string `json:"hardware" yaml:"hardware" mapstructure:"hardware"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// OverlayConfig describes the caption burned into recorded frames.
type OverlayConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Text       string  `json:"text" yaml:"text" mapstructure:"text"`
	ShowTime   bool    `json:"show_time" yaml:"show_time" mapstructure:"show_time"`
	X          int     `json:"x" yaml:"x" mapstructure:"x"`
	Y          int     `json:"y" yaml:"y" mapstructure:"y"`
	Opacity    float64 `json:"opacity" yaml:"opacity" mapstructure:"opacity"`
	Background bool    `json:"background" yaml:"background" mapstructure:"background"`
}

var (
	logLevels         = []string{"debug", "info", "warn", "error"}
	containers        = []string{"ts", "mjpeg"}
	captureBackends   = []string{"auto", "x11", "screen", "pipewire"}
	encoderBackends   = []string{"auto", "gstreamer", "mjpeg"}
	encoderHardware   = []string{"auto", "vaapi", "nvenc", "software"}
	errInvalidSetting = errors.New("invalid configuration")
)

// ParseWindowID parses a window id setting. Empty means no window.
func ParseWindowID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q: %w", s, err)
	}
	return uint32(id), nil
}

// Validate reports every out-of-range or unknown setting.
func (c *Config) Validate() error {
	var result *multierror.Error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}

	check(c.ServerPort > 0 && c.ServerPort < 65536, "server_port %d out of range", c.ServerPort)
	check(oneOf(c.LogLevel, logLevels), "log_level %q not one of %v", c.LogLevel, logLevels)

	r := c.Recording
	check(r.Width > 0 && r.Height > 0, "recording size %dx%d must be positive", r.Width, r.Height)
	check(r.Bitrate > 0, "recording.bitrate must be positive")
	check(r.FPS > 0 && r.FPS <= 240, "recording.fps %d out of range", r.FPS)
	check(r.OutputDir != "", "recording.output_dir is empty")
	check(oneOf(r.Container, containers), "recording.container %q not one of %v", r.Container, containers)

	check(oneOf(c.Capture.Backend, captureBackends), "capture.backend %q not one of %v", c.Capture.Backend, captureBackends)
	check(c.Capture.Display >= 0, "capture.display must not be negative")
	if _, err := ParseWindowID(c.Capture.WindowID); err != nil {
		result = multierror.Append(result, err)
	}

	check(oneOf(c.Encoder.Backend, encoderBackends), "encoder.backend %q not one of %v", c.Encoder.Backend, encoderBackends)
	check(oneOf(c.Encoder.Hardware, encoderHardware), "encoder.hardware %q not one of %v", c.Encoder.Hardware, encoderHardware)
	check(c.Encoder.JPEGQuality >= 1 && c.Encoder.JPEGQuality <= 100, "encoder.jpeg_quality %d out of range", c.Encoder.JPEGQuality)

	o := c.Overlay
	check(o.X >= 0 && o.Y >= 0, "overlay position %d,%d must not be negative", o.X, o.Y)
	check(o.Opacity >= 0 && o.Opacity <= 1, "overlay.opacity %g out of range", o.Opacity)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", errInvalidSetting, err)
	}
	return nil
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. A missing file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	actualConfigPath := filepath.Join(homeDir, ".config", "focusrecorder", "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	v := viper.New()
	setDefaults(v, homeDir)
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	log := logger.WithComponent("config")
	if _, err := os.Stat(actualConfigPath); os.IsNotExist(err) {
		log.Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

func setDefaults(v *viper.Viper, homeDir string) {
	v.SetDefault("server_port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("recording.width", 1920)
	v.SetDefault("recording.height", 1080)
	v.SetDefault("recording.bitrate", 8_000_000)
	v.SetDefault("recording.fps", 30)
	v.SetDefault("recording.output_dir", filepath.Join(homeDir, "Videos", "FocusRecorder"))
	v.SetDefault("recording.container", "ts")

	v.SetDefault("capture.backend", "auto")
	v.SetDefault("capture.window_id", "")
	v.SetDefault("capture.display", 0)

	v.SetDefault("encoder.backend", "auto")
	v.SetDefault("encoder.hardware", "auto")
	v.SetDefault("encoder.jpeg_quality", 90)

	v.SetDefault("overlay.enabled", false)
	v.SetDefault("overlay.text", "")
	v.SetDefault("overlay.show_time", true)
	v.SetDefault("overlay.x", 10)
	v.SetDefault("overlay.y", 10)
	v.SetDefault("overlay.opacity", 0.8)
	v.SetDefault("overlay.background", true)
}

// GetViper exposes the underlying viper instance for flag binding and
// key-based access.
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Get returns a copy of the effective configuration: file values with
// environment and bound flag overrides applied.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		logger.WithComponent("config").Warn().Err(err).Msg("Failed to decode config")
	}
	return &cfg
}

// Set stores one value by its dotted key and saves. A value that fails
// validation is rolled back.
func (m *Manager) Set(key string, value interface{}) error {
	m.mu.Lock()
	previous := m.v.Get(key)
	m.v.Set(key, value)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		m.mu.Lock()
		m.v.Set(key, previous)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Save validates the effective configuration and writes it to disk.
func (m *Manager) Save() error {
	cfg := m.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.WithComponent("config")
	log.Debug().Str("path", m.configPath).Msg("Saving config")

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	return m.Get().ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	return m.Get().LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
