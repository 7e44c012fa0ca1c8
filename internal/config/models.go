package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
)

// ErrNoContainer means the shared container directory does not exist
var ErrNoContainer = errors.New("shared container not found")

// Config is the configuration shared by the extension and host commands
type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Locale    string          `json:"locale" yaml:"locale"`
	SignalBus string          `json:"signal_bus" yaml:"signal_bus"`
	Container ContainerConfig `json:"container" yaml:"container"`
	Extension ExtensionConfig `json:"extension" yaml:"extension"`
	Host      HostConfig      `json:"host" yaml:"host"`
}

// ContainerConfig locates the directory both processes can reach and the
// socket file inside it
type ContainerConfig struct {
	// Root defaults to $XDG_RUNTIME_DIR, then the system temp dir
	Root       string `json:"root" yaml:"root"`
	AppGroupID string `json:"app_group_id" yaml:"app_group_id"`
	SocketName string `json:"socket_name" yaml:"socket_name"`
}

// ExtensionConfig tunes the capture side
type ExtensionConfig struct {
	Source          string         `json:"source" yaml:"source"`
	FPS             int            `json:"fps" yaml:"fps"`
	Region          capture.Region `json:"region" yaml:"region"`
	PatternWidth    int            `json:"pattern_width" yaml:"pattern_width"`
	PatternHeight   int            `json:"pattern_height" yaml:"pattern_height"`
	RetryInterval   time.Duration  `json:"retry_interval" yaml:"retry_interval"`
	RetryTolerance  time.Duration  `json:"retry_tolerance" yaml:"retry_tolerance"`
	DialTimeout     time.Duration  `json:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout    time.Duration  `json:"write_timeout" yaml:"write_timeout"`
	MaxPendingBytes int            `json:"max_pending_bytes" yaml:"max_pending_bytes"`
}

// HostConfig tunes the receiving side
type HostConfig struct {
	ServerPort  int `json:"server_port" yaml:"server_port"`
	PreviewFPS  int `json:"preview_fps" yaml:"preview_fps"`
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`

	// Window shows received frames in a local X11 window as well
	Window       bool `json:"window" yaml:"window"`
	WindowWidth  int  `json:"window_width" yaml:"window_width"`
	WindowHeight int  `json:"window_height" yaml:"window_height"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		Locale:    "en",
		SignalBus: "session",
		Container: ContainerConfig{
			AppGroupID: "group.org.screenrelay",
			SocketName: "rtc_SSFD",
		},
		Extension: ExtensionConfig{
			Source:          "x11",
			FPS:             30,
			PatternWidth:    640,
			PatternHeight:   360,
			RetryInterval:   100 * time.Millisecond,
			RetryTolerance:  100 * time.Millisecond,
			DialTimeout:     250 * time.Millisecond,
			WriteTimeout:    50 * time.Millisecond,
			MaxPendingBytes: 32 << 20,
		},
		Host: HostConfig{
			ServerPort:   8080,
			PreviewFPS:   10,
			JPEGQuality:  80,
			WindowWidth:  960,
			WindowHeight: 540,
		},
	}
}

// Validate checks values the commands cannot run with
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", c.LogLevel)
	}
	switch c.SignalBus {
	case "session", "system":
	default:
		return fmt.Errorf("invalid signal bus: %s (use: session or system)", c.SignalBus)
	}
	switch c.Extension.Source {
	case "x11", "pattern":
	default:
		return fmt.Errorf("invalid capture source: %s (use: x11 or pattern)", c.Extension.Source)
	}
	if c.Container.AppGroupID == "" || c.Container.SocketName == "" {
		return fmt.Errorf("container app_group_id and socket_name must be set")
	}
	if c.Extension.FPS <= 0 {
		return fmt.Errorf("invalid fps: %d", c.Extension.FPS)
	}
	if c.Extension.RetryInterval <= 0 {
		return fmt.Errorf("invalid retry interval: %v", c.Extension.RetryInterval)
	}
	if c.Extension.RetryTolerance < 0 {
		return fmt.Errorf("invalid retry tolerance: %v", c.Extension.RetryTolerance)
	}
	if c.Host.ServerPort <= 0 || c.Host.ServerPort > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Host.ServerPort)
	}
	if c.Host.JPEGQuality < 1 || c.Host.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (1-100)", c.Host.JPEGQuality)
	}
	if c.Host.Window && (c.Host.WindowWidth <= 0 || c.Host.WindowHeight <= 0) {
		return fmt.Errorf("invalid window size: %dx%d", c.Host.WindowWidth, c.Host.WindowHeight)
	}
	return nil
}

// RootDir resolves the container root
func (c ContainerConfig) RootDir() string {
	if c.Root != "" {
		return c.Root
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// Dir is the shared container directory for the app group
func (c ContainerConfig) Dir() string {
	return filepath.Join(c.RootDir(), c.AppGroupID)
}

// SocketPath derives the rendezvous path. Both processes must resolve the
// same path; the container must already exist.
func (c ContainerConfig) SocketPath() (string, error) {
	dir := c.Dir()
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoContainer, dir)
		}
		return "", fmt.Errorf("failed to stat shared container: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNoContainer, dir)
	}
	return filepath.Join(dir, c.SocketName), nil
}

// EnsureDir creates the shared container, private to the current user
func (c ContainerConfig) EnsureDir() error {
	if err := os.MkdirAll(c.Dir(), 0700); err != nil {
		return fmt.Errorf("failed to create shared container: %w", err)
	}
	return nil
}
