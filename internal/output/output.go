package output

import (
	"image"
)

// Output is a sink for frames received from the extension
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame hands one decoded frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for outputs
type Config struct {
	// FPS caps how often frames are forwarded; extra frames are skipped
	FPS     int
	Quality int
}
