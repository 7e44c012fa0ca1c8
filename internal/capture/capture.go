// Package capture is the screen-capture side of a broadcast: sample types,
// pixel buffers, and the session loop that drives a Handler the way the
// platform capture service drives a broadcast extension.
package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SampleType discriminates what a delivered sample carries
type SampleType int

const (
	SampleTypeVideo SampleType = iota + 1
	SampleTypeAudioApp
	SampleTypeAudioMic
)

func (t SampleType) String() string {
	switch t {
	case SampleTypeVideo:
		return "video"
	case SampleTypeAudioApp:
		return "audio-app"
	case SampleTypeAudioMic:
		return "audio-mic"
	default:
		return fmt.Sprintf("SampleType(%d)", int(t))
	}
}

// ErrBufferInvalidated is returned when locking a buffer the source has recycled
var ErrBufferInvalidated = errors.New("capture: pixel buffer invalidated")

// PixelBuffer is one captured bitmap. Bytes is only valid between a
// successful LockReadOnly and the matching Unlock.
type PixelBuffer interface {
	LockReadOnly() error
	Unlock()
	Width() int
	Height() int
	Bytes() []byte
}

// Sample is one delivery from the capture source
type Sample struct {
	Pixels    PixelBuffer
	Timestamp time.Time
}

// Handler receives broadcast lifecycle callbacks and samples.
// ProcessSampleBuffer is always called from a single goroutine.
type Handler interface {
	BroadcastStarted(setupInfo map[string]interface{})
	BroadcastPaused()
	BroadcastResumed()
	BroadcastFinished()
	ProcessSampleBuffer(sample Sample, sampleType SampleType)
}

// Host is the capture service as seen by a Handler
type Host interface {
	// FinishBroadcastWithError ends the broadcast and reports err to the user
	FinishBroadcastWithError(err error)
}

// BGRABuffer is a PixelBuffer over packed 32-bit BGRA pixels
type BGRABuffer struct {
	width  int
	height int
	data   []byte

	locks       int32
	invalidated int32
}

// NewBGRABuffer wraps data, which must hold width*height*4 bytes
func NewBGRABuffer(width, height int, data []byte) (*BGRABuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("capture: invalid dimensions %dx%d", width, height)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("capture: %d bytes is too small for %dx%d BGRA", len(data), width, height)
	}
	return &BGRABuffer{width: width, height: height, data: data[:width*height*4]}, nil
}

func (b *BGRABuffer) LockReadOnly() error {
	if atomic.LoadInt32(&b.invalidated) != 0 {
		return ErrBufferInvalidated
	}
	atomic.AddInt32(&b.locks, 1)
	return nil
}

func (b *BGRABuffer) Unlock() {
	atomic.AddInt32(&b.locks, -1)
}

func (b *BGRABuffer) Width() int  { return b.width }
func (b *BGRABuffer) Height() int { return b.height }

func (b *BGRABuffer) Bytes() []byte {
	if atomic.LoadInt32(&b.locks) <= 0 {
		return nil
	}
	return b.data
}

// Invalidate marks the buffer recycled; later locks fail
func (b *BGRABuffer) Invalidate() {
	atomic.StoreInt32(&b.invalidated, 1)
}

// Locked reports whether any lock is outstanding
func (b *BGRABuffer) Locked() bool {
	return atomic.LoadInt32(&b.locks) > 0
}
