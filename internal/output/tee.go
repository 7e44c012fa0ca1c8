package output

import (
	"errors"
	"image"
	"strings"
)

// Tee fans frames out to several outputs
type Tee []Output

// Start starts every output, stopping the ones already started on failure
func (t Tee) Start() error {
	for i, o := range t {
		if err := o.Start(); err != nil {
			for _, started := range t[:i] {
				started.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every output
func (t Tee) Stop() error {
	var errs []error
	for _, o := range t {
		errs = append(errs, o.Stop())
	}
	return errors.Join(errs...)
}

// WriteFrame writes to every running output
func (t Tee) WriteFrame(frame *image.RGBA) error {
	var errs []error
	for _, o := range t {
		if o.IsRunning() {
			errs = append(errs, o.WriteFrame(frame))
		}
	}
	return errors.Join(errs...)
}

// WriteFrameNow bypasses frame caps on outputs that have one
func (t Tee) WriteFrameNow(frame *image.RGBA) error {
	var errs []error
	for _, o := range t {
		if !o.IsRunning() {
			continue
		}
		if now, ok := o.(interface{ WriteFrameNow(*image.RGBA) error }); ok {
			errs = append(errs, now.WriteFrameNow(frame))
		} else {
			errs = append(errs, o.WriteFrame(frame))
		}
	}
	return errors.Join(errs...)
}

// Name joins the output names
func (t Tee) Name() string {
	names := make([]string, len(t))
	for i, o := range t {
		names[i] = o.Name()
	}
	return strings.Join(names, " + ")
}

// IsRunning reports whether any output is running
func (t Tee) IsRunning() bool {
	for _, o := range t {
		if o.IsRunning() {
			return true
		}
	}
	return false
}
