package output

import (
	"errors"
	"image"
	"testing"
)

type stubOutput struct {
	name     string
	running  bool
	startErr error
	frames   int
	now      int
}

func (s *stubOutput) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}
func (s *stubOutput) Stop() error                     { s.running = false; return nil }
func (s *stubOutput) WriteFrame(*image.RGBA) error    { s.frames++; return nil }
func (s *stubOutput) WriteFrameNow(*image.RGBA) error { s.now++; return nil }
func (s *stubOutput) Name() string                    { return s.name }
func (s *stubOutput) IsRunning() bool                 { return s.running }

func TestTeeFansOut(t *testing.T) {
	a, b := &stubOutput{name: "a"}, &stubOutput{name: "b"}
	tee := Tee{a, b}
	if err := tee.Start(); err != nil {
		t.Fatal(err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))
	tee.WriteFrame(frame)
	tee.WriteFrameNow(frame)

	if a.frames != 1 || b.frames != 1 || a.now != 1 || b.now != 1 {
		t.Errorf("Expected each output to get both frames: a=%+v b=%+v", a, b)
	}
	if tee.Name() != "a + b" {
		t.Errorf("Unexpected name %q", tee.Name())
	}

	b.Stop()
	tee.WriteFrame(frame)
	if b.frames != 1 {
		t.Error("Expected stopped output to be skipped")
	}
	if !tee.IsRunning() {
		t.Error("Expected tee to run while any output runs")
	}
}

func TestTeeStartRollsBack(t *testing.T) {
	a := &stubOutput{name: "a"}
	b := &stubOutput{name: "b", startErr: errors.New("no display")}
	if err := (Tee{a, b}).Start(); err == nil {
		t.Fatal("Expected start error")
	}
	if a.running {
		t.Error("Expected first output to be stopped after failure")
	}
}
