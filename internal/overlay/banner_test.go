package overlay

import (
	"image"
	"image/color"
	"testing"
)

func TestBannerDarkensBottomLeft(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 60))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	out := NewBanner("Broadcast stopped").Stamped(src)

	if src.RGBAAt(2, 58) != (color.RGBA{255, 255, 255, 255}) {
		t.Error("Stamped modified the source frame")
	}
	if c := out.RGBAAt(2, 58); c.R >= 200 {
		t.Errorf("Expected bottom-left strip to be darkened, got %v", c)
	}
	if c := out.RGBAAt(199, 0); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Expected top-right corner untouched, got %v", c)
	}
}

func TestBannerEmptyTextIsNoop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	b := NewBanner("")
	b.Render(img)
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatal("Expected empty banner to leave frame untouched")
		}
	}
}

func TestBannerClipsToTinyFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	NewBanner("a long banner line that cannot fit").Render(img)
}

func TestPlaceholderSize(t *testing.T) {
	img := NewBanner("Waiting").Placeholder(320, 180)
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 180 {
		t.Errorf("Expected 320x180, got %v", b)
	}
}
