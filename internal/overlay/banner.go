package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Banner stamps a single line of text over a frame, anchored to the bottom
// left corner on a translucent strip
type Banner struct {
	Text      string
	TextColor color.RGBA
	BgColor   color.RGBA
	Padding   int
	Opacity   float64
}

// NewBanner creates a banner with white text on a dark strip
func NewBanner(text string) *Banner {
	return &Banner{
		Text:      text,
		TextColor: color.RGBA{255, 255, 255, 255},
		BgColor:   color.RGBA{0, 0, 0, 255},
		Padding:   5,
		Opacity:   0.7,
	}
}

// Render draws the banner onto img in place
func (b *Banner) Render(img *image.RGBA) {
	if b.Text == "" {
		return
	}

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()

	d := &font.Drawer{Face: face}
	textWidth := d.MeasureString(b.Text).Ceil()

	bounds := img.Bounds()
	height := lineHeight + b.Padding*2
	strip := image.Rect(bounds.Min.X, bounds.Max.Y-height, bounds.Min.X+textWidth+b.Padding*2, bounds.Max.Y)
	strip = strip.Intersect(bounds)
	if strip.Empty() {
		return
	}

	Blend(img, strip, image.NewUniform(b.BgColor), b.Opacity)

	d.Dst = img
	d.Src = image.NewUniform(b.TextColor)
	d.Dot = fixed.Point26_6{
		X: fixed.I(strip.Min.X + b.Padding),
		Y: fixed.I(strip.Max.Y-b.Padding) - face.Metrics().Descent,
	}
	d.DrawString(b.Text)
}

// Stamped returns a copy of src with the banner drawn on it, leaving src untouched
func (b *Banner) Stamped(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	b.Render(dst)
	return dst
}

// Placeholder renders the banner on a blank frame of the given size, used
// before any frame has been received
func (b *Banner) Placeholder(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{32, 32, 32, 255}), image.Point{}, draw.Src)
	b.Render(img)
	return img
}

// Blend draws src over the rect area of dst at the given opacity (0.0 to 1.0)
func Blend(dst *image.RGBA, rect image.Rectangle, src image.Image, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, rect, src, rect.Min, mask, image.Point{}, draw.Over)
}
