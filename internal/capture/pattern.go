package capture

// PatternGrabber produces a moving gradient, for hosts without a display
// and for exercising the pipeline end to end.
type PatternGrabber struct {
	width  int
	height int
	frame  int
}

// NewPatternGrabber creates a width x height pattern source
func NewPatternGrabber(width, height int) *PatternGrabber {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &PatternGrabber{width: width, height: height}
}

func (g *PatternGrabber) Name() string {
	return "pattern"
}

func (g *PatternGrabber) Grab() (*BGRABuffer, error) {
	data := make([]byte, g.width*g.height*4)
	shift := g.frame * 4
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			i := (y*g.width + x) * 4
			data[i] = byte(x + shift)   // B
			data[i+1] = byte(y + shift) // G
			data[i+2] = byte(g.frame)   // R
			data[i+3] = 0xff
		}
	}
	g.frame++
	return NewBGRABuffer(g.width, g.height, data)
}

func (g *PatternGrabber) Close() error {
	return nil
}
