package output

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"golang.org/x/image/draw"
)

// putImageHeader is the fixed part of a PutImage request in bytes
const putImageHeader = 24

// X11WindowOutput shows received frames in a local X11 window, letterboxed
// to the window size
type X11WindowOutput struct {
	config Config
	width  int
	height int

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext

	bitsPerPixel int
	scanlinePad  int
	maxRequest   int

	mu         sync.Mutex
	running    bool
	interval   time.Duration
	lastUpdate time.Time
	canvas     *image.RGBA
}

// NewX11WindowOutput connects to the X server. The window is created by Start.
func NewX11WindowOutput(config Config, width, height int) (*X11WindowOutput, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid window size %dx%d", width, height)
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	o := &X11WindowOutput{
		config:     config,
		width:      width,
		height:     height,
		conn:       conn,
		screen:     screen,
		maxRequest: int(setup.MaximumRequestLength) * 4,
		canvas:     image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	if config.FPS > 0 {
		o.interval = time.Second / time.Duration(config.FPS)
	}

	for _, format := range setup.PixmapFormats {
		if format.Depth == screen.RootDepth {
			o.bitsPerPixel = int(format.BitsPerPixel)
			o.scanlinePad = int(format.ScanlinePad)
			break
		}
	}
	if o.bitsPerPixel != 24 && o.bitsPerPixel != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported pixmap format: depth %d, %d bits per pixel", screen.RootDepth, o.bitsPerPixel)
	}

	return o, nil
}

// Start creates and maps the viewer window
func (o *X11WindowOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("X11 window output already running")
	}

	wid, err := xproto.NewWindowId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	o.window = wid

	err = xproto.CreateWindowChecked(
		o.conn,
		o.screen.RootDepth,
		o.window,
		o.screen.Root,
		0, 0,
		uint16(o.width), uint16(o.height),
		0,
		xproto.WindowClassInputOutput,
		o.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0x000000, xproto.EventMaskExposure | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	log := logger.WithComponent("x11-window")
	if err := o.setProperty("_NET_WM_NAME", "UTF8_STRING", "ScreenRelay"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := o.setProperty("WM_CLASS", "STRING", "screenrelay\x00ScreenRelay\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(o.conn, o.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(o.conn, gc, xproto.Drawable(o.window), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	o.gc = gc
	o.conn.Sync()

	o.running = true
	log.Info().
		Int("width", o.width).
		Int("height", o.height).
		Uint32("window_id", uint32(o.window)).
		Msg("Viewer window created")
	return nil
}

// Stop destroys the window and closes the X connection
func (o *X11WindowOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false

	if o.gc != 0 {
		xproto.FreeGC(o.conn, o.gc)
	}
	if o.window != 0 {
		xproto.DestroyWindow(o.conn, o.window)
	}
	o.conn.Sync()
	o.conn.Close()

	logger.WithComponent("x11-window").Info().Msg("Viewer window closed")
	return nil
}

// WriteFrame scales frame into the window, dropping frames above the FPS cap
func (o *X11WindowOutput) WriteFrame(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return fmt.Errorf("X11 window output not running")
	}
	now := time.Now()
	if o.interval > 0 && !o.lastUpdate.IsZero() && now.Sub(o.lastUpdate) < o.interval {
		return nil
	}
	o.lastUpdate = now

	letterbox(o.canvas, frame)
	return o.put(o.canvas)
}

// WriteFrameNow draws frame regardless of the FPS cap
func (o *X11WindowOutput) WriteFrameNow(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return fmt.Errorf("X11 window output not running")
	}
	letterbox(o.canvas, frame)
	return o.put(o.canvas)
}

// Name returns the output type name
func (o *X11WindowOutput) Name() string {
	return "X11 Window"
}

// IsRunning returns true if the window is shown
func (o *X11WindowOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// put sends img in row strips small enough for the server's request limit
func (o *X11WindowOutput) put(img *image.RGBA) error {
	data, stride := toZPixmap(img, o.bitsPerPixel, o.scanlinePad)

	rows := (o.maxRequest - putImageHeader) / stride
	if rows < 1 {
		return fmt.Errorf("window row of %d bytes exceeds X request limit", stride)
	}

	for y := 0; y < o.height; y += rows {
		n := min(rows, o.height-y)
		err := xproto.PutImageChecked(
			o.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(o.window),
			o.gc,
			uint16(o.width), uint16(n),
			0, int16(y),
			0,
			o.screen.RootDepth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (o *X11WindowOutput) setProperty(name, typeName, value string) error {
	prop, err := o.atom(name)
	if err != nil {
		return err
	}
	typ, err := o.atom(typeName)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		o.conn,
		xproto.PropModeReplace,
		o.window,
		prop,
		typ,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

func (o *X11WindowOutput) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(o.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// letterbox scales src into dst keeping its aspect ratio, on black
func letterbox(dst, src *image.RGBA) {
	db, sb := dst.Bounds(), src.Bounds()
	draw.Draw(dst, db, image.Black, image.Point{}, draw.Src)
	if sb.Empty() {
		return
	}

	scale := min(float64(db.Dx())/float64(sb.Dx()), float64(db.Dy())/float64(sb.Dy()))
	w := max(1, int(float64(sb.Dx())*scale))
	h := max(1, int(float64(sb.Dy())*scale))
	x := db.Min.X + (db.Dx()-w)/2
	y := db.Min.Y + (db.Dy()-h)/2

	draw.ApproxBiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), src, sb, draw.Src, nil)
}

// toZPixmap converts img to BGRx rows padded to scanlinePad bits
func toZPixmap(img *image.RGBA, bitsPerPixel, scanlinePad int) ([]byte, int) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	bpp := bitsPerPixel / 8
	pad := max(1, scanlinePad/8)
	stride := (width*bpp + pad - 1) / pad * pad

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride:]
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4:]
			d := row[x*bpp:]
			d[0], d[1], d[2] = s[2], s[1], s[0]
		}
	}
	return data, stride
}
