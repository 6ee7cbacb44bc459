package rkmedia

import (
	"fmt"
	"math"
)

// OverlayConfig configures a compositing session.
//
// X and Y are expressions over main_w/W, main_h/H, overlay_w/w,
// overlay_h/h, overlay_x/x and overlay_y/y.
type OverlayConfig struct {
	X      string      // Overlay left edge (default 0)
	Y      string      // Overlay top edge (default 0)
	Alpha  int         // Global alpha 0..255; 255 keeps per-pixel alpha
	Format PixelFormat // Output layout, PixelFormatNone = main layout

	Core       int
	AsyncDepth int
	AFBC       bool
}

// DefaultOverlayConfig returns an opaque overlay at the top left corner.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		X:          "0",
		Y:          "0",
		Alpha:      0xff,
		AsyncDepth: rgaDefaultDepth,
	}
}

var overlayVarNames = []string{
	"main_w", "W", "main_h", "H",
	"overlay_w", "w", "overlay_h", "h",
	"overlay_x", "x", "overlay_y", "y",
}

// OverlayGeometry is a resolved OverlayConfig.
type OverlayGeometry struct {
	X, Y   int
	Width  int // output size, the main input size
	Height int
	SAR    Rational
}

// ResolveOverlay evaluates the overlay position for the two inputs.
func ResolveOverlay(cfg OverlayConfig, main, overlay StreamInfo) (OverlayGeometry, error) {
	if err := main.checkSize("main input"); err != nil {
		return OverlayGeometry{}, err
	}
	if err := overlay.checkSize("overlay input"); err != nil {
		return OverlayGeometry{}, err
	}
	if cfg.Alpha < 0 || cfg.Alpha > 0xff {
		return OverlayGeometry{}, fmt.Errorf("%w: overlay alpha %d", ErrInvalidArgument, cfg.Alpha)
	}

	env := newExprEnv(overlayVarNames...)
	xs, ys := cfg.X, cfg.Y
	if xs == "" {
		xs = "0"
	}
	if ys == "" {
		ys = "0"
	}
	px, err := compileExpr("x", xs, env)
	if err != nil {
		return OverlayGeometry{}, err
	}
	py, err := compileExpr("y", ys, env)
	if err != nil {
		return OverlayGeometry{}, err
	}

	env.set(float64(main.Width), "main_w", "W")
	env.set(float64(main.Height), "main_h", "H")
	env.set(float64(overlay.Width), "overlay_w", "w")
	env.set(float64(overlay.Height), "overlay_h", "h")

	var x, y float64
	if x, err = evalExpr(px, env, 0); err != nil {
		return OverlayGeometry{}, fmt.Errorf("x: %w", err)
	}
	env.set(x, "overlay_x", "x")
	if y, err = evalExpr(py, env, 0); err != nil {
		return OverlayGeometry{}, fmt.Errorf("y: %w", err)
	}
	env.set(y, "overlay_y", "y")
	if x, err = evalExpr(px, env, 0); err != nil {
		return OverlayGeometry{}, fmt.Errorf("x: %w", err)
	}

	g := OverlayGeometry{Width: main.Width, Height: main.Height, SAR: main.SAR}
	if g.X, err = exprInt("x", x); err != nil {
		return OverlayGeometry{}, err
	}
	if g.Y, err = exprInt("y", y); err != nil {
		return OverlayGeometry{}, err
	}
	if main.SAR.Num != 0 {
		g.SAR = main.SAR.Reduce(math.MaxInt32)
	}
	return g, nil
}

// Overlay composes an overlay stream onto a main stream.
type Overlay struct {
	*Accelerator
	geom OverlayGeometry
}

// NewOverlay resolves cfg and opens the compositing session. The overlay
// stream must use an RGB layout.
func NewOverlay(dev *Device, main, overlay StreamInfo, cfg OverlayConfig) (*Overlay, error) {
	g, err := ResolveOverlay(cfg, main, overlay)
	if err != nil {
		return nil, err
	}
	a, err := NewAccelerator(dev, AcceleratorConfig{
		InFormat:  main.Format,
		InWidth:   main.Width,
		InHeight:  main.Height,
		OutFormat: cfg.Format,
		OutWidth:  g.Width,
		OutHeight: g.Height,
		Overlay: &OverlayLayer{
			Format: overlay.Format,
			Width:  overlay.Width,
			Height: overlay.Height,
			X:      g.X,
			Y:      g.Y,
			Alpha:  cfg.Alpha,
		},
		Core:       cfg.Core,
		AsyncDepth: cfg.AsyncDepth,
		AFBCOutput: cfg.AFBC,
	})
	if err != nil {
		return nil, err
	}
	return &Overlay{Accelerator: a, geom: g}, nil
}

// Geometry returns the resolved overlay position and output size.
func (o *Overlay) Geometry() OverlayGeometry { return o.geom }

// FilterFrame composes overlay onto main. A nil overlay passes main through
// the scaler only.
func (o *Overlay) FilterFrame(main, overlay *Frame) (*Frame, error) {
	f, err := o.Accelerator.FilterFrame(main, overlay)
	if f != nil {
		f.SAR = o.geom.SAR
	}
	return f, err
}
