package rkmedia

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Frame size limits of the post-processing front ends.
const (
	vppMinSize = 2
	vppMaxSize = 8192
)

// Transpose is a rotate/flip applied to the main input.
type Transpose int

const (
	TransposeNone Transpose = iota - 1
	TransposeCClockFlip
	TransposeClock
	TransposeCClock
	TransposeClockFlip
	TransposeReversal
	TransposeHFlip
	TransposeVFlip
)

var transposeNames = [...]string{"cclock_hflip", "clock", "cclock", "clock_hflip", "reversal", "hflip", "vflip"}

func (t Transpose) String() string {
	if t < 0 || int(t) >= len(transposeNames) {
		return "none"
	}
	return transposeNames[t]
}

// ParseTranspose parses a transpose name; "" and "none" disable it.
func ParseTranspose(s string) (Transpose, error) {
	if s == "" || s == "none" {
		return TransposeNone, nil
	}
	for i, n := range transposeNames {
		if s == n {
			return Transpose(i), nil
		}
	}
	return TransposeNone, fmt.Errorf("%w: transpose %q", ErrInvalidArgument, s)
}

// rotation returns the vendor rotate/flip code and whether the output
// width and height swap.
func (t Transpose) rotation() (mode int, swap bool) {
	switch t {
	case TransposeCClockFlip:
		return 0x07 | 0x01<<4, true
	case TransposeClock:
		return 0x04, true
	case TransposeCClock:
		return 0x07, true
	case TransposeClockFlip:
		return 0x04 | 0x01<<4, true
	case TransposeReversal:
		return 0x03, false
	case TransposeHFlip:
		return 0x01, false
	case TransposeVFlip:
		return 0x02, false
	}
	return 0, false
}

// ForceYUV selects a YUV output of a given bit depth.
type ForceYUV int

const (
	ForceYUVDisable ForceYUV = iota
	ForceYUVAuto             // match the input bit depth
	ForceYUV8Bit
	ForceYUV10Bit // 10-bit uncompact, 8-bit without RGA3
)

var forceYUVNames = [...]string{"disable", "auto", "8bit", "10bit"}

func (f ForceYUV) String() string {
	if f < 0 || int(f) >= len(forceYUVNames) {
		return "unknown"
	}
	return forceYUVNames[f]
}

// ParseForceYUV parses a force_yuv name.
func ParseForceYUV(s string) (ForceYUV, error) {
	if s == "" {
		return ForceYUVDisable, nil
	}
	for i, n := range forceYUVNames {
		if s == n {
			return ForceYUV(i), nil
		}
	}
	return ForceYUVDisable, fmt.Errorf("%w: force_yuv %q", ErrInvalidArgument, s)
}

// ForceChroma selects the chroma layout of a forced YUV output.
type ForceChroma int

const (
	ForceChromaAuto ForceChroma = iota
	ForceChroma420SP
	ForceChroma420P
	ForceChroma422SP
	ForceChroma422P
)

var forceChromaNames = [...]string{"auto", "420sp", "420p", "422sp", "422p"}

func (f ForceChroma) String() string {
	if f < 0 || int(f) >= len(forceChromaNames) {
		return "unknown"
	}
	return forceChromaNames[f]
}

// ParseForceChroma parses a force_chroma name.
func ParseForceChroma(s string) (ForceChroma, error) {
	if s == "" {
		return ForceChromaAuto, nil
	}
	for i, n := range forceChromaNames {
		if s == n {
			return ForceChroma(i), nil
		}
	}
	return ForceChromaAuto, fmt.Errorf("%w: force_chroma %q", ErrInvalidArgument, s)
}

// AspectMode adjusts the evaluated output size to keep the input aspect ratio.
type AspectMode int

const (
	AspectDisable AspectMode = iota
	AspectDecrease
	AspectIncrease
)

// VPPConfig configures a scale/crop/transpose session.
//
// Sizes and offsets are expressions over the input and output geometry:
// iw/in_w, ih/in_h, ow/out_w/w, oh/out_h/h, cw, ch, cx, cy, a, dar and sar.
// An empty expression takes the default of its variable.
type VPPConfig struct {
	Width  string // Output width (default cw)
	Height string // Output height (default ch)
	CropW  string // Crop width (default iw)
	CropH  string // Crop height (default ih)
	CropX  string // Crop left (default (iw-ow)/2)
	CropY  string // Crop top (default (ih-oh)/2)

	Format    PixelFormat // Output layout, PixelFormatNone = input layout
	Transpose Transpose

	ForceYUV    ForceYUV
	ForceChroma ForceChroma

	KeepAspect AspectMode
	DivisibleBy int // Output size multiple when KeepAspect is set

	Core       int
	AsyncDepth int
	AFBC       bool
}

// DefaultVPPConfig returns a crop-then-scale configuration keeping the
// cropped aspect ratio.
func DefaultVPPConfig() VPPConfig {
	return VPPConfig{
		Width:       "cw",
		Height:      "w*ch/cw",
		CropW:       "iw",
		CropH:       "ih",
		CropX:       "(in_w-out_w)/2",
		CropY:       "(in_h-out_h)/2",
		Transpose:   TransposeNone,
		DivisibleBy: 1,
		AsyncDepth:  rgaDefaultDepth,
	}
}

// DefaultScaleConfig returns a scale-only configuration: no crop or
// transpose, output size decreased to the input aspect ratio.
func DefaultScaleConfig() VPPConfig {
	return VPPConfig{
		Width:       "iw",
		Height:      "ih",
		Transpose:   TransposeNone,
		KeepAspect:  AspectDecrease,
		DivisibleBy: 2,
		AsyncDepth:  rgaDefaultDepth,
	}
}

// StreamInfo describes the frames on one input of a session.
type StreamInfo struct {
	Format PixelFormat // software layout of the hardware frames
	Width  int
	Height int
	SAR    Rational
}

func (s StreamInfo) checkSize(what string) error {
	if s.Width < vppMinSize || s.Width > vppMaxSize || s.Height < vppMinSize || s.Height > vppMaxSize {
		return fmt.Errorf("%w: %s size %dx%d outside %dx%d..%dx%d", ErrInvalidArgument,
			what, s.Width, s.Height, vppMinSize, vppMinSize, vppMaxSize, vppMaxSize)
	}
	return nil
}

// VPPGeometry is a resolved VPPConfig.
type VPPGeometry struct {
	Format   PixelFormat
	Width    int
	Height   int
	SAR      Rational
	Crop     *RGARect // nil when the whole input is used
	Rotation int
}

// exprEnv holds the variables of one expression family. Unset variables
// are NaN.
type exprEnv map[string]any

func newExprEnv(names ...string) exprEnv {
	env := make(exprEnv, len(names))
	for _, n := range names {
		env[n] = math.NaN()
	}
	return env
}

func (e exprEnv) set(v float64, names ...string) {
	for _, n := range names {
		e[n] = v
	}
}

// compileExpr compiles src against env. Unknown variables fail here.
func compileExpr(name, src string, env exprEnv) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	p, err := expr.Compile(src, expr.Env(map[string]any(env)), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("%w: %s expression %q: %v", ErrInvalidArgument, name, src, err)
	}
	return p, nil
}

// evalExpr evaluates p, or returns def when p is nil.
func evalExpr(p *vm.Program, env exprEnv, def float64) (float64, error) {
	if p == nil {
		return def, nil
	}
	out, err := expr.Run(p, map[string]any(env))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	// min and max return whichever operand won, so the result may be an int.
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: expression result %T", ErrInvalidArgument, out)
}

// exprInt truncates an evaluated value, rejecting NaN and infinities.
func exprInt(name string, v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s evaluates to %v", ErrInvalidArgument, name, v)
	}
	return int(v), nil
}

var vppVarNames = []string{
	"iw", "in_w", "ih", "in_h",
	"ow", "out_w", "w", "oh", "out_h", "h",
	"cw", "ch", "cx", "cy",
	"a", "dar", "sar",
}

// ResolveVPP evaluates the geometry of cfg for input in on a device with
// the accelerator classes in caps.
//
// Expressions are evaluated in the order crop size, output size, crop
// offset; each group twice so that a value may depend on its sibling.
func ResolveVPP(cfg VPPConfig, in StreamInfo, caps RGACapabilities) (VPPGeometry, error) {
	if err := in.checkSize("input"); err != nil {
		return VPPGeometry{}, err
	}

	env := newExprEnv(vppVarNames...)
	progs := make(map[string]*vm.Program, 6)
	for _, e := range []struct{ name, src string }{
		{"cw", cfg.CropW}, {"ch", cfg.CropH},
		{"w", cfg.Width}, {"h", cfg.Height},
		{"cx", cfg.CropX}, {"cy", cfg.CropY},
	} {
		p, err := compileExpr(e.name, e.src, env)
		if err != nil {
			return VPPGeometry{}, err
		}
		progs[e.name] = p
	}

	iw, ih := float64(in.Width), float64(in.Height)
	env.set(iw, "iw", "in_w")
	env.set(ih, "ih", "in_h")
	sar := 1.0
	if in.SAR.Num != 0 {
		sar = in.SAR.Float()
	}
	env.set(iw/ih, "a")
	env.set(sar, "sar")
	env.set(iw/ih*sar, "dar")

	vals := make(map[string]float64, 6)
	step := func(name string, def func() float64, vars ...string) error {
		v, err := evalExpr(progs[name], env, def())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		vals[name] = v
		env.set(v, vars...)
		return nil
	}
	get := func(name string) func() float64 {
		return func() float64 { return env[name].(float64) }
	}
	centered := func(in, out string) func() float64 {
		return func() float64 { return (env[in].(float64) - env[out].(float64)) / 2 }
	}
	for _, s := range []struct {
		name string
		def  func() float64
		vars []string
	}{
		{"cw", get("iw"), []string{"cw"}},
		{"ch", get("ih"), []string{"ch"}},
		{"cw", get("iw"), []string{"cw"}},
		{"w", get("cw"), []string{"w", "ow", "out_w"}},
		{"h", get("ch"), []string{"h", "oh", "out_h"}},
		{"w", get("cw"), []string{"w", "ow", "out_w"}},
		{"cx", centered("iw", "ow"), []string{"cx"}},
		{"cy", centered("ih", "oh"), []string{"cy"}},
		{"cx", centered("iw", "ow"), []string{"cx"}},
	} {
		if err := step(s.name, s.def, s.vars...); err != nil {
			return VPPGeometry{}, err
		}
	}

	ints := make(map[string]int, len(vals))
	for name, v := range vals {
		n, err := exprInt(name, v)
		if err != nil {
			return VPPGeometry{}, err
		}
		ints[name] = n
	}

	g := VPPGeometry{Width: ints["w"], Height: ints["h"]}
	cw, ch := ints["cw"], ints["ch"]
	if cw != in.Width || ch != in.Height {
		g.Crop = clampCrop(RGARect{X: ints["cx"], Y: ints["cy"], W: cw, H: ch}, in.Width, in.Height)
	}
	g.Width, g.Height = keepAspect(g.Width, g.Height, in, cfg.KeepAspect, cfg.DivisibleBy)

	if int64(g.Height)*int64(in.Width) > math.MaxInt32 || int64(g.Width)*int64(in.Height) > math.MaxInt32 {
		return VPPGeometry{}, fmt.Errorf("%w: output size %dx%d too large", ErrInvalidArgument, g.Width, g.Height)
	}
	out := StreamInfo{Width: g.Width, Height: g.Height}
	if err := out.checkSize("output"); err != nil {
		return VPPGeometry{}, err
	}

	g.SAR = in.SAR
	if in.SAR.Num != 0 {
		g.SAR = Rational{
			Num: g.Height * in.Width * in.SAR.Num,
			Den: g.Width * in.Height * in.SAR.Den,
		}.Reduce(math.MaxInt32)
	}

	var swap bool
	g.Rotation, swap = cfg.Transpose.rotation()
	if swap {
		g.Width, g.Height = g.Height, g.Width
		g.SAR.Num, g.SAR.Den = g.SAR.Den, g.SAR.Num
	}

	g.Format = cfg.Format
	if g.Format == PixelFormatNone {
		g.Format = in.Format
	}
	g.Format = forcedFormat(cfg.ForceYUV, cfg.ForceChroma, in.Format, g.Format, caps.Has(RGAEngineRGA3))
	return g, nil
}

// clampCrop bounds a crop rectangle to a w x h frame.
func clampCrop(r RGARect, w, h int) *RGARect {
	r.X = max(min(r.X, w), 0)
	r.Y = max(min(r.Y, h), 0)
	r.W = max(min(r.W, w), 0)
	r.H = max(min(r.H, h), 0)

	r.X = min(r.X, w-r.W)
	r.Y = min(r.Y, h-r.H)
	r.W = min(r.W, w-r.X)
	r.H = min(r.H, h-r.Y)
	return &r
}

// keepAspect fits w x h to the aspect ratio of in, rounding to a multiple
// of div.
func keepAspect(w, h int, in StreamInfo, mode AspectMode, div int) (int, int) {
	if mode == AspectDisable {
		return w, h
	}
	tw := int(math.Round(float64(h) * float64(in.Width) / float64(in.Height)))
	th := int(math.Round(float64(w) * float64(in.Height) / float64(in.Width)))
	if mode == AspectDecrease {
		w, h = min(tw, w), min(th, h)
		if div > 1 {
			w, h = w/div*div, h/div*div
		}
		return w, h
	}
	w, h = max(tw, w), max(th, h)
	if div > 1 {
		w, h = (w+div-1)/div*div, (h+div-1)/div*div
	}
	return w, h
}

// forcedFormat applies force_yuv and force_chroma to the output format.
func forcedFormat(fy ForceYUV, fc ForceChroma, in, out PixelFormat, hasRGA3 bool) PixelFormat {
	depth := 0
	switch fy {
	case ForceYUVAuto:
		if in == PixelFormatNV15 || in == PixelFormatNV20 {
			depth = 10
		}
	case ForceYUV8Bit:
		depth = 8
	case ForceYUV10Bit:
		depth = 10
	}
	if depth == 0 {
		return out
	}
	if depth >= 10 && !hasRGA3 {
		depth = 8
	}

	if fc == ForceChromaAuto && !in.IsRGB() && in.Components() >= 2 {
		planar := in.IsPlanar() && in.PlaneCount() >= 3
		switch cw, ch := in.ChromaShift(); {
		case cw == 1 && ch == 1:
			fc = ForceChroma420SP
			if planar {
				fc = ForceChroma420P
			}
		case cw == 1 && ch == 0:
			fc = ForceChroma422SP
			if planar {
				fc = ForceChroma422P
			}
		}
	}

	switch fc {
	case ForceChroma422P:
		return PixelFormatYUV422P
	case ForceChroma422SP:
		if depth == 10 {
			return PixelFormatP210
		}
		return PixelFormatNV16
	case ForceChroma420P:
		return PixelFormatYUV420P
	}
	if depth == 10 {
		return PixelFormatP010
	}
	return PixelFormatNV12
}

// VPP is an accelerator session configured from a VPPConfig.
type VPP struct {
	*Accelerator
	geom VPPGeometry
}

// NewVPP resolves cfg for input in and opens the accelerator session.
func NewVPP(dev *Device, in StreamInfo, cfg VPPConfig) (*VPP, error) {
	rga, err := dev.RGA()
	if err != nil {
		return nil, err
	}
	g, err := ResolveVPP(cfg, in, ParseRGAVersion(rga.Version()))
	if err != nil {
		return nil, err
	}
	a, err := NewAccelerator(dev, AcceleratorConfig{
		InFormat:   in.Format,
		InWidth:    in.Width,
		InHeight:   in.Height,
		OutFormat:  g.Format,
		OutWidth:   g.Width,
		OutHeight:  g.Height,
		Crop:       g.Crop,
		Rotation:   g.Rotation,
		Core:       cfg.Core,
		AsyncDepth: cfg.AsyncDepth,
		AFBCOutput: cfg.AFBC,
	})
	if err != nil {
		return nil, err
	}
	return &VPP{Accelerator: a, geom: g}, nil
}

// Geometry returns the resolved output geometry.
func (v *VPP) Geometry() VPPGeometry { return v.geom }

// FilterFrame processes one input frame. See Accelerator.FilterFrame.
func (v *VPP) FilterFrame(src *Frame) (*Frame, error) {
	f, err := v.Accelerator.FilterFrame(src, nil)
	if f != nil {
		f.SAR = v.geom.SAR
	}
	return f, err
}

// Flush returns the frames still in flight.
func (v *VPP) Flush() ([]*Frame, error) {
	out, err := v.Accelerator.Flush()
	for _, f := range out {
		f.SAR = v.geom.SAR
	}
	return out, err
}
