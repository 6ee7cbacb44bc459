package rkmedia

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rklog "github.com/thesyncim/rkmedia/internal/log"
	"github.com/thesyncim/rkmedia/internal/metrics"
)

// Accelerator surface alignment.
const (
	rgaYUVAlign       = 2
	rgaAFBCAlign      = 16
	rgaRFBCAlignW     = 64
	rgaRFBCAlignH     = 4
	rgaReadModeAFBC   = 1 << 1
	rgaReadModeRFBC   = 1 << 4
	rgaMaxAsyncDepth  = 4
	rgaDefaultDepth   = 2
	rgaBlendDstOver   = 0x4
	rgaBlendPremulti  = 1 << 12
	rgaBlendDefault   = 0x501
	rgaBlendPremulDef = 0x504
)

// OverlayLayer is the second input of a composing accelerator session.
type OverlayLayer struct {
	Format        PixelFormat // RGB layout of the overlay frames
	Width, Height int
	X, Y          int // position inside the main input
	Alpha         int // global alpha 0..255, 255 = per-pixel alpha only
}

// AcceleratorConfig configures an Accelerator.
type AcceleratorConfig struct {
	InFormat          PixelFormat // Software layout of the main input frames
	InWidth, InHeight int

	OutFormat           PixelFormat // PixelFormatNone = InFormat
	OutWidth, OutHeight int

	Crop     *RGARect // Region of the main input to read (nil = all)
	Rotation int      // Vendor rotate/flip code applied to the main input

	Overlay *OverlayLayer

	Core       int  // Scheduler core request, 0 = automatic
	AsyncDepth int  // Blits in flight before the oldest is awaited (0..4)
	AFBCOutput bool // Compressed output when the engine can write it
}

// DefaultAcceleratorConfig returns a same-size configuration for frames of
// format in.
func DefaultAcceleratorConfig(in PixelFormat, width, height int) AcceleratorConfig {
	return AcceleratorConfig{
		InFormat:   in,
		InWidth:    width,
		InHeight:   height,
		OutFormat:  in,
		OutWidth:   width,
		OutHeight:  height,
		AsyncDepth: rgaDefaultDepth,
	}
}

// rgaInfo is the static description of one input or output of a session.
type rgaInfo struct {
	RGASurface
	fullW, fullH int
	rgaFmt       RGAFormat
	rotation     int
	blend        uint32
	overlayX     int
	overlayY     int
}

func newRGAInfo(format PixelFormat, w, h int, overlay bool) (rgaInfo, error) {
	rf, ok := RGAFormatOf(format, overlay)
	if !ok {
		return rgaInfo{}, fmt.Errorf("%w: accelerator format %s", ErrNotSupported, format)
	}
	info := rgaInfo{
		RGASurface: RGASurface{Format: format, W: w, H: h},
		fullW:      w,
		fullH:      h,
		rgaFmt:     rf,
	}
	if !format.IsRGB() {
		info.W = alignDown(info.W, rgaYUVAlign)
		info.H = alignDown(info.H, rgaYUVAlign)
	}
	return info, nil
}

// asyncOp is one submitted blit waiting for its fence.
type asyncOp struct {
	src, dst, pat int // slot indices, pat -1 when absent
	fence         int
}

// Accelerator is a 2D accelerator session: scale, crop, rotate, convert and
// compose hardware frames.
//
// Blits are submitted asynchronously. A bounded FIFO of AsyncDepth+1 jobs
// keeps every participating frame locked until its fence is awaited;
// completed frames come out in submission order.
// An Accelerator is not safe for concurrent use.
type Accelerator struct {
	id   string
	dev  *Device
	rga  RGA
	caps RGACapabilities
	cfg  AcceleratorConfig
	log  zerolog.Logger

	in, pat, out rgaInfo
	decision     RGAEngineDecision
	useRGA2      bool
	core         int
	afbcOut      bool
	depth        int
	overlayValid bool

	outPool    *BufferPool
	canvasPool *BufferPool // overlay layer re-rendered at its offset

	srcSlots   slotArena
	dstSlots   slotArena
	patSlots   slotArena
	patInSlots slotArena
	fifo       []asyncOp

	closed bool
}

// NewAccelerator creates an accelerator session on dev. It takes a device
// reference that Close drops.
func NewAccelerator(dev *Device, cfg AcceleratorConfig) (*Accelerator, error) {
	if cfg.AsyncDepth < 0 || cfg.AsyncDepth > rgaMaxAsyncDepth {
		return nil, fmt.Errorf("%w: async depth %d outside 0..%d", ErrInvalidArgument, cfg.AsyncDepth, rgaMaxAsyncDepth)
	}
	if cfg.OutFormat == PixelFormatNone {
		cfg.OutFormat = cfg.InFormat
	}
	rga, err := dev.RGA()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	a := &Accelerator{
		id:      id,
		rga:     rga,
		cfg:     cfg,
		afbcOut: cfg.AFBCOutput,
		depth:   cfg.AsyncDepth,
		log:     rklog.WithSession("rga", id),
	}

	caps := ParseRGAVersion(rga.Version())
	if !caps.Any() {
		return nil, fmt.Errorf("%w: no RGA2/RGA3 in %q", ErrNotSupported, caps.Version)
	}
	var ok bool
	if a.caps, a.core, ok = caps.restrict(cfg.Core); !ok {
		a.log.Warn().Int(rklog.FieldCore, cfg.Core).Msg("scheduler core not usable on this device, ignoring")
	}

	if err := a.configure(); err != nil {
		return nil, err
	}

	a.decision, err = SelectRGAEngine(a.caps, RGAEngineRequest{
		Src:  a.in.RGASurface,
		Dst:  a.out.RGASurface,
		Pat:  a.patSurface(),
		Core: a.core,
	})
	if err != nil {
		return nil, err
	}
	a.useRGA2 = a.decision.UseRGA2
	a.core = a.decision.Core

	a.outPool, err = NewBufferPool(dev, PoolConfig{
		Mode:   PoolInternal,
		Format: cfg.OutFormat,
		Width:  cfg.OutWidth,
		Height: cfg.OutHeight,
		Flags:  BufferCachable,
	})
	if err != nil {
		return nil, fmt.Errorf("output pool: %w", err)
	}
	if a.overlayValid {
		a.canvasPool, err = NewBufferPool(dev, PoolConfig{
			Mode:   PoolInternal,
			Format: cfg.Overlay.Format,
			Width:  cfg.InWidth,
			Height: cfg.InHeight,
		})
		if err != nil {
			a.outPool.Release()
			return nil, fmt.Errorf("overlay canvas pool: %w", err)
		}
	}
	a.dev = dev.Ref()

	a.log = a.log.With().Str(rklog.FieldEngine, a.decision.Engine.String()).Logger()
	a.log.Info().
		Str("version", caps.Version).
		Str("decision", a.decision.String()).
		Str(rklog.FieldResolution, fmt.Sprintf("%dx%d -> %dx%d", cfg.InWidth, cfg.InHeight, cfg.OutWidth, cfg.OutHeight)).
		Str(rklog.FieldFormat, fmt.Sprintf("%s -> %s", cfg.InFormat, cfg.OutFormat)).
		Int("async_depth", a.depth).
		Msg("accelerator configured")
	return a, nil
}

// configure resolves the static surface descriptions of every pad.
func (a *Accelerator) configure() error {
	cfg := a.cfg
	var err error
	if a.in, err = newRGAInfo(cfg.InFormat, cfg.InWidth, cfg.InHeight, false); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if a.out, err = newRGAInfo(cfg.OutFormat, cfg.OutWidth, cfg.OutHeight, false); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	for _, n := range []int{cfg.InWidth * cfg.InHeight, cfg.OutWidth * cfg.OutHeight} {
		if n > rgaLargeFrameMax {
			a.depth = min(a.depth, 1)
		}
	}

	if cfg.Overlay == nil {
		a.in.rotation = cfg.Rotation
		if c := cfg.Crop; c != nil {
			x, y, w, h := c.X, c.Y, c.W, c.H
			if !cfg.InFormat.IsRGB() {
				x, y = alignDown(x, rgaYUVAlign), alignDown(y, rgaYUVAlign)
				w, h = alignDown(w, rgaYUVAlign), alignDown(h, rgaYUVAlign)
			}
			a.in.Crop = true
			a.in.X, a.in.Y, a.in.W, a.in.H = x, y, w, h
		}
		return nil
	}

	ov := cfg.Overlay
	if a.pat, err = newRGAInfo(ov.Format, ov.Width, ov.Height, true); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	if ov.Width*ov.Height > rgaLargeFrameMax {
		a.depth = min(a.depth, 1)
	}
	a.in.blend = overlayBlendMode(ov.Format, ov.Alpha)
	a.pat.overlayX = max(ov.X, 0)
	a.pat.overlayY = max(ov.Y, 0)
	a.overlayValid = ov.X < a.in.W-2 && ov.Y < a.in.H-2
	if !a.overlayValid {
		a.log.Warn().Int("x", ov.X).Int("y", ov.Y).Msg("overlay outside the main input, compositing disabled")
	}
	return nil
}

// overlayBlendMode returns the vendor blend word: source over destination
// with the overlay's global alpha, or its per-pixel alpha when opaque.
func overlayBlendMode(format PixelFormat, alpha int) uint32 {
	premul := format.HasAlpha()
	if alpha > 0 && alpha < 0xff {
		mode := uint32(rgaBlendDstOver)
		if premul {
			mode |= rgaBlendPremulti
		}
		mode |= uint32(alpha&0xff) << 16
		mode |= 0xff << 24
		return mode
	}
	if premul {
		return rgaBlendPremulDef
	}
	return rgaBlendDefault
}

func (a *Accelerator) patSurface() *RGASurface {
	if a.cfg.Overlay == nil {
		return nil
	}
	s := a.pat.RGASurface
	return &s
}

// Config returns the session configuration.
func (a *Accelerator) Config() AcceleratorConfig { return a.cfg }

// ID returns the session id used in logs.
func (a *Accelerator) ID() string { return a.id }

// Decision returns the engine the session runs on.
func (a *Accelerator) Decision() RGAEngineDecision { return a.decision }

// AsyncDepth returns the effective pipelining depth.
func (a *Accelerator) AsyncDepth() int { return a.depth }

// Pending returns the number of blits whose fence has not been awaited.
func (a *Accelerator) Pending() int { return len(a.fifo) }

// unlocked reports slots no unfinished blit references.
func unlocked(s *frameSlot) bool { return !s.locked }

// submitFrame prepares an input surface in a slot of arena.
func (a *Accelerator) submitFrame(arena *slotArena, info *rgaInfo, f *Frame, main, blend, canvas bool) (int, error) {
	arena.reclaim(unlocked)
	if f == nil || !f.IsHardware() {
		return -1, ErrNotHardwareFrame
	}
	desc := f.Descriptor
	if desc == nil || desc.FD() < 0 || desc.Layer() == nil {
		return -1, fmt.Errorf("%w: frame without a DMA-buf", ErrInvalidArgument)
	}

	if err := checkFrameSize(f, info.fullW, info.fullH); err != nil {
		return -1, err
	}

	idx := arena.acquire()
	s := arena.at(idx)
	s.frame = f.Ref()
	img, err := a.inputImage(info, s.frame, main, blend, canvas)
	if err == nil {
		err = checkSurfaceBounds(img)
	}
	if err != nil {
		arena.release(idx)
		return -1, err
	}
	s.image = img
	return idx, nil
}

// checkFrameSize rejects a frame whose size is not the one the session was
// configured for.
func checkFrameSize(f *Frame, w, h int) error {
	if f.Width != w || f.Height != h {
		return fmt.Errorf("%w: frame %dx%d, session expects %dx%d", ErrInvalidArgument, f.Width, f.Height, w, h)
	}
	return nil
}

// checkSurfaceBounds rejects an image whose rectangle reaches past the
// strides of the buffer behind it.
func checkSurfaceBounds(img *RGAImage) error {
	r := img.Rect
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 || r.X+r.W > img.WStride || r.Y+r.H > img.HStride {
		return fmt.Errorf("%w: rect %dx%d+%d+%d outside %dx%d surface", ErrInvalidArgument,
			r.W, r.H, r.X, r.Y, img.WStride, img.HStride)
	}
	return nil
}

func (a *Accelerator) inputImage(info *rgaInfo, f *Frame, main, blend, canvas bool) (*RGAImage, error) {
	desc := f.Descriptor
	mod := desc.Modifier()
	afbc, rfbc := IsAFBC(mod), IsRFBC(mod)
	fbc := afbc || rfbc

	var ws, hs int
	if !fbc {
		var err error
		if ws, hs, err = rgaSurfaceStrides(desc, info.Format); err != nil {
			return nil, fmt.Errorf("frame strides: %w", err)
		}
	}

	img := &RGAImage{
		FD:        desc.FD(),
		Width:     f.Width,
		Height:    f.Height,
		Format:    info.rgaFmt,
		Uncompact: info.uncompact(),
	}
	if main {
		img.Rotation = info.rotation
		if blend {
			img.Blend = info.blend
		}
	}

	if fbc && !a.caps.Has(RGAEngineRGA2Pro) && (a.useRGA2 || a.core == RGA2Core0) {
		return nil, fmt.Errorf("%w: compressed %s input on RGA2", ErrNotSupported, info.Format)
	}

	if a.core > 0 && a.core&rga3CoreMask == a.core {
		if !afbc && !rga3StrideCompatible(ws, hs, info.rgaFmt) {
			a.useRGA2 = true
			a.log.Warn().
				Str(rklog.FieldFormat, info.Format.String()).
				Int("ws", ws).
				Int("hs", hs).
				Msg("input strides not supported by RGA3, using RGA2")
		}
		if err := checkRGAEngine(a.caps, a.useRGA2, a.in.RGASurface, a.out.RGASurface); err != nil {
			return nil, err
		}
		if a.useRGA2 {
			a.core = RGA2Core0
		}
	}

	if canvas {
		img.Rect = RGARect{
			W: min(a.in.W-info.overlayX, info.W),
			H: min(a.in.H-info.overlayY, info.H),
		}
	} else {
		img.Rect = RGARect{X: info.X, Y: info.Y, W: info.W, H: info.H}
	}
	img.WStride, img.HStride = ws, hs

	if fbc {
		alignW, alignH := rgaAFBCAlign, rgaAFBCAlign
		drm := rgaAFBCFormat(info.Format)
		img.RdMode = rgaReadModeAFBC
		if rfbc {
			alignW, alignH = rgaRFBCAlignW, rgaRFBCAlignH
			drm = rgaRFBCFormat(info.Format)
			img.RdMode = rgaReadModeRFBC
		}
		offsetY := 0
		if afbc && f.CropTop > 0 {
			offsetY = f.CropTop
			img.Rect.Y += offsetY
		}
		layer := desc.Layer()
		if drm == DRMFormatInvalid || drm != layer.Format {
			return nil, fmt.Errorf("%w: compressed %s input", ErrNotSupported, info.Format)
		}
		w, err := pixelStride(info.Format, layer.Planes[0].Pitch, true)
		if err != nil {
			return nil, err
		}
		if w%alignW != 0 {
			w = align(info.fullW, alignW)
		}
		img.WStride = w
		img.HStride = align(info.fullH+offsetY, alignH)
	}
	return img, nil
}

// queryFrame takes an output frame from a pool and prepares its surface.
func (a *Accelerator) queryFrame(arena *slotArena, in *Frame, canvas bool) (int, error) {
	arena.reclaim(unlocked)
	info, pool := &a.out, a.outPool
	if canvas {
		info, pool = &a.pat, a.canvasPool
	}

	out, err := pool.Get()
	if err != nil {
		return -1, err
	}
	if in != nil {
		in.CopyProps(out)
	}
	out.CropTop = 0

	idx := arena.acquire()
	s := arena.at(idx)
	s.frame = out
	img, err := a.outputImage(info, in, out, canvas)
	if err == nil {
		err = checkSurfaceBounds(img)
	}
	if err != nil {
		arena.release(idx)
		return -1, err
	}
	s.image = img
	return idx, nil
}

func (a *Accelerator) outputImage(info *rgaInfo, in, out *Frame, canvas bool) (*RGAImage, error) {
	if (a.useRGA2 || a.core == RGA2Core0) && a.afbcOut && !canvas {
		a.log.Warn().Str(rklog.FieldFormat, info.Format.String()).Msg("compressed output not supported by RGA2")
		a.afbcOut = false
	}
	compressed := a.afbcOut && !canvas

	desc := out.Descriptor
	ws, hs, err := rgaSurfaceStrides(desc, info.Format)
	if !compressed && err != nil {
		return nil, fmt.Errorf("frame strides: %w", err)
	}

	img := &RGAImage{
		FD:        desc.FD(),
		Width:     out.Width,
		Height:    out.Height,
		Format:    info.rgaFmt,
		Core:      a.core,
		Uncompact: info.uncompact(),
		WStride:   ws,
		HStride:   hs,
	}
	if !canvas && in != nil {
		img.Color = rgaColorSpace(a.in.Format, info.Format, in, out)
	}

	if canvas {
		img.Rect = RGARect{
			X: info.overlayX,
			Y: info.overlayY,
			W: min(a.in.W-info.overlayX, info.W),
			H: min(a.in.H-info.overlayY, info.H),
		}
	} else {
		img.Rect = RGARect{X: info.X, Y: info.Y, W: info.W, H: info.H}
	}

	if !compressed {
		return img, nil
	}
	drm := rgaAFBCFormat(info.Format)
	if drm == DRMFormatInvalid {
		a.log.Warn().Str(rklog.FieldFormat, info.Format.String()).Msg("no compressed layout for output format")
		a.afbcOut = false
		return img, nil
	}
	ws = align(a.cfg.OutWidth, rgaAFBCAlign)
	hs = align(a.cfg.OutHeight, rgaAFBCAlign)
	if (img.Format == RGAFormatYCbCr420SP10B || img.Format == RGAFormatYCbCr422SP10B) && ws%64 != 0 {
		a.log.Warn().Int("ws", ws).Msg("output stride not supported by RGA3 AFBC")
		a.afbcOut = false
		return img, nil
	}
	// The compressor stores red and blue swapped.
	switch img.Format {
	case RGAFormatRGBA8888:
		img.Format = RGAFormatBGRA8888
	case RGAFormatBGRA8888:
		img.Format = RGAFormatRGBA8888
	}
	img.WStride, img.HStride = ws, hs
	img.RdMode = rgaReadModeAFBC

	pitch, err := pixelStride(info.Format, ws, false)
	if err != nil {
		return nil, err
	}
	desc.Objects[0].Modifier = ModifierARMAFBC(AFBCSparse | AFBCBlockSize16x16)
	desc.Layers = []DRMLayer{{
		Format: drm,
		Planes: []DRMPlane{{Pitch: pitch}},
	}}
	return img, nil
}

// rgaColorSpace returns the vendor color conversion mode for a blit from in
// to out and updates the color description of out to match.
func rgaColorSpace(inFmt, outFmt PixelFormat, in, out *Frame) int {
	mode := 0
	inRGB, outRGB := inFmt.IsRGB(), outFmt.IsRGB()
	switch {
	case inRGB && !outRGB:
		if in.Color.Range == ColorRangeJPEG {
			switch in.Color.Space {
			case ColorSpaceBT709:
				out.Color.Space = ColorSpaceBT709
				mode = 0xb << 8
			case ColorSpaceBT470BG:
				out.Color.Space = ColorSpaceBT470BG
				mode = 2 << 2
			}
		}
		if mode != 0 {
			out.Color.Transfer = ColorTransferUnspecified
			out.Color.Primaries = ColorPrimariesUnspecified
			out.Color.Range = ColorRangeMPEG
		}
	case !inRGB && outRGB:
		switch in.Color.Range {
		case ColorRangeMPEG:
			switch in.Color.Space {
			case ColorSpaceBT709:
				out.Color.Space = ColorSpaceBT709
				mode = 3
			case ColorSpaceBT470BG:
				out.Color.Space = ColorSpaceBT470BG
				mode = 1
			}
		case ColorRangeJPEG:
			if in.Color.Space == ColorSpaceBT470BG {
				out.Color.Space = ColorSpaceBT470BG
				mode = 2
			}
		}
		if mode != 0 {
			out.Color.Transfer = ColorTransferUnspecified
			out.Color.Primaries = ColorPrimariesUnspecified
			out.Color.Range = ColorRangeJPEG
		}
	}
	if (inFmt == PixelFormatYUVJ420P || inFmt == PixelFormatYUVJ422P) && !outRGB {
		out.Color.Range = ColorRangeJPEG
	}
	return mode
}

// blit submits one job. Async jobs must return a valid fence.
func (a *Accelerator) blit(src, dst, pat *RGAImage, async bool) (int, error) {
	a.log.Trace().
		Int(rklog.FieldFD, src.FD).
		Int("dst_fd", dst.FD).
		Int(rklog.FieldCore, dst.Core).
		Bool("async", async).
		Msg("blit")
	fence, err := a.rga.Blit(&BlitRequest{Src: src, Dst: dst, Pat: pat, Async: async, Core: dst.Core, Priority: dst.Priority})
	if err != nil {
		return -1, external("rga_blit", err)
	}
	if async && fence <= 0 {
		return -1, fmt.Errorf("%w: async blit returned fence %d", ErrExternal, fence)
	}
	mode := "sync"
	if async {
		mode = "async"
	}
	metrics.RGABlits.WithLabelValues(a.engine().String(), mode).Inc()
	return fence, nil
}

// engine returns the class the next blit runs on.
func (a *Accelerator) engine() RGAEngine {
	if !a.useRGA2 {
		return RGAEngineRGA3
	}
	for _, e := range rga2Family {
		if a.caps.Has(e) {
			return e
		}
	}
	return RGAEngineNone
}

func (a *Accelerator) waitFence(fence int) error {
	start := time.Now()
	err := a.dev.Fences().Wait(fence, TimeoutBlock)
	metrics.FenceWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return external("fence_wait", err)
	}
	return nil
}

func (a *Accelerator) setLocked(op asyncOp, locked bool) {
	a.srcSlots.at(op.src).locked = locked
	a.dstSlots.at(op.dst).locked = locked
	if op.pat >= 0 {
		a.patSlots.at(op.pat).locked = locked
	}
}

// complete awaits the oldest blit and returns its destination frame.
func (a *Accelerator) complete() (*Frame, error) {
	op := a.fifo[0]
	a.fifo = a.fifo[1:]
	err := a.waitFence(op.fence)
	a.setLocked(op, false)

	s := a.dstSlots.at(op.dst)
	f := s.frame
	s.frame = nil
	a.dstSlots.release(op.dst)
	metrics.InFlightSlots.WithLabelValues("rga").Set(float64(len(a.fifo)))
	if err != nil {
		// The job may still be writing f, so its buffer never returns to
		// the pool.
		a.log.Error().Err(err).Int(rklog.FieldFD, f.Descriptor.FD()).Msg("fence wait failed, output buffer dropped")
		return nil, err
	}
	return f, nil
}

// FilterFrame blits src, composed with the overlay frame pat when the
// session has one, into a new frame. It returns ErrAgain while the pipeline
// is filling and the oldest completed frame otherwise.
func (a *Accelerator) FilterFrame(src, pat *Frame) (*Frame, error) {
	if a.closed {
		return nil, ErrSessionClosed
	}
	f, err := a.filterFrame(src, pat)
	if err != nil && !errors.Is(err, ErrAgain) {
		metrics.SessionErrors.WithLabelValues("rga", errorKind(err)).Inc()
	}
	return f, err
}

func (a *Accelerator) filterFrame(src, pat *Frame) (*Frame, error) {
	doOverlay := a.cfg.Overlay != nil && a.overlayValid && pat != nil

	srcIdx, err := a.submitFrame(&a.srcSlots, &a.in, src, true, doOverlay, false)
	if err != nil {
		return nil, fmt.Errorf("submit input: %w", err)
	}
	dstIdx, err := a.queryFrame(&a.dstSlots, a.srcSlots.at(srcIdx).frame, false)
	if err != nil {
		a.srcSlots.release(srcIdx)
		return nil, fmt.Errorf("output frame: %w", err)
	}
	patIdx := -1
	if doOverlay {
		if patIdx, err = a.preparePattern(pat, dstIdx); err != nil {
			a.srcSlots.release(srcIdx)
			a.dstSlots.release(dstIdx)
			return nil, err
		}
	}

	var patImg *RGAImage
	if patIdx >= 0 {
		patImg = a.patSlots.at(patIdx).image
	}
	fence, err := a.blit(a.srcSlots.at(srcIdx).image, a.dstSlots.at(dstIdx).image, patImg, true)
	if err != nil {
		a.srcSlots.release(srcIdx)
		a.dstSlots.release(dstIdx)
		if patIdx >= 0 {
			a.patSlots.release(patIdx)
		}
		return nil, err
	}

	op := asyncOp{src: srcIdx, dst: dstIdx, pat: patIdx, fence: fence}
	a.setLocked(op, true)
	a.fifo = append(a.fifo, op)
	metrics.InFlightSlots.WithLabelValues("rga").Set(float64(len(a.fifo)))

	if len(a.fifo) > a.depth {
		return a.complete()
	}
	return nil, ErrAgain
}

// preparePattern returns the pattern slot of an overlay blit. An overlay
// that does not cover the main input 1:1 is first rendered onto a canvas of
// the main input's size at its offset, synchronously.
func (a *Accelerator) preparePattern(pat *Frame, dstIdx int) (int, error) {
	main, ov := &a.in, &a.pat
	dst := a.dstSlots.at(dstIdx).image
	dst.Core = a.core

	if ov.W == main.W && ov.H == main.H && ov.overlayX == 0 && ov.overlayY == 0 {
		idx, err := a.submitFrame(&a.patSlots, ov, pat, false, false, false)
		if err != nil {
			return -1, fmt.Errorf("submit overlay: %w", err)
		}
		return idx, nil
	}

	inIdx, err := a.submitFrame(&a.patInSlots, ov, pat, false, false, true)
	if err != nil {
		return -1, fmt.Errorf("submit overlay: %w", err)
	}
	defer a.patInSlots.release(inIdx)

	outIdx, err := a.queryFrame(&a.patSlots, pat, true)
	if err != nil {
		return -1, fmt.Errorf("overlay canvas: %w", err)
	}
	canvas := a.patSlots.at(outIdx).image
	canvas.Priority = 1
	canvas.Core = dst.Core
	if _, err := a.blit(a.patInSlots.at(inIdx).image, canvas, nil, false); err != nil {
		a.patSlots.release(outIdx)
		return -1, fmt.Errorf("overlay pre-pass: %w", err)
	}
	canvas.Rect = RGARect{W: main.W, H: main.H}
	return outIdx, nil
}

// Submit blits src (and pat) into the caller's hardware frame dst and waits
// for completion. dst must have the session's output layout.
func (a *Accelerator) Submit(src, dst, pat *Frame) error {
	if a.closed {
		return ErrSessionClosed
	}
	if dst == nil || !dst.IsHardware() || dst.Descriptor == nil {
		return ErrNotHardwareFrame
	}
	if err := checkFrameSize(dst, a.out.fullW, a.out.fullH); err != nil {
		return fmt.Errorf("output frame: %w", err)
	}
	doOverlay := a.cfg.Overlay != nil && a.overlayValid && pat != nil
	srcIdx, err := a.submitFrame(&a.srcSlots, &a.in, src, true, doOverlay, false)
	if err != nil {
		return fmt.Errorf("submit input: %w", err)
	}
	defer a.srcSlots.release(srcIdx)

	afbc := a.afbcOut
	a.afbcOut = false
	dstImg, err := a.outputImage(&a.out, a.srcSlots.at(srcIdx).frame, dst, false)
	a.afbcOut = afbc
	if err == nil {
		err = checkSurfaceBounds(dstImg)
	}
	if err != nil {
		return fmt.Errorf("output frame: %w", err)
	}

	var patImg *RGAImage
	if doOverlay {
		dstIdx := a.dstSlots.acquire()
		a.dstSlots.at(dstIdx).image = dstImg
		patIdx, err := a.preparePattern(pat, dstIdx)
		a.dstSlots.release(dstIdx)
		if err != nil {
			return err
		}
		defer a.patSlots.release(patIdx)
		patImg = a.patSlots.at(patIdx).image
	}
	if _, err := a.blit(a.srcSlots.at(srcIdx).image, dstImg, patImg, false); err != nil {
		return err
	}
	return nil
}

// Flush awaits every pending blit and returns the remaining frames in
// submission order.
func (a *Accelerator) Flush() ([]*Frame, error) {
	if a.closed {
		return nil, ErrSessionClosed
	}
	var out []*Frame
	for len(a.fifo) > 0 {
		f, err := a.complete()
		if err != nil {
			for _, o := range out {
				o.Release()
			}
			return nil, err
		}
		out = append(out, f)
	}
	a.log.Debug().Int("frames", len(out)).Msg("drained")
	return out, nil
}

// Close drains pending blits, dropping their output, and releases every
// frame and pool.
func (a *Accelerator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for len(a.fifo) > 0 {
		f, err := a.complete()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f.Release()
	}
	a.srcSlots.clear()
	a.dstSlots.clear()
	a.patSlots.clear()
	a.patInSlots.clear()
	if a.outPool != nil {
		a.outPool.Release()
	}
	if a.canvasPool != nil {
		a.canvasPool.Release()
	}
	metrics.InFlightSlots.WithLabelValues("rga").Set(0)
	a.dev.Unref()
	a.log.Debug().Msg("accelerator closed")
	return errors.Join(errs...)
}
