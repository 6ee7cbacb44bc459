package rkmedia

import (
	"fmt"
	"strings"
)

// RGASurface is one side of a blit as seen by engine selection.
type RGASurface struct {
	Format     PixelFormat
	X, Y, W, H int  // active rectangle
	Crop       bool // the active rectangle is a crop of the frame
}

// uncompact reports 10-bit MSB-aligned formats.
func (s RGASurface) uncompact() bool {
	return s.Format == PixelFormatP010 || s.Format == PixelFormatP210
}

// RGAEngineRequest is the input of SelectRGAEngine.
type RGAEngineRequest struct {
	Src, Dst RGASurface
	Pat      *RGASurface // overlay layer, if any
	Core     int         // requested scheduler core, 0 = any
}

// RGAEngineDecision is the engine a session runs on.
type RGAEngineDecision struct {
	Engine   RGAEngine
	UseRGA2  bool
	Core     int
	MaxScale int
	Reasons  []string // why RGA2 was required
}

func (d RGAEngineDecision) String() string {
	if len(d.Reasons) == 0 {
		return fmt.Sprintf("%s core=%#x", d.Engine, d.Core)
	}
	return fmt.Sprintf("%s core=%#x (%s)", d.Engine, d.Core, strings.Join(d.Reasons, "; "))
}

// rga2Family is the preference order among RGA2 variants.
var rga2Family = []RGAEngine{RGAEngineRGA2Pro, RGAEngineRGA2Enhance, RGAEngineRGA2, RGAEngineRGA2Lite}

// SelectRGAEngine checks a blit configuration against the capabilities of
// the device and picks the accelerator class and scheduler core.
//
// RGA3 is used unless a format, the scale ratio or the geometry needs RGA2.
// Combinations no present engine can run fail with ErrNotSupported.
func SelectRGAEngine(caps RGACapabilities, req RGAEngineRequest) (RGAEngineDecision, error) {
	src, dst := req.Src, req.Dst
	if src.W <= 0 || src.H <= 0 || dst.W <= 0 || dst.H <= 0 {
		return RGAEngineDecision{}, fmt.Errorf("%w: blit %dx%d -> %dx%d", ErrInvalidArgument, src.W, src.H, dst.W, dst.H)
	}
	if err := checkRGAFormats(caps, src.Format, dst.Format); err != nil {
		return RGAEngineDecision{}, err
	}

	d := RGAEngineDecision{Core: req.Core}
	need := func(reason string) { d.Reasons = append(d.Reasons, reason) }

	if rgaFlags(src.Format)&(rgaRGA2In|rgaRGA2Pro) != 0 {
		need(fmt.Sprintf("input format %s", src.Format))
	}
	if rgaFlags(dst.Format)&(rgaRGA2Out|rgaRGA2Pro) != 0 {
		need(fmt.Sprintf("output format %s", dst.Format))
	}

	has3 := caps.Has(RGAEngineRGA3)
	if !has3 {
		need("no RGA3")
	}
	rw := float64(dst.W) / float64(src.W)
	rh := float64(dst.H) / float64(src.H)
	if has3 {
		rga3 := &rgaEngineInfo[RGAEngineRGA3]
		if !withinScale(rw, rh, rga3.MaxScale) {
			need(fmt.Sprintf("scale %.4fx%.4f", rw, rh))
		}
		if src.W < rga3.MinInputW || src.W > rga3.MaxInput || src.H > rga3.MaxInput || dst.W < rga3.MinInputW {
			need(fmt.Sprintf("size %dx%d -> %dx%d", src.W, src.H, dst.W, dst.H))
		}
		if p := req.Pat; p != nil && (p.W < rga3.MinInputW || p.W > rga3.MaxInput || p.H > rga3.MaxInput) {
			need(fmt.Sprintf("overlay size %dx%d", p.W, p.H))
		}
	}
	d.UseRGA2 = len(d.Reasons) > 0

	if err := checkRGAEngine(caps, d.UseRGA2, src, dst); err != nil {
		return RGAEngineDecision{}, err
	}

	if d.UseRGA2 {
		d.Core = RGA2Core0
		if caps.Has(RGAEngineRGA2Pro) {
			d.Core |= RGA2Core1
		}
	}
	scaling := rw != 1 || rh != 1
	if has3 && caps.Has(RGAEngineRGA2Enhance) && !d.UseRGA2 &&
		(d.Core == 0 || req.Pat != nil || scaling || src.Crop || src.uncompact() || dst.uncompact()) {
		d.Core = rga3CoreMask
	}

	// A listed Lite variant limits every RGA2 job.
	limit := RGAEngineRGA2
	switch {
	case d.UseRGA2 && caps.Has(RGAEngineRGA2Lite):
		limit = RGAEngineRGA2Lite
	case !d.UseRGA2 && has3 && !caps.HasRGA2(),
		d.Core > 0 && d.Core&rga3CoreMask == d.Core:
		limit = RGAEngineRGA3
	}
	d.MaxScale = limit.MaxScale()
	if !withinScale(rw, rh, d.MaxScale) {
		return RGAEngineDecision{}, fmt.Errorf("%w: scale ratio %.4fx%.4f outside 1/%d..%d",
			ErrNotSupported, rw, rh, d.MaxScale, d.MaxScale)
	}

	d.Engine = RGAEngineRGA3
	if d.UseRGA2 {
		for _, e := range rga2Family {
			if caps.Has(e) {
				d.Engine = e
				break
			}
		}
	}
	return d, nil
}

func withinScale(rw, rh float64, factor int) bool {
	lo, hi := 1/float64(factor), float64(factor)
	return rw >= lo && rw <= hi && rh >= lo && rh <= hi
}

// checkRGAFormats rejects format pairs no present engine converts.
func checkRGAFormats(caps RGACapabilities, in, out PixelFormat) error {
	inFlags, outFlags := rgaFlags(in), rgaFlags(out)
	switch {
	case !caps.Has(RGAEngineRGA3) && (inFlags|outFlags)&rgaRGA3Only != 0:
		return fmt.Errorf("%w: %s -> %s needs RGA3", ErrNotSupported, in, out)
	case !caps.Has(RGAEngineRGA2Pro) && (inFlags|outFlags)&rgaRGA2Pro != 0:
		return fmt.Errorf("%w: %s -> %s needs RGA2-Pro", ErrNotSupported, in, out)
	case !caps.HasRGA2() && inFlags&rgaRGA2In != 0:
		return fmt.Errorf("%w: input %s needs RGA2", ErrNotSupported, in)
	case !caps.HasRGA2() && outFlags&rgaRGA2Out != 0:
		return fmt.Errorf("%w: output %s needs RGA2", ErrNotSupported, out)
	case out.IsFullRange() && !in.IsFullRange():
		return fmt.Errorf("%w: %s -> %s", ErrNotSupported, in, out)
	case inFlags&rgaRGA3Only != 0 && outFlags&rgaRGA2Out != 0:
		return fmt.Errorf("%w: %s -> %s", ErrNotSupported, in, out)
	case outFlags&rgaRGA3Only != 0 && inFlags&rgaRGA2In != 0:
		return fmt.Errorf("%w: %s -> %s", ErrNotSupported, in, out)
	}
	return nil
}

// checkRGAEngine rejects a blit the chosen engine class cannot run. It runs
// at configuration and again when a frame forces a fallback to RGA2.
func checkRGAEngine(caps RGACapabilities, useRGA2 bool, src, dst RGASurface) error {
	pro := caps.Has(RGAEngineRGA2Pro)
	if useRGA2 {
		rga2 := &rgaEngineInfo[RGAEngineRGA2]
		if pro {
			rga2 = &rgaEngineInfo[RGAEngineRGA2Pro]
		}
		switch {
		case !caps.HasRGA2():
			return fmt.Errorf("%w: RGA2 required but not available", ErrNotSupported)
		case src.Format == PixelFormatP010 || dst.Format == PixelFormatP010 ||
			src.Format == PixelFormatP210 || dst.Format == PixelFormatP210:
			return fmt.Errorf("%w: %s -> %s on RGA2", ErrNotSupported, src.Format, dst.Format)
		case dst.Format == PixelFormatNV15 || dst.Format == PixelFormatNV20:
			return fmt.Errorf("%w: output %s on RGA2", ErrNotSupported, dst.Format)
		case !pro && src.Crop && src.Format.Depth() >= 10:
			return fmt.Errorf("%w: cropping 10-bit %s on RGA2", ErrNotSupported, src.Format)
		case src.W < rga2.MinInputW || src.H < rga2.MinInputH || src.W > rga2.MaxInput || src.H > rga2.MaxInput:
			return fmt.Errorf("%w: RGA2 input %dx%d", ErrNotSupported, src.W, src.H)
		case dst.W > rga2.MaxOutput || dst.H > rga2.MaxOutput:
			return fmt.Errorf("%w: RGA2 output %dx%d above %d", ErrNotSupported, dst.W, dst.H, rga2.MaxOutput)
		}
		return nil
	}
	rga3 := &rgaEngineInfo[RGAEngineRGA3]
	if src.W < rga3.MinInputW || src.H < rga3.MinInputH {
		return fmt.Errorf("%w: RGA3 input %dx%d below %dx%d", ErrNotSupported, src.W, src.H, rga3.MinInputW, rga3.MinInputH)
	}
	if dst.W > rga3.MaxOutput || dst.H > rga3.MaxOutput {
		return fmt.Errorf("%w: RGA3 output %dx%d above %d", ErrNotSupported, dst.W, dst.H, rga3.MaxOutput)
	}
	return nil
}
