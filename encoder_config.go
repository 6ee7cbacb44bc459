package rkmedia

import (
	"fmt"
	"sort"
)

// EncoderConfig configures an Encoder.
type EncoderConfig struct {
	Codec  VideoCodec
	Width  int
	Height int

	// PixelFormat is the input format: a software format, or DRM_PRIME with
	// SwFormat naming the layout of the hardware frames.
	PixelFormat PixelFormat
	SwFormat    PixelFormat

	FrameRate Rational // Frames per second (zero = inverse of TimeBase)
	TimeBase  Rational // Time base of frame and packet timestamps

	Bitrate    int // Target bits per second
	MaxRate    int // Peak bits per second for VBR/AVBR (0 = derived)
	MinRate    int // Floor bits per second for VBR/AVBR (0 = derived)
	BufferSize int // Rate control buffer in bits (0 = vendor default)
	GOP        int // Keyframe interval in frames

	RCMode RateControlMode
	QPInit int // -1 = default for the mode; MJPEG quality factor 1..99
	QPMax  int
	QPMin  int
	QPMaxI int
	QPMinI int

	H264Profile H264Profile
	Level       int // H.264 level_idc or H.265 general_level_idc (0 = auto)
	Tier        HEVCTier
	Coder       EntropyCoder
	DCT8x8      bool // 8x8 transform, High profile only

	Color ColorProps

	GlobalHeader bool // Headers in Extradata only instead of before every IDR
	LowDelay     bool // Block on every packet instead of pipelining
}

// DefaultEncoderConfig returns the default configuration for codec.
func DefaultEncoderConfig(codec VideoCodec, width, height int) EncoderConfig {
	return EncoderConfig{
		Codec:       codec,
		Width:       width,
		Height:      height,
		PixelFormat: PixelFormatNV12,
		FrameRate:   Rational{30, 1},
		TimeBase:    Rational{1, 30},
		Bitrate:     2_000_000,
		GOP:         250,
		RCMode:      RateControlAuto,
		QPInit:      -1,
		QPMax:       -1,
		QPMin:       -1,
		QPMaxI:      -1,
		QPMinI:      -1,
		H264Profile: H264ProfileHigh,
		Tier:        HEVCTierHigh,
		Coder:       CoderCABAC,
		DCT8x8:      true,
	}
}

// inputFormat returns the software layout of the input frames.
func (c EncoderConfig) inputFormat() PixelFormat {
	if c.PixelFormat == PixelFormatDRMPrime {
		return c.SwFormat
	}
	return c.PixelFormat
}

// EncConfig is a vendor encoder configuration, a set of typed keys such as
// "rc:mode" or "prep:width".
type EncConfig struct {
	values map[string]int32

	// Handle is the vendor configuration object, when backed by one.
	Handle uintptr
}

// NewEncConfig returns an empty configuration.
func NewEncConfig() *EncConfig {
	return &EncConfig{values: make(map[string]int32)}
}

// Set stores a value.
func (c *EncConfig) Set(key string, v int32) {
	if c.values == nil {
		c.values = make(map[string]int32)
	}
	c.values[key] = v
}

// Get returns a stored value.
func (c *EncConfig) Get(key string) (int32, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (c *EncConfig) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RateControlPlan is the resolved rate control of an encoder.
type RateControlPlan struct {
	Mode      RateControlMode
	Bitrate   int
	MaxBps    int
	MinBps    int
	StatsTime int // seconds, 0 = unset

	QPInit, QPMax, QPMin, QPMaxI, QPMinI int
	QPDelta                              int // I/P QP delta, H.26x only
}

func orDefault(v, def int) int {
	if v >= 0 {
		return v
	}
	return def
}

// PlanRateControl resolves the rate control mode, bitrate bounds and QP
// range of cfg.
//
// Auto selects constant QP when an initial QP is set, VBR when a peak rate
// is set and CBR otherwise; MJPEG always uses constant QP. VBR and AVBR
// bound the bitrate to [br/16, br*17/16] unless explicit rates fall on the
// right side of the target; CBR to [br*15/16, br*17/16].
func PlanRateControl(cfg EncoderConfig) (RateControlPlan, error) {
	p := RateControlPlan{Mode: cfg.RCMode, Bitrate: cfg.Bitrate}
	if cfg.Codec == VideoCodecMJPEG {
		p.Mode = RateControlFixQP
	}
	if p.Mode == RateControlAuto {
		switch {
		case cfg.QPInit >= 0:
			p.Mode = RateControlFixQP
		case cfg.MaxRate > 0:
			p.Mode = RateControlVBR
		default:
			p.Mode = RateControlCBR
		}
	}

	br := int64(cfg.Bitrate)
	switch p.Mode {
	case RateControlFixQP:
	case RateControlVBR, RateControlAVBR:
		p.MaxBps = int(br * 17 / 16)
		if cfg.MaxRate > 0 && cfg.MaxRate >= cfg.Bitrate {
			p.MaxBps = cfg.MaxRate
		}
		p.MinBps = int(br / 16)
		if cfg.MinRate > 0 && cfg.MinRate <= cfg.Bitrate {
			p.MinBps = cfg.MinRate
		}
	case RateControlCBR:
		p.MaxBps = int(br * 17 / 16)
		p.MinBps = int(br * 15 / 16)
	default:
		return p, fmt.Errorf("%w: rate control mode %s", ErrInvalidArgument, p.Mode)
	}
	if cfg.BufferSize > 0 && p.Mode != RateControlFixQP && p.MaxBps > 0 {
		p.StatsTime = cfg.BufferSize / p.MaxBps
	}

	switch cfg.Codec {
	case VideoCodecH264, VideoCodecH265:
		if p.Mode == RateControlFixQP {
			q := orDefault(cfg.QPInit, 26)
			p.QPInit, p.QPMax, p.QPMin, p.QPMaxI, p.QPMinI = q, q, q, q, q
			p.QPDelta = 0
		} else {
			p.QPMax = orDefault(cfg.QPMax, 48)
			p.QPMin = min(orDefault(cfg.QPMin, 0), p.QPMax)
			p.QPMaxI = orDefault(cfg.QPMaxI, 48)
			p.QPMinI = min(orDefault(cfg.QPMinI, 0), p.QPMaxI)
			p.QPInit = min(orDefault(cfg.QPInit, 26), p.QPMax, p.QPMaxI)
			p.QPDelta = 2
		}
	case VideoCodecMJPEG:
		// Quality factors start at 1.
		quality := func(v, def int) int {
			if v >= 1 {
				return v
			}
			return def
		}
		p.QPInit = quality(cfg.QPInit, 80)
		p.QPMax = quality(cfg.QPMax, 99)
		p.QPMin = quality(cfg.QPMin, 1)
	default:
		return p, fmt.Errorf("%w: no encoder for %s", ErrNotSupported, cfg.Codec)
	}
	return p, nil
}

// hevcProfile returns the H.265 profile for an input format.
func hevcProfile(sw PixelFormat) HEVCProfile {
	if sw == PixelFormatGray8 {
		return HEVCProfileRExt
	}
	return HEVCProfileMain
}

// frameRate returns the reduced frame rate of cfg, terms bounded by 65535.
func (c EncoderConfig) frameRate() Rational {
	fps := c.FrameRate
	if fps.Num <= 0 || fps.Den <= 0 {
		fps = Rational{c.TimeBase.Den, c.TimeBase.Num}
	}
	if fps.Num <= 0 || fps.Den <= 0 {
		fps = Rational{30, 1}
	}
	return fps.Reduce(65535)
}

// applyEncoderConfig writes the static encoder configuration: geometry
// defaults, frame rate, GOP, rate control and codec syntax options.
func applyEncoderConfig(ec *EncConfig, cfg EncoderConfig, plan RateControlPlan) {
	ec.Set("prep:width", int32(cfg.Width))
	ec.Set("prep:height", int32(cfg.Height))
	ec.Set("prep:hor_stride", int32(align(cfg.Width, 64)))
	ec.Set("prep:ver_stride", int32(align(cfg.Height, 64)))
	ec.Set("prep:format", int32(MPPFmtYUV420SP))
	ec.Set("prep:mirroring", 0)
	ec.Set("prep:rotation", 0)
	ec.Set("prep:flip", 0)

	fps := cfg.frameRate()
	ec.Set("rc:fps_in_flex", 0)
	ec.Set("rc:fps_in_num", int32(fps.Num))
	ec.Set("rc:fps_in_denom", int32(fps.Den))
	ec.Set("rc:fps_in_denorm", int32(fps.Den))
	ec.Set("rc:fps_out_flex", 0)
	ec.Set("rc:fps_out_num", int32(fps.Num))
	ec.Set("rc:fps_out_denom", int32(fps.Den))
	ec.Set("rc:fps_out_denorm", int32(fps.Den))
	ec.Set("rc:gop", int32(max(cfg.GOP, 1)))

	ec.Set("rc:mode", plan.Mode.mppValue())
	if plan.Mode != RateControlFixQP {
		ec.Set("rc:bps_target", int32(plan.Bitrate))
		ec.Set("rc:bps_max", int32(plan.MaxBps))
		ec.Set("rc:bps_min", int32(plan.MinBps))
		if plan.StatsTime > 0 {
			ec.Set("rc:stats_time", int32(plan.StatsTime))
		}
	}
	ec.Set("rc:drop_mode", 0)

	switch cfg.Codec {
	case VideoCodecH264, VideoCodecH265:
		ec.Set("rc:qp_ip", int32(plan.QPDelta))
		ec.Set("rc:qp_init", int32(plan.QPInit))
		ec.Set("rc:qp_max", int32(plan.QPMax))
		ec.Set("rc:qp_min", int32(plan.QPMin))
		ec.Set("rc:qp_max_i", int32(plan.QPMaxI))
		ec.Set("rc:qp_min_i", int32(plan.QPMinI))
	case VideoCodecMJPEG:
		ec.Set("jpeg:q_factor", int32(plan.QPInit))
		ec.Set("jpeg:qf_max", int32(plan.QPMax))
		ec.Set("jpeg:qf_min", int32(plan.QPMin))
	}

	switch cfg.Codec {
	case VideoCodecH264:
		ec.Set("h264:profile", int32(cfg.H264Profile))
		ec.Set("h264:level", int32(cfg.Level))
		ec.Set("h264:cabac_en", int32(cfg.Coder))
		ec.Set("h264:cabac_idc", 0)
		trans8x8 := int32(0)
		if cfg.DCT8x8 && cfg.H264Profile == H264ProfileHigh {
			trans8x8 = 1
		}
		ec.Set("h264:trans8x8", trans8x8)
	case VideoCodecH265:
		ec.Set("h265:profile", int32(hevcProfile(cfg.inputFormat())))
		ec.Set("h265:level", int32(cfg.Level))
		if cfg.Level >= 120 {
			ec.Set("h265:tier", int32(cfg.Tier))
		}
	}
}

// prepInput describes the first input frame for the one-time prep config.
type prepInput struct {
	width, height int
	horStride     int // 0 for compressed input
	verStride     int
	format        MPPFormat
	color         ColorProps
}

// applyPrepConfig writes the input geometry and color of the first frame.
func applyPrepConfig(ec *EncConfig, in prepInput) {
	if in.horStride > 0 && in.verStride > 0 {
		ec.Set("prep:hor_stride", int32(in.horStride))
		ec.Set("prep:ver_stride", int32(in.verStride))
	}
	ec.Set("prep:width", int32(in.width))
	ec.Set("prep:height", int32(in.height))
	ec.Set("prep:colorspace", int32(in.color.Space))
	ec.Set("prep:colorprim", int32(in.color.Primaries))
	ec.Set("prep:colortrc", int32(in.color.Transfer))
	ec.Set("prep:colorrange", int32(in.color.Range))
	ec.Set("prep:format", int32(in.format))
}
