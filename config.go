package rkmedia

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	rklog "github.com/thesyncim/rkmedia/internal/log"
)

// DecoderOptionsEnv names the environment variable holding decoder option
// overrides, e.g. "deint=0 afbc=rga fast_parse=1 buf_mode=ext".
const DecoderOptionsEnv = "RKMEDIA_DEC_OPT"

// ParseDecoderOptions applies a space separated list of key=value decoder
// options to base. Recognised keys are deint, afbc, fast_parse and
// buf_mode.
func ParseDecoderOptions(s string, base DecoderConfig) (DecoderConfig, error) {
	cfg := base
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok || value == "" {
			return base, fmt.Errorf("%w: decoder option %q", ErrInvalidArgument, field)
		}
		var err error
		switch key {
		case "deint":
			cfg.Deinterlace, err = parseFlag(value)
		case "fast_parse":
			cfg.FastParse, err = parseFlag(value)
		case "afbc":
			cfg.AFBC, err = ParseAFBCMode(value)
		case "buf_mode":
			cfg.BufferMode, err = ParseBufferMode(value)
		default:
			err = fmt.Errorf("%w: unknown decoder option %q", ErrInvalidArgument, key)
		}
		if err != nil {
			return base, err
		}
	}
	return cfg, nil
}

// DecoderConfigFromEnv applies the options in RKMEDIA_DEC_OPT to base. An
// unparsable value is logged and ignored.
func DecoderConfigFromEnv(base DecoderConfig) DecoderConfig {
	s, ok := os.LookupEnv(DecoderOptionsEnv)
	if !ok || strings.TrimSpace(s) == "" {
		return base
	}
	cfg, err := ParseDecoderOptions(s, base)
	if err != nil {
		l := rklog.WithComponent("decoder")
		l.Warn().Err(err).Str("env", DecoderOptionsEnv).Msg("unable to set decoder options from env")
		return base
	}
	return cfg
}

func parseFlag(s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: flag %q", ErrInvalidArgument, s)
	}
	return b, nil
}

// ParseAFBCMode parses "off", "on" or "rga".
func ParseAFBCMode(s string) (AFBCMode, error) {
	switch strings.ToLower(s) {
	case "", "off", "0":
		return AFBCOff, nil
	case "on", "1":
		return AFBCOn, nil
	case "rga":
		return AFBCRGA, nil
	}
	return AFBCOff, fmt.Errorf("%w: afbc mode %q", ErrInvalidArgument, s)
}

// ParseBufferMode parses "half" or "ext".
func ParseBufferMode(s string) (BufferMode, error) {
	switch strings.ToLower(s) {
	case "", "half":
		return BufferModeHalf, nil
	case "ext":
		return BufferModeExternal, nil
	}
	return BufferModeHalf, fmt.Errorf("%w: buffer mode %q", ErrInvalidArgument, s)
}

// ParseRateControlMode parses VBR, CBR, CQP or AVBR; "" and "auto" derive
// the mode from the other settings.
func ParseRateControlMode(s string) (RateControlMode, error) {
	switch strings.ToUpper(s) {
	case "", "AUTO":
		return RateControlAuto, nil
	case "VBR":
		return RateControlVBR, nil
	case "CBR":
		return RateControlCBR, nil
	case "CQP":
		return RateControlFixQP, nil
	case "AVBR":
		return RateControlAVBR, nil
	}
	return RateControlAuto, fmt.Errorf("%w: rate control %q", ErrInvalidArgument, s)
}

// ParseVideoCodec parses a codec name such as "h264", "hevc" or "mjpeg".
func ParseVideoCodec(s string) (VideoCodec, error) {
	switch strings.ToUpper(s) {
	case "HEVC":
		return VideoCodecH265, nil
	case "AVC":
		return VideoCodecH264, nil
	}
	for c := VideoCodecH263; c <= VideoCodecMJPEG; c++ {
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}
	return VideoCodecUnknown, fmt.Errorf("%w: codec %q", ErrInvalidArgument, s)
}

func parseH264Profile(s string) (H264Profile, error) {
	switch strings.ToLower(s) {
	case "baseline":
		return H264ProfileBaseline, nil
	case "main":
		return H264ProfileMain, nil
	case "", "high":
		return H264ProfileHigh, nil
	}
	return H264ProfileHigh, fmt.Errorf("%w: h264 profile %q", ErrInvalidArgument, s)
}

func parseCoder(s string) (EntropyCoder, error) {
	switch strings.ToLower(s) {
	case "cavlc", "vlc":
		return CoderCAVLC, nil
	case "", "cabac", "ac":
		return CoderCABAC, nil
	}
	return CoderCABAC, fmt.Errorf("%w: coder %q", ErrInvalidArgument, s)
}

func parsePixelFormat(s string) (PixelFormat, error) {
	if s == "" {
		return PixelFormatNone, nil
	}
	p, ok := PixelFormatByName(s)
	if !ok {
		return PixelFormatNone, fmt.Errorf("%w: pixel format %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// Config is the file configuration of a media process.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Device  DeviceOptions `yaml:"device"`
	Decoder DecoderFile   `yaml:"decoder"`
	Encoder EncoderFile   `yaml:"encoder"`
	VPP     VPPFile       `yaml:"vpp"`
	Overlay *OverlayFile  `yaml:"overlay,omitempty"`
}

// LogConfig selects the log level and service name.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// DeviceOptions are the buffer allocation flags of the device.
type DeviceOptions struct {
	DMA32     *bool `yaml:"dma32"`
	Cacheable *bool `yaml:"cacheable"`
}

// DecoderFile holds the decoder options of a Config.
type DecoderFile struct {
	Codec          string `yaml:"codec"`
	Format         string `yaml:"format"` // "" = hardware frames
	Deinterlace    *bool  `yaml:"deint"`
	AFBC           string `yaml:"afbc"`
	FastParse      *bool  `yaml:"fast_parse"`
	BufferMode     string `yaml:"buf_mode"`
	SkipNonKey     bool   `yaml:"skip_nonkey"`
	ExtraHWFrames  int    `yaml:"extra_hw_frames"`
	MaxErrorFrames *int   `yaml:"max_error_frames"`
}

// EncoderFile holds the encoder options of a Config.
type EncoderFile struct {
	Codec        string `yaml:"codec"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	Format       string `yaml:"format"`
	FPS          int    `yaml:"fps"`
	Bitrate      int    `yaml:"bitrate"`
	MaxRate      int    `yaml:"maxrate"`
	MinRate      int    `yaml:"minrate"`
	BufferSize   int    `yaml:"bufsize"`
	GOP          int    `yaml:"gop"`
	RCMode       string `yaml:"rc_mode"`
	QPInit       *int   `yaml:"qp_init"`
	QPMax        *int   `yaml:"qp_max"`
	QPMin        *int   `yaml:"qp_min"`
	Profile      string `yaml:"profile"`
	Level        int    `yaml:"level"`
	Coder        string `yaml:"coder"`
	DCT8x8       *bool  `yaml:"8x8dct"`
	GlobalHeader bool   `yaml:"global_header"`
	LowDelay     bool   `yaml:"low_delay"`
}

// VPPFile holds the post-processing options of a Config.
type VPPFile struct {
	Width       string `yaml:"w"`
	Height      string `yaml:"h"`
	CropW       string `yaml:"cw"`
	CropH       string `yaml:"ch"`
	CropX       string `yaml:"cx"`
	CropY       string `yaml:"cy"`
	Format      string `yaml:"format"`
	Transpose   string `yaml:"transpose"`
	ForceYUV    string `yaml:"force_yuv"`
	ForceChroma string `yaml:"force_chroma"`
	Core        int    `yaml:"core"`
	AsyncDepth  *int   `yaml:"async_depth"`
	AFBC        bool   `yaml:"afbc"`
}

// OverlayFile holds the compositing options of a Config.
type OverlayFile struct {
	X          string `yaml:"x"`
	Y          string `yaml:"y"`
	Alpha      *int   `yaml:"alpha"`
	Format     string `yaml:"format"`
	Core       int    `yaml:"core"`
	AsyncDepth *int   `yaml:"async_depth"`
}

// LoadConfig reads a YAML configuration. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	path = filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return Config{}, fmt.Errorf("%w: config format %q", ErrInvalidArgument, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: config contains trailing documents", ErrInvalidArgument)
	}
	return cfg, nil
}

// LoggerConfig returns the logger configuration.
func (c Config) LoggerConfig() rklog.Config {
	return rklog.Config{Level: c.Log.Level, Service: c.Log.Service}
}

// DeviceConfig returns the device configuration.
func (c Config) DeviceConfig() DeviceConfig {
	dc := DefaultDeviceConfig()
	if c.Device.DMA32 != nil {
		dc.DMA32 = *c.Device.DMA32
	}
	if c.Device.Cacheable != nil {
		dc.Cacheable = *c.Device.Cacheable
	}
	return dc
}

// DecoderConfig returns the decoder configuration. fallback is used when
// the file names no codec.
func (c Config) DecoderConfig(fallback VideoCodec) (DecoderConfig, error) {
	d := c.Decoder
	codec := fallback
	if d.Codec != "" {
		var err error
		if codec, err = ParseVideoCodec(d.Codec); err != nil {
			return DecoderConfig{}, err
		}
	}
	cfg := DefaultDecoderConfig(codec)
	var err error
	if cfg.PixelFormat, err = parsePixelFormat(d.Format); err != nil {
		return DecoderConfig{}, err
	}
	if d.Deinterlace != nil {
		cfg.Deinterlace = *d.Deinterlace
	}
	if d.FastParse != nil {
		cfg.FastParse = *d.FastParse
	}
	if cfg.AFBC, err = ParseAFBCMode(d.AFBC); err != nil {
		return DecoderConfig{}, err
	}
	if cfg.BufferMode, err = ParseBufferMode(d.BufferMode); err != nil {
		return DecoderConfig{}, err
	}
	cfg.SkipNonKey = d.SkipNonKey
	cfg.ExtraHWFrames = d.ExtraHWFrames
	if d.MaxErrorFrames != nil {
		cfg.MaxErrorFrames = *d.MaxErrorFrames
	}
	return cfg, nil
}

// EncoderConfig returns the encoder configuration. Width and height fall
// back to the given size when unset.
func (c Config) EncoderConfig(width, height int) (EncoderConfig, error) {
	e := c.Encoder
	codec := VideoCodecH264
	if e.Codec != "" {
		var err error
		if codec, err = ParseVideoCodec(e.Codec); err != nil {
			return EncoderConfig{}, err
		}
	}
	if e.Width > 0 && e.Height > 0 {
		width, height = e.Width, e.Height
	}
	cfg := DefaultEncoderConfig(codec, width, height)
	var err error
	if e.Format != "" {
		if cfg.PixelFormat, err = parsePixelFormat(e.Format); err != nil {
			return EncoderConfig{}, err
		}
	}
	if e.FPS > 0 {
		cfg.FrameRate = Rational{e.FPS, 1}
		cfg.TimeBase = Rational{1, e.FPS}
	}
	if e.Bitrate > 0 {
		cfg.Bitrate = e.Bitrate
	}
	cfg.MaxRate, cfg.MinRate, cfg.BufferSize = e.MaxRate, e.MinRate, e.BufferSize
	if e.GOP > 0 {
		cfg.GOP = e.GOP
	}
	if cfg.RCMode, err = ParseRateControlMode(e.RCMode); err != nil {
		return EncoderConfig{}, err
	}
	if e.QPInit != nil {
		cfg.QPInit = *e.QPInit
	}
	if e.QPMax != nil {
		cfg.QPMax = *e.QPMax
	}
	if e.QPMin != nil {
		cfg.QPMin = *e.QPMin
	}
	if cfg.H264Profile, err = parseH264Profile(e.Profile); err != nil {
		return EncoderConfig{}, err
	}
	cfg.Level = e.Level
	if cfg.Coder, err = parseCoder(e.Coder); err != nil {
		return EncoderConfig{}, err
	}
	if e.DCT8x8 != nil {
		cfg.DCT8x8 = *e.DCT8x8
	}
	cfg.GlobalHeader, cfg.LowDelay = e.GlobalHeader, e.LowDelay
	return cfg, nil
}

// VPPConfig returns the post-processing configuration.
func (c Config) VPPConfig() (VPPConfig, error) {
	v := c.VPP
	cfg := DefaultVPPConfig()
	for _, o := range []struct {
		dst *string
		src string
	}{
		{&cfg.Width, v.Width}, {&cfg.Height, v.Height},
		{&cfg.CropW, v.CropW}, {&cfg.CropH, v.CropH},
		{&cfg.CropX, v.CropX}, {&cfg.CropY, v.CropY},
	} {
		if o.src != "" {
			*o.dst = o.src
		}
	}
	var err error
	if cfg.Format, err = parsePixelFormat(v.Format); err != nil {
		return VPPConfig{}, err
	}
	if cfg.Transpose, err = ParseTranspose(v.Transpose); err != nil {
		return VPPConfig{}, err
	}
	if cfg.ForceYUV, err = ParseForceYUV(v.ForceYUV); err != nil {
		return VPPConfig{}, err
	}
	if cfg.ForceChroma, err = ParseForceChroma(v.ForceChroma); err != nil {
		return VPPConfig{}, err
	}
	cfg.Core = v.Core
	if v.AsyncDepth != nil {
		cfg.AsyncDepth = *v.AsyncDepth
	}
	cfg.AFBC = v.AFBC
	return cfg, nil
}

// OverlayConfig returns the compositing configuration, or false when the
// file has none.
func (c Config) OverlayConfig() (OverlayConfig, bool, error) {
	o := c.Overlay
	if o == nil {
		return OverlayConfig{}, false, nil
	}
	cfg := DefaultOverlayConfig()
	if o.X != "" {
		cfg.X = o.X
	}
	if o.Y != "" {
		cfg.Y = o.Y
	}
	if o.Alpha != nil {
		cfg.Alpha = *o.Alpha
	}
	var err error
	if cfg.Format, err = parsePixelFormat(o.Format); err != nil {
		return OverlayConfig{}, false, err
	}
	cfg.Core = o.Core
	if o.AsyncDepth != nil {
		cfg.AsyncDepth = *o.AsyncDepth
	}
	return cfg, true, nil
}
