package rkmedia

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Pattern selects the picture drawn by a PatternSource.
type Pattern int

const (
	PatternColorBars    Pattern = iota // 75% color bars
	PatternGradient                    // Horizontal luma ramp
	PatternCheckerboard                // Black and white squares
	PatternSolid                       // One color
	PatternNoise                       // Random luma
	PatternMovingBox                   // White box circling the center
)

var patternNames = [...]string{
	PatternColorBars:    "bars",
	PatternGradient:     "gradient",
	PatternCheckerboard: "checkerboard",
	PatternSolid:        "solid",
	PatternNoise:        "noise",
	PatternMovingBox:    "box",
}

func (p Pattern) String() string {
	if p >= 0 && int(p) < len(patternNames) {
		return patternNames[p]
	}
	return "unknown"
}

// ParsePattern maps a pattern name to its Pattern.
func ParsePattern(s string) (Pattern, error) {
	for i, name := range patternNames {
		if strings.EqualFold(s, name) {
			return Pattern(i), nil
		}
	}
	return 0, fmt.Errorf("%w: pattern %q", ErrInvalidArgument, s)
}

// PatternConfig configures a PatternSource.
type PatternConfig struct {
	Format    PixelFormat // NV12 or YUV420P
	Width     int
	Height    int
	FrameRate Rational
	Pattern   Pattern
	Animated  bool     // Redraw every frame. Noise and the moving box always do.
	Color     [3]uint8 // RGB for PatternSolid
	Checker   int      // Square size for PatternCheckerboard
}

// DefaultPatternConfig returns 720p30 NV12 color bars.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Format:    PixelFormatNV12,
		Width:     1280,
		Height:    720,
		FrameRate: Rational{30, 1},
		Pattern:   PatternColorBars,
		Checker:   32,
	}
}

// PatternSource draws synthetic software frames. Its frames can be handed to
// an encoder configured for a software pixel format, which uploads them into
// its own pool.
type PatternSource struct {
	cfg   PatternConfig
	video *VideoFrame
	count int64
	rng   uint64
}

// NewPatternSource validates cfg and draws the first picture. Zero fields
// take their DefaultPatternConfig value.
func NewPatternSource(cfg PatternConfig) (*PatternSource, error) {
	def := DefaultPatternConfig()
	if cfg.Format == PixelFormatNone {
		cfg.Format = def.Format
	}
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Height == 0 {
		cfg.Height = def.Height
	}
	if cfg.FrameRate.IsZero() {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.Checker <= 0 {
		cfg.Checker = def.Checker
	}
	if cfg.Format != PixelFormatNV12 && cfg.Format != PixelFormatYUV420P {
		return nil, fmt.Errorf("%w: pattern format %s", ErrNotSupported, cfg.Format)
	}
	if cfg.Width < MinFrameWidth || cfg.Height < MinFrameHeight || cfg.FrameRate.Num < 0 || cfg.FrameRate.Den < 0 {
		return nil, fmt.Errorf("%w: pattern %dx%d at %d/%d fps", ErrInvalidArgument,
			cfg.Width, cfg.Height, cfg.FrameRate.Num, cfg.FrameRate.Den)
	}
	if cfg.Pattern < 0 || int(cfg.Pattern) >= len(patternNames) {
		return nil, fmt.Errorf("%w: pattern %d", ErrInvalidArgument, cfg.Pattern)
	}
	vf, err := NewVideoFrame(cfg.Format, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	s := &PatternSource{cfg: cfg, video: vf, rng: 0x9e3779b97f4a7c15}
	s.draw()
	return s, nil
}

// Config returns the effective configuration.
func (s *PatternSource) Config() PatternConfig { return s.cfg }

// TimeBase is one frame period.
func (s *PatternSource) TimeBase() Rational {
	return Rational{s.cfg.FrameRate.Den, s.cfg.FrameRate.Num}
}

// NextFrame returns the next frame, its PTS counting frames in TimeBase. The
// planes are shared with later frames and are redrawn by the next call.
func (s *PatternSource) NextFrame() *Frame {
	if s.count > 0 && (s.cfg.Animated || s.cfg.Pattern == PatternNoise || s.cfg.Pattern == PatternMovingBox) {
		s.draw()
	}
	f := &Frame{
		Format:   s.cfg.Format,
		Width:    s.cfg.Width,
		Height:   s.cfg.Height,
		PTS:      s.count,
		TimeBase: s.TimeBase(),
		SAR:      Rational{1, 1},
		Color:    ColorProps{Range: ColorRangeMPEG},
		Video:    s.video,
	}
	s.count++
	return f
}

// Run calls fn with a new frame every frame period until ctx is done or fn
// fails.
func (s *PatternSource) Run(ctx context.Context, fn func(*Frame) error) error {
	period := time.Duration(float64(time.Second) / s.cfg.FrameRate.Float())
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(s.NextFrame()); err != nil {
				return err
			}
		}
	}
}

// 75% bars, white to black.
var colorBars = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

type yuv struct{ y, u, v uint8 }

var (
	yuvBlack = yuv{16, 128, 128}
	yuvWhite = yuv{235, 128, 128}
)

// rgbToYUV converts to limited range BT.601.
func rgbToYUV(r, g, b uint8) yuv {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	y := 16 + 65.481*rf + 128.553*gf + 24.966*bf
	u := 128 - 37.797*rf - 74.203*gf + 112*bf
	v := 128 + 112*rf - 93.786*gf - 18.214*bf
	return yuv{clampByte(y, 16, 235), clampByte(u, 16, 240), clampByte(v, 16, 240)}
}

func clampByte(v, lo, hi float64) uint8 {
	return uint8(math.Max(lo, math.Min(hi, v)))
}

func (s *PatternSource) draw() {
	w, h := s.cfg.Width, s.cfg.Height
	switch s.cfg.Pattern {
	case PatternColorBars:
		bar := max(w/8, 1)
		s.fill(func(x, _ int) yuv {
			c := colorBars[min(x/bar, 7)]
			return rgbToYUV(c[0], c[1], c[2])
		})
	case PatternGradient:
		s.fill(func(x, _ int) yuv { return yuv{uint8(x * 255 / w), 128, 128} })
	case PatternCheckerboard:
		n := s.cfg.Checker
		s.fill(func(x, y int) yuv {
			if (x/n+y/n)%2 == 0 {
				return yuvWhite
			}
			return yuvBlack
		})
	case PatternSolid:
		c := rgbToYUV(s.cfg.Color[0], s.cfg.Color[1], s.cfg.Color[2])
		s.fill(func(int, int) yuv { return c })
	case PatternNoise:
		s.fill(func(int, int) yuv {
			s.rng ^= s.rng << 13
			s.rng ^= s.rng >> 7
			s.rng ^= s.rng << 17
			return yuv{uint8(s.rng), 128, 128}
		})
	case PatternMovingBox:
		size := min(100, min(w, h)/2)
		radius := float64(min(w, h)) / 4
		angle := float64(s.count) * 0.05
		bx := w/2 + int(radius*math.Cos(angle)) - size/2
		by := h/2 + int(radius*math.Sin(angle)) - size/2
		s.fill(func(x, y int) yuv {
			if x >= bx && x < bx+size && y >= by && y < by+size {
				return yuvWhite
			}
			return yuvBlack
		})
	}
}

// fill paints every luma sample with color(x, y) and every chroma sample
// with the chroma of its top-left luma position.
func (s *PatternSource) fill(color func(x, y int) yuv) {
	vf := s.video
	w, h := vf.Width, vf.Height
	for y := 0; y < h; y++ {
		row := vf.Data[0][y*vf.Stride[0]:]
		for x := 0; x < w; x++ {
			row[x] = color(x, y).y
		}
	}
	cw, ch := (w+1)/2, (h+1)/2
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			c := color(cx*2, cy*2)
			if vf.Format == PixelFormatNV12 {
				uv := vf.Data[1][cy*vf.Stride[1]+cx*2:]
				uv[0], uv[1] = c.u, c.v
			} else {
				vf.Data[1][cy*vf.Stride[1]+cx] = c.u
				vf.Data[2][cy*vf.Stride[2]+cx] = c.v
			}
		}
	}
}
