package rkmedia

import (
	"math/big"
)

// PixelFormat represents a pipeline pixel format.
type PixelFormat int

const (
	PixelFormatNone     PixelFormat = iota
	PixelFormatDRMPrime             // Hardware frame, pixels live in a DMA-buf described by a FrameDescriptor
	PixelFormatGray8
	PixelFormatYUV420P  // YUV 4:2:0 planar (Y + U + V)
	PixelFormatYUVJ420P // YUV 4:2:0 planar, full range
	PixelFormatYUV422P
	PixelFormatYUVJ422P
	PixelFormatYUV444P
	PixelFormatYUVJ444P
	PixelFormatYUV420P10 // 10-bit in 16-bit little-endian words
	PixelFormatYUV422P10
	PixelFormatNV12 // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatNV21
	PixelFormatNV16
	PixelFormatNV61
	PixelFormatNV24
	PixelFormatNV42
	PixelFormatP010 // 10-bit NV12, MSB aligned in 16-bit words
	PixelFormatP210
	PixelFormatNV15 // 10-bit NV12, tightly packed
	PixelFormatNV20 // 10-bit NV16, tightly packed
	PixelFormatYUYV422
	PixelFormatYVYU422
	PixelFormatUYVY422
	PixelFormatRGB444
	PixelFormatBGR444
	PixelFormatRGB555
	PixelFormatBGR555
	PixelFormatRGB565
	PixelFormatBGR565
	PixelFormatRGB24
	PixelFormatBGR24
	PixelFormatRGBA
	PixelFormatRGB0
	PixelFormatBGRA
	PixelFormatBGR0
	PixelFormatARGB
	PixelFormat0RGB
	PixelFormatABGR
	PixelFormat0BGR
	PixelFormatX2RGB10
	PixelFormatX2BGR10
	pixelFormatCount
)

// pixFlags describes the memory layout class of a pixel format.
type pixFlags uint8

const (
	pixPlanar    pixFlags = 1 << iota // at least one plane holds a single component class
	pixRGB                            // RGB family
	pixAlpha                          // carries an alpha channel
	pixHW                             // opaque hardware surface
	pixBitstream                      // plane steps are in bits, not bytes
	pixFullRange                      // JPEG range YUV
)

// pixelFormatMeta contains static layout data about a pixel format.
type pixelFormatMeta struct {
	Name        string
	Components  uint8
	Log2ChromaW uint8
	Log2ChromaH uint8
	Flags       pixFlags
	Depth       uint8    // bits of the first component
	BitsPP      int      // padded bits per pixel
	Planes      int      // memory planes
	Steps       [4]uint8 // distance between horizontally adjacent elements per plane
}

// Static metadata table, indexed by PixelFormat.
var pixelFormatInfo = [pixelFormatCount]pixelFormatMeta{
	PixelFormatNone:      {"none", 0, 0, 0, 0, 0, 0, 0, [4]uint8{}},
	PixelFormatDRMPrime:  {"drm_prime", 0, 0, 0, pixHW, 0, 0, 0, [4]uint8{}},
	PixelFormatGray8:     {"gray", 1, 0, 0, 0, 8, 8, 1, [4]uint8{1}},
	PixelFormatYUV420P:   {"yuv420p", 3, 1, 1, pixPlanar, 8, 12, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUVJ420P:  {"yuvj420p", 3, 1, 1, pixPlanar | pixFullRange, 8, 12, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUV422P:   {"yuv422p", 3, 1, 0, pixPlanar, 8, 16, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUVJ422P:  {"yuvj422p", 3, 1, 0, pixPlanar | pixFullRange, 8, 16, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUV444P:   {"yuv444p", 3, 0, 0, pixPlanar, 8, 24, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUVJ444P:  {"yuvj444p", 3, 0, 0, pixPlanar | pixFullRange, 8, 24, 3, [4]uint8{1, 1, 1}},
	PixelFormatYUV420P10: {"yuv420p10le", 3, 1, 1, pixPlanar, 10, 24, 3, [4]uint8{2, 2, 2}},
	PixelFormatYUV422P10: {"yuv422p10le", 3, 1, 0, pixPlanar, 10, 32, 3, [4]uint8{2, 2, 2}},
	PixelFormatNV12:      {"nv12", 3, 1, 1, pixPlanar, 8, 12, 2, [4]uint8{1, 2}},
	PixelFormatNV21:      {"nv21", 3, 1, 1, pixPlanar, 8, 12, 2, [4]uint8{1, 2}},
	PixelFormatNV16:      {"nv16", 3, 1, 0, pixPlanar, 8, 16, 2, [4]uint8{1, 2}},
	PixelFormatNV61:      {"nv61", 3, 1, 0, pixPlanar, 8, 16, 2, [4]uint8{1, 2}},
	PixelFormatNV24:      {"nv24", 3, 0, 0, pixPlanar, 8, 24, 2, [4]uint8{1, 2}},
	PixelFormatNV42:      {"nv42", 3, 0, 0, pixPlanar, 8, 24, 2, [4]uint8{1, 2}},
	PixelFormatP010:      {"p010le", 3, 1, 1, pixPlanar, 10, 24, 2, [4]uint8{2, 4}},
	PixelFormatP210:      {"p210le", 3, 1, 0, pixPlanar, 10, 32, 2, [4]uint8{2, 4}},
	PixelFormatNV15:      {"nv15", 3, 1, 1, pixPlanar | pixBitstream, 10, 15, 2, [4]uint8{10, 20}},
	PixelFormatNV20:      {"nv20le", 3, 1, 0, pixPlanar | pixBitstream, 10, 20, 2, [4]uint8{10, 20}},
	PixelFormatYUYV422:   {"yuyv422", 3, 1, 0, 0, 8, 16, 1, [4]uint8{4}},
	PixelFormatYVYU422:   {"yvyu422", 3, 1, 0, 0, 8, 16, 1, [4]uint8{4}},
	PixelFormatUYVY422:   {"uyvy422", 3, 1, 0, 0, 8, 16, 1, [4]uint8{4}},
	PixelFormatRGB444:    {"rgb444le", 3, 0, 0, pixRGB, 4, 16, 1, [4]uint8{2}},
	PixelFormatBGR444:    {"bgr444le", 3, 0, 0, pixRGB, 4, 16, 1, [4]uint8{2}},
	PixelFormatRGB555:    {"rgb555le", 3, 0, 0, pixRGB, 5, 16, 1, [4]uint8{2}},
	PixelFormatBGR555:    {"bgr555le", 3, 0, 0, pixRGB, 5, 16, 1, [4]uint8{2}},
	PixelFormatRGB565:    {"rgb565le", 3, 0, 0, pixRGB, 5, 16, 1, [4]uint8{2}},
	PixelFormatBGR565:    {"bgr565le", 3, 0, 0, pixRGB, 5, 16, 1, [4]uint8{2}},
	PixelFormatRGB24:     {"rgb24", 3, 0, 0, pixRGB, 8, 24, 1, [4]uint8{3}},
	PixelFormatBGR24:     {"bgr24", 3, 0, 0, pixRGB, 8, 24, 1, [4]uint8{3}},
	PixelFormatRGBA:      {"rgba", 4, 0, 0, pixRGB | pixAlpha, 8, 32, 1, [4]uint8{4}},
	PixelFormatRGB0:      {"rgb0", 3, 0, 0, pixRGB, 8, 32, 1, [4]uint8{4}},
	PixelFormatBGRA:      {"bgra", 4, 0, 0, pixRGB | pixAlpha, 8, 32, 1, [4]uint8{4}},
	PixelFormatBGR0:      {"bgr0", 3, 0, 0, pixRGB, 8, 32, 1, [4]uint8{4}},
	PixelFormatARGB:      {"argb", 4, 0, 0, pixRGB | pixAlpha, 8, 32, 1, [4]uint8{4}},
	PixelFormat0RGB:      {"0rgb", 3, 0, 0, pixRGB, 8, 32, 1, [4]uint8{4}},
	PixelFormatABGR:      {"abgr", 4, 0, 0, pixRGB | pixAlpha, 8, 32, 1, [4]uint8{4}},
	PixelFormat0BGR:      {"0bgr", 3, 0, 0, pixRGB, 8, 32, 1, [4]uint8{4}},
	PixelFormatX2RGB10:   {"x2rgb10le", 3, 0, 0, pixRGB, 10, 32, 1, [4]uint8{4}},
	PixelFormatX2BGR10:   {"x2bgr10le", 3, 0, 0, pixRGB, 10, 32, 1, [4]uint8{4}},
}

func (p PixelFormat) meta() *pixelFormatMeta {
	if p < 0 || p >= pixelFormatCount {
		return &pixelFormatInfo[PixelFormatNone]
	}
	return &pixelFormatInfo[p]
}

func (p PixelFormat) String() string {
	if p < 0 || p >= pixelFormatCount {
		return "Unknown"
	}
	return pixelFormatInfo[p].Name
}

// PixelFormatByName looks up a format by its short name (e.g. "nv12").
func PixelFormatByName(name string) (PixelFormat, bool) {
	for i := range pixelFormatInfo {
		if pixelFormatInfo[i].Name == name && PixelFormat(i) != PixelFormatNone {
			return PixelFormat(i), true
		}
	}
	return PixelFormatNone, false
}

// PlaneCount returns the number of memory planes for this pixel format.
func (p PixelFormat) PlaneCount() int { return p.meta().Planes }

// Components returns the number of color components.
func (p PixelFormat) Components() int { return int(p.meta().Components) }

// ChromaShift returns log2 of the horizontal and vertical chroma subsampling.
func (p PixelFormat) ChromaShift() (w, h int) {
	m := p.meta()
	return int(m.Log2ChromaW), int(m.Log2ChromaH)
}

// Depth returns the bit depth of the first component.
func (p PixelFormat) Depth() int { return int(p.meta().Depth) }

// BitsPerPixel returns the padded bits per pixel used for buffer sizing.
func (p PixelFormat) BitsPerPixel() int { return p.meta().BitsPP }

// IsPlanar reports whether the format stores components in separate planes.
func (p PixelFormat) IsPlanar() bool { return p.meta().Flags&pixPlanar != 0 }

// IsRGB reports whether the format belongs to the RGB family.
func (p PixelFormat) IsRGB() bool { return p.meta().Flags&pixRGB != 0 }

// HasAlpha reports whether the format carries an alpha channel.
func (p PixelFormat) HasAlpha() bool { return p.meta().Flags&pixAlpha != 0 }

// IsHardware reports whether the format is an opaque hardware surface.
func (p PixelFormat) IsHardware() bool { return p.meta().Flags&pixHW != 0 }

// IsFullRange reports JPEG-range YUV formats.
func (p PixelFormat) IsFullRange() bool { return p.meta().Flags&pixFullRange != 0 }

// IsPacked reports formats stored in a single interleaved plane.
func (p PixelFormat) IsPacked() bool {
	m := p.meta()
	return m.Planes > 0 && (m.Flags&pixRGB != 0 || m.Flags&pixPlanar == 0)
}

// IsYUV reports non-RGB, non-hardware formats with chroma.
func (p PixelFormat) IsYUV() bool {
	m := p.meta()
	return m.Components >= 3 && m.Flags&(pixRGB|pixHW) == 0
}

// IsGray reports monochrome formats.
func (p PixelFormat) IsGray() bool { return p.meta().Components == 1 }

func ceilShift(v int, s uint8) int { return -((-v) >> s) }

// PlaneLinesize returns the minimum bytes per row of the given plane.
func (p PixelFormat) PlaneLinesize(width, plane int) int {
	m := p.meta()
	if plane < 0 || plane >= m.Planes || width <= 0 {
		return 0
	}
	w := width
	switch {
	case m.Flags&pixPlanar != 0 && m.Flags&pixRGB == 0 && (plane == 1 || plane == 2):
		w = ceilShift(width, m.Log2ChromaW)
	case m.Flags&(pixPlanar|pixRGB) == 0 && m.Components == 3:
		// packed 4:2:2, one step covers two pixels
		w = ceilShift(width, m.Log2ChromaW)
	}
	if m.Flags&pixBitstream != 0 {
		return (int(m.Steps[plane])*w + 7) >> 3
	}
	return int(m.Steps[plane]) * w
}

// PlaneHeight returns the number of rows in the given plane.
func (p PixelFormat) PlaneHeight(height, plane int) int {
	m := p.meta()
	if plane < 0 || plane >= m.Planes {
		return 0
	}
	if plane == 1 || plane == 2 {
		if m.Flags&pixPlanar != 0 && m.Flags&pixRGB == 0 {
			return ceilShift(height, m.Log2ChromaH)
		}
	}
	return height
}

// Rational is a fraction, typically a time base or an aspect ratio.
type Rational struct {
	Num int
	Den int
}

// MicrosecondTimeBase is the time base of vendor timestamps.
var MicrosecondTimeBase = Rational{1, 1000000}

// IsZero reports an unset rational.
func (r Rational) IsZero() bool { return r.Num == 0 || r.Den == 0 }

// Float returns the value as a float64, or 0 when unset.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Reduce returns an equivalent fraction with both terms bounded by max.
func (r Rational) Reduce(max int) Rational {
	if r.Den == 0 {
		return r
	}
	a := new(big.Rat).SetFrac64(int64(r.Num), int64(r.Den))
	num, den := a.Num().Int64(), a.Denom().Int64()
	for abs64(num) > int64(max) || den > int64(max) {
		num, den = (num+1)/2, (den+1)/2
		if den == 0 {
			den = 1
		}
	}
	return Rational{int(num), int(den)}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// NoPTS marks an unknown timestamp.
const NoPTS int64 = -1 << 63

// RescaleTS converts ts from one time base to another, rounding to nearest.
func RescaleTS(ts int64, from, to Rational) int64 {
	if ts == NoPTS || from.IsZero() || to.IsZero() {
		return ts
	}
	n := new(big.Int).Mul(big.NewInt(ts), big.NewInt(int64(from.Num)*int64(to.Den)))
	d := big.NewInt(int64(from.Den) * int64(to.Num))
	half := new(big.Int).Quo(d, big.NewInt(2))
	if n.Sign() < 0 {
		n.Sub(n, half)
	} else {
		n.Add(n, half)
	}
	return n.Quo(n, d).Int64()
}

// Color properties use the ITU-T H.273 code points, which the vendor SDKs share.
type (
	ColorRange     int
	ColorPrimaries int
	ColorTransfer  int
	ColorSpace     int
	ChromaLocation int
)

const (
	ColorRangeUnspecified ColorRange = 0
	ColorRangeMPEG        ColorRange = 1 // limited
	ColorRangeJPEG        ColorRange = 2 // full
)

const (
	ColorPrimariesReserved0   ColorPrimaries = 0
	ColorPrimariesBT709       ColorPrimaries = 1
	ColorPrimariesUnspecified ColorPrimaries = 2
	ColorPrimariesBT2020      ColorPrimaries = 9
)

const (
	ColorTransferReserved0   ColorTransfer = 0
	ColorTransferBT709       ColorTransfer = 1
	ColorTransferUnspecified ColorTransfer = 2
	ColorTransferSMPTE2084   ColorTransfer = 16 // PQ
	ColorTransferARIBSTDB67  ColorTransfer = 18 // HLG
)

const (
	ColorSpaceRGB         ColorSpace = 0
	ColorSpaceBT709       ColorSpace = 1
	ColorSpaceUnspecified ColorSpace = 2
	ColorSpaceReserved    ColorSpace = 3
	ColorSpaceBT470BG     ColorSpace = 5
	ColorSpaceSMPTE170M   ColorSpace = 6
	ColorSpaceBT2020NCL   ColorSpace = 9
)

// ColorProps groups the color description carried with a frame.
type ColorProps struct {
	Range     ColorRange
	Primaries ColorPrimaries
	Transfer  ColorTransfer
	Space     ColorSpace
	ChromaLoc ChromaLocation
}

// MasteringDisplay is SMPTE ST 2086 mastering display metadata.
// Primaries are ordered R, G, B.
type MasteringDisplay struct {
	Primaries    [3][2]Rational
	WhitePoint   [2]Rational
	MinLuminance Rational
	MaxLuminance Rational
	HasPrimaries bool
	HasLuminance bool
}

// ContentLight is the content light level side data.
type ContentLight struct {
	MaxCLL  uint32
	MaxFALL uint32
}

// PictureType tags the coding type of a frame.
type PictureType int

const (
	PictureTypeNone PictureType = iota
	PictureTypeI
	PictureTypeP
	PictureTypeB
)

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// VideoFrame represents a raw video frame in CPU memory.
// The Data slices may point to mapped device memory.
// Callers must ensure the data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data (1-4 planes depending on format)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// NewVideoFrame allocates a frame with 32-byte aligned strides.
func NewVideoFrame(format PixelFormat, width, height int) (*VideoFrame, error) {
	if format.IsHardware() || format.PlaneCount() == 0 || width <= 0 || height <= 0 {
		return nil, ErrInvalidArgument
	}
	n := format.PlaneCount()
	f := &VideoFrame{
		Data:   make([][]byte, n),
		Stride: make([]int, n),
		Width:  width,
		Height: height,
		Format: format,
	}
	for i := 0; i < n; i++ {
		f.Stride[i] = align(format.PlaneLinesize(width, i), 32)
		f.Data[i] = make([]byte, f.Stride[i]*format.PlaneHeight(height, i))
	}
	return f, nil
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// copyVideoPlanes copies width x height pixels of every plane from src to dst.
// Both frames must share a format.
func copyVideoPlanes(dst, src *VideoFrame, width, height int) error {
	if dst.Format != src.Format {
		return ErrInvalidArgument
	}
	for p := 0; p < src.Format.PlaneCount(); p++ {
		row := src.Format.PlaneLinesize(width, p)
		rows := src.Format.PlaneHeight(height, p)
		if p >= len(dst.Data) || p >= len(src.Data) {
			return ErrInvalidArgument
		}
		for y := 0; y < rows; y++ {
			so, do := y*src.Stride[p], y*dst.Stride[p]
			if so+row > len(src.Data[p]) || do+row > len(dst.Data[p]) {
				return ErrInvalidArgument
			}
			copy(dst.Data[p][do:do+row], src.Data[p][so:so+row])
		}
	}
	return nil
}

// Frame is the pipeline-native frame exchanged with the sessions.
//
// A hardware frame has Format == PixelFormatDRMPrime and a Descriptor; SwFormat
// names the layout inside the DMA-buf. A software frame carries Video instead.
type Frame struct {
	Format   PixelFormat
	SwFormat PixelFormat
	Width    int
	Height   int

	CropTop, CropBottom, CropLeft, CropRight int

	PTS      int64
	TimeBase Rational
	KeyFrame bool
	PictType PictureType

	Interlaced    bool
	TopFieldFirst bool
	SAR           Rational
	Color         ColorProps
	Mastering     *MasteringDisplay
	ContentLight  *ContentLight

	Descriptor *FrameDescriptor
	Video      *VideoFrame

	released bool
}

// IsHardware reports whether the frame's pixels live in a DMA-buf.
func (f *Frame) IsHardware() bool {
	return f != nil && f.Format == PixelFormatDRMPrime && f.Descriptor != nil
}

// Ref returns a new frame sharing the same hardware buffer.
func (f *Frame) Ref() *Frame {
	c := *f
	c.released = false
	if c.Descriptor != nil {
		c.Descriptor.retain()
	}
	return &c
}

// Release drops this frame's reference. The descriptor's owners are released
// when the last frame referencing it is released. Safe to call twice.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	if f.Descriptor != nil {
		f.Descriptor.unref()
	}
}

// CopyProps copies timing, color and side data from f to dst.
func (f *Frame) CopyProps(dst *Frame) {
	dst.PTS = f.PTS
	dst.TimeBase = f.TimeBase
	dst.KeyFrame = f.KeyFrame
	dst.PictType = f.PictType
	dst.Interlaced = f.Interlaced
	dst.TopFieldFirst = f.TopFieldFirst
	dst.SAR = f.SAR
	dst.Color = f.Color
	dst.CropTop, dst.CropBottom, dst.CropLeft, dst.CropRight = f.CropTop, f.CropBottom, f.CropLeft, f.CropRight
	if f.Mastering != nil {
		m := *f.Mastering
		dst.Mastering = &m
	}
	if f.ContentLight != nil {
		c := *f.ContentLight
		dst.ContentLight = &c
	}
}

// layout returns the software format of the frame's pixels.
func (f *Frame) layout() PixelFormat {
	if f.Format == PixelFormatDRMPrime {
		return f.SwFormat
	}
	return f.Format
}

// Packet holds compressed data entering a decoder or leaving an encoder.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	TimeBase Rational
	KeyFrame bool
}

// IsKeyframe returns true if this packet starts a keyframe.
func (p *Packet) IsKeyframe() bool { return p.KeyFrame }

// Clone creates a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := *p
	if p.Data != nil {
		clone.Data = make([]byte, len(p.Data))
		copy(clone.Data, p.Data)
	}
	return &clone
}

func align(v, a int) int { return (v + a - 1) &^ (a - 1) }

func alignDown(v, a int) int { return v &^ (a - 1) }
