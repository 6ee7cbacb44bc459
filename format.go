package rkmedia

// DRM fourcc codes and format modifiers used in frame descriptors.

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// DRMFormatInvalid is returned for pixel formats with no DRM equivalent.
const DRMFormatInvalid uint32 = 0

var (
	DRMFormatR8       = fourcc('R', '8', ' ', ' ')
	DRMFormatYUV420   = fourcc('Y', 'U', '1', '2')
	DRMFormatYUV422   = fourcc('Y', 'U', '1', '6')
	DRMFormatYUV444   = fourcc('Y', 'U', '2', '4')
	DRMFormatNV12     = fourcc('N', 'V', '1', '2')
	DRMFormatNV21     = fourcc('N', 'V', '2', '1')
	DRMFormatNV16     = fourcc('N', 'V', '1', '6')
	DRMFormatNV24     = fourcc('N', 'V', '2', '4')
	DRMFormatP010     = fourcc('P', '0', '1', '0')
	DRMFormatNV15     = fourcc('N', 'V', '1', '5')
	DRMFormatNV20     = fourcc('N', 'V', '2', '0')
	DRMFormatYUYV     = fourcc('Y', 'U', 'Y', 'V')
	DRMFormatYVYU     = fourcc('Y', 'V', 'Y', 'U')
	DRMFormatUYVY     = fourcc('U', 'Y', 'V', 'Y')
	DRMFormatXRGB1555 = fourcc('X', 'R', '1', '5')
	DRMFormatXBGR1555 = fourcc('X', 'B', '1', '5')
	DRMFormatRGB565   = fourcc('R', 'G', '1', '6')
	DRMFormatBGR565   = fourcc('B', 'G', '1', '6')
	DRMFormatRGB888   = fourcc('R', 'G', '2', '4')
	DRMFormatBGR888   = fourcc('B', 'G', '2', '4')
	DRMFormatABGR8888 = fourcc('A', 'B', '2', '4')
	DRMFormatXBGR8888 = fourcc('X', 'B', '2', '4')
	DRMFormatARGB8888 = fourcc('A', 'R', '2', '4')
	DRMFormatXRGB8888 = fourcc('X', 'R', '2', '4')
	DRMFormatBGRA8888 = fourcc('B', 'A', '2', '4')
	DRMFormatBGRX8888 = fourcc('B', 'X', '2', '4')
	DRMFormatRGBA8888 = fourcc('R', 'A', '2', '4')
	DRMFormatRGBX8888 = fourcc('R', 'X', '2', '4')

	// Layer formats of AFBC compressed surfaces.
	DRMFormatYUV420_8BIT  = fourcc('Y', 'U', '0', '8')
	DRMFormatYUV420_10BIT = fourcc('Y', 'U', '1', '0')
	DRMFormatY210         = fourcc('Y', '2', '1', '0')
	DRMFormatVUY888       = fourcc('V', 'U', '2', '4')
)

// Format modifiers.
const (
	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 1<<56 - 1

	AFBCBlockSize16x16 uint64 = 1
	AFBCSparse         uint64 = 1 << 6
	RFBCBlockSize64x4  uint64 = 1
)

// ModifierARMAFBC returns the ARM AFBC modifier with the given mode bits.
func ModifierARMAFBC(mode uint64) uint64 { return 0x08<<56 | mode }

// ModifierRockchipRFBC returns the Rockchip RFBC modifier with the given mode bits.
func ModifierRockchipRFBC(mode uint64) uint64 { return 0x0b<<56 | 1<<52 | mode }

// IsAFBC reports whether mod is an ARM AFBC modifier.
func IsAFBC(mod uint64) bool { return mod>>52 == 0x80 }

// IsRFBC reports whether mod is a Rockchip RFBC modifier.
func IsRFBC(mod uint64) bool { return mod>>52 == 0xb1 }

// drmFormatMap is the pixel format to DRM fourcc table of hardware frames.
var drmFormatMap = []struct {
	pix PixelFormat
	drm uint32
}{
	{PixelFormatGray8, DRMFormatR8},
	{PixelFormatYUV420P, DRMFormatYUV420},
	{PixelFormatYUV422P, DRMFormatYUV422},
	{PixelFormatYUV444P, DRMFormatYUV444},
	{PixelFormatNV12, DRMFormatNV12},
	{PixelFormatNV21, DRMFormatNV21},
	{PixelFormatNV16, DRMFormatNV16},
	{PixelFormatNV24, DRMFormatNV24},
	{PixelFormatP010, DRMFormatP010},
	{PixelFormatNV15, DRMFormatNV15},
	{PixelFormatNV20, DRMFormatNV20},
	{PixelFormatYUYV422, DRMFormatYUYV},
	{PixelFormatYVYU422, DRMFormatYVYU},
	{PixelFormatUYVY422, DRMFormatUYVY},
	{PixelFormatRGB555, DRMFormatXRGB1555},
	{PixelFormatBGR555, DRMFormatXBGR1555},
	{PixelFormatRGB565, DRMFormatRGB565},
	{PixelFormatBGR565, DRMFormatBGR565},
	{PixelFormatRGB24, DRMFormatRGB888},
	{PixelFormatBGR24, DRMFormatBGR888},
	{PixelFormatRGBA, DRMFormatABGR8888},
	{PixelFormatRGB0, DRMFormatXBGR8888},
	{PixelFormatBGRA, DRMFormatARGB8888},
	{PixelFormatBGR0, DRMFormatXRGB8888},
	{PixelFormatARGB, DRMFormatBGRA8888},
	{PixelFormat0RGB, DRMFormatBGRX8888},
	{PixelFormatABGR, DRMFormatRGBA8888},
	{PixelFormat0BGR, DRMFormatRGBX8888},
}

// DRMFormat returns the DRM fourcc of a pixel format, or DRMFormatInvalid.
func DRMFormat(p PixelFormat) uint32 {
	for _, e := range drmFormatMap {
		if e.pix == p {
			return e.drm
		}
	}
	return DRMFormatInvalid
}

// PixelFormatFromDRM is the inverse of DRMFormat.
func PixelFormatFromDRM(drm uint32) PixelFormat {
	for _, e := range drmFormatMap {
		if e.drm == drm {
			return e.pix
		}
	}
	return PixelFormatNone
}

// SupportedHWFormats lists the software formats a hardware frame pool can hold.
func SupportedHWFormats() []PixelFormat {
	out := make([]PixelFormat, len(drmFormatMap))
	for i, e := range drmFormatMap {
		out[i] = e.pix
	}
	return out
}

// MPPFormat is the vendor frame format (MppFrameFormat).
type MPPFormat uint32

const (
	MPPFmtYUV420SP      MPPFormat = 0
	MPPFmtYUV420SP10Bit MPPFormat = 1
	MPPFmtYUV422SP      MPPFormat = 2
	MPPFmtYUV422SP10Bit MPPFormat = 3
	MPPFmtYUV420P       MPPFormat = 4
	MPPFmtYUV420SPVU    MPPFormat = 5
	MPPFmtYUV422P       MPPFormat = 6
	MPPFmtYUV422SPVU    MPPFormat = 7
	MPPFmtYUV422YUYV    MPPFormat = 8
	MPPFmtYUV422YVYU    MPPFormat = 9
	MPPFmtYUV422UYVY    MPPFormat = 10
	MPPFmtYUV422VYUY    MPPFormat = 11
	MPPFmtYUV400        MPPFormat = 12
	MPPFmtYUV440SP      MPPFormat = 13
	MPPFmtYUV411SP      MPPFormat = 14
	MPPFmtYUV444SP      MPPFormat = 15
	MPPFmtYUV444P       MPPFormat = 16

	mppFmtRGBBase   MPPFormat = 0x10000
	MPPFmtRGB565    MPPFormat = mppFmtRGBBase + 0
	MPPFmtBGR565    MPPFormat = mppFmtRGBBase + 1
	MPPFmtRGB555    MPPFormat = mppFmtRGBBase + 2
	MPPFmtBGR555    MPPFormat = mppFmtRGBBase + 3
	MPPFmtRGB444    MPPFormat = mppFmtRGBBase + 4
	MPPFmtBGR444    MPPFormat = mppFmtRGBBase + 5
	MPPFmtRGB888    MPPFormat = mppFmtRGBBase + 6
	MPPFmtBGR888    MPPFormat = mppFmtRGBBase + 7
	MPPFmtRGB101010 MPPFormat = mppFmtRGBBase + 8
	MPPFmtBGR101010 MPPFormat = mppFmtRGBBase + 9
	MPPFmtARGB8888  MPPFormat = mppFmtRGBBase + 10
	MPPFmtABGR8888  MPPFormat = mppFmtRGBBase + 11
	MPPFmtBGRA8888  MPPFormat = mppFmtRGBBase + 12
	MPPFmtRGBA8888  MPPFormat = mppFmtRGBBase + 13

	MPPFmtBase    MPPFormat = 0x000fffff // mask of the base format
	MPPFmtFBCMask MPPFormat = 0x00f00000
	MPPFmtAFBCV2  MPPFormat = 0x00200000

	MPPFmtInvalid MPPFormat = 0xffffffff
)

// Base strips the compression flags.
func (f MPPFormat) Base() MPPFormat { return f & MPPFmtBase }

// IsFBC reports whether the format carries a frame buffer compression flag.
func (f MPPFormat) IsFBC() bool { return f != MPPFmtInvalid && f&MPPFmtFBCMask != 0 }

// DecoderDRMFormat maps a decoder output format to its linear DRM fourcc.
func DecoderDRMFormat(f MPPFormat) uint32 {
	switch f.Base() {
	case MPPFmtYUV420SP:
		return DRMFormatNV12
	case MPPFmtYUV420SP10Bit:
		return DRMFormatNV15
	case MPPFmtYUV422SP:
		return DRMFormatNV16
	case MPPFmtYUV422SP10Bit:
		return DRMFormatNV20
	case MPPFmtYUV444SP:
		return DRMFormatNV24
	default:
		return DRMFormatInvalid
	}
}

// DecoderAFBCFormat maps a decoder output format to the AFBC layer fourcc.
func DecoderAFBCFormat(f MPPFormat) uint32 {
	switch f.Base() {
	case MPPFmtYUV420SP:
		return DRMFormatYUV420_8BIT
	case MPPFmtYUV420SP10Bit:
		return DRMFormatYUV420_10BIT
	case MPPFmtYUV422SP:
		return DRMFormatYUYV
	case MPPFmtYUV422SP10Bit:
		return DRMFormatY210
	case MPPFmtYUV444SP:
		return DRMFormatVUY888
	default:
		return DRMFormatInvalid
	}
}

// DecoderPixelFormat maps a decoder output format to the pipeline format.
func DecoderPixelFormat(f MPPFormat) PixelFormat {
	switch f.Base() {
	case MPPFmtYUV420SP:
		return PixelFormatNV12
	case MPPFmtYUV420SP10Bit:
		return PixelFormatNV15
	case MPPFmtYUV422SP:
		return PixelFormatNV16
	case MPPFmtYUV422SP10Bit:
		return PixelFormatNV20
	case MPPFmtYUV444SP:
		return PixelFormatNV24
	default:
		return PixelFormatNone
	}
}

// encoderFormats lists the H.264/H.265 encoder input formats.
var encoderFormats = map[PixelFormat]MPPFormat{
	PixelFormatGray8:    MPPFmtYUV400,
	PixelFormatYUV420P:  MPPFmtYUV420P,
	PixelFormatYUVJ420P: MPPFmtYUV420P,
	PixelFormatYUV422P:  MPPFmtYUV422P,
	PixelFormatYUVJ422P: MPPFmtYUV422P,
	PixelFormatYUV444P:  MPPFmtYUV444P,
	PixelFormatYUVJ444P: MPPFmtYUV444P,
	PixelFormatNV12:     MPPFmtYUV420SP,
	PixelFormatNV21:     MPPFmtYUV420SPVU,
	PixelFormatNV16:     MPPFmtYUV422SP,
	PixelFormatNV24:     MPPFmtYUV444SP,
	PixelFormatYUYV422:  MPPFmtYUV422YUYV,
	PixelFormatYVYU422:  MPPFmtYUV422YVYU,
	PixelFormatUYVY422:  MPPFmtYUV422UYVY,
	PixelFormatRGB24:    MPPFmtRGB888,
	PixelFormatBGR24:    MPPFmtBGR888,
	PixelFormatRGBA:     MPPFmtRGBA8888,
	PixelFormatRGB0:     MPPFmtRGBA8888,
	PixelFormatBGRA:     MPPFmtBGRA8888,
	PixelFormatBGR0:     MPPFmtBGRA8888,
	PixelFormatARGB:     MPPFmtARGB8888,
	PixelFormat0RGB:     MPPFmtARGB8888,
	PixelFormatABGR:     MPPFmtABGR8888,
	PixelFormat0BGR:     MPPFmtABGR8888,
}

// mjpegFormats lists the MJPEG encoder input formats.
var mjpegFormats = map[PixelFormat]MPPFormat{
	PixelFormatYUV420P:  MPPFmtYUV420P,
	PixelFormatYUVJ420P: MPPFmtYUV420P,
	PixelFormatNV12:     MPPFmtYUV420SP,
	PixelFormatYUYV422:  MPPFmtYUV422YUYV,
	PixelFormatUYVY422:  MPPFmtYUV422UYVY,
	PixelFormatRGB444:   MPPFmtRGB444,
	PixelFormatBGR444:   MPPFmtBGR444,
	PixelFormatRGB555:   MPPFmtRGB555,
	PixelFormatBGR555:   MPPFmtBGR555,
	PixelFormatRGB565:   MPPFmtRGB565,
	PixelFormatBGR565:   MPPFmtBGR565,
	PixelFormatRGBA:     MPPFmtRGBA8888,
	PixelFormatRGB0:     MPPFmtRGBA8888,
	PixelFormatBGRA:     MPPFmtBGRA8888,
	PixelFormatBGR0:     MPPFmtBGRA8888,
	PixelFormatARGB:     MPPFmtARGB8888,
	PixelFormat0RGB:     MPPFmtARGB8888,
	PixelFormatABGR:     MPPFmtABGR8888,
	PixelFormat0BGR:     MPPFmtABGR8888,
	PixelFormatX2RGB10:  MPPFmtRGB101010,
	PixelFormatX2BGR10:  MPPFmtBGR101010,
}

// EncoderMPPFormat maps an encoder input format to the vendor format.
func EncoderMPPFormat(codec VideoCodec, p PixelFormat) MPPFormat {
	table := encoderFormats
	if codec == VideoCodecMJPEG {
		table = mjpegFormats
	}
	if f, ok := table[p]; ok {
		return f
	}
	return MPPFmtInvalid
}

// EncoderInputFormats lists the software formats accepted by an encoder.
func EncoderInputFormats(codec VideoCodec) []PixelFormat {
	table := encoderFormats
	if codec == VideoCodecMJPEG {
		table = mjpegFormats
	}
	out := make([]PixelFormat, 0, len(table))
	for p := PixelFormat(0); p < pixelFormatCount; p++ {
		if _, ok := table[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// EncoderAFBCFormat maps an encoder input format to the expected AFBC layer fourcc.
func EncoderAFBCFormat(f MPPFormat) uint32 {
	switch f.Base() {
	case MPPFmtYUV420SP:
		return DRMFormatYUV420_8BIT
	case MPPFmtYUV422SP:
		return DRMFormatYUYV
	default:
		return DRMFormatInvalid
	}
}
