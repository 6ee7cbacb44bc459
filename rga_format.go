package rkmedia

// RGA surface formats.
const (
	RGAFormatRGBA8888      RGAFormat = 0x00 << 8
	RGAFormatRGBX8888      RGAFormat = 0x01 << 8
	RGAFormatRGB888        RGAFormat = 0x02 << 8
	RGAFormatBGRA8888      RGAFormat = 0x03 << 8
	RGAFormatRGB565        RGAFormat = 0x04 << 8
	RGAFormatRGBA5551      RGAFormat = 0x05 << 8
	RGAFormatBGR888        RGAFormat = 0x07 << 8
	RGAFormatYCbCr422SP    RGAFormat = 0x08 << 8
	RGAFormatYCbCr422P     RGAFormat = 0x09 << 8
	RGAFormatYCbCr420SP    RGAFormat = 0x0a << 8
	RGAFormatYCbCr420P     RGAFormat = 0x0b << 8
	RGAFormatYCrCb420SP    RGAFormat = 0x0e << 8
	RGAFormatYCbCr400      RGAFormat = 0x15 << 8
	RGAFormatYVYU422       RGAFormat = 0x18 << 8
	RGAFormatYUYV422       RGAFormat = 0x1c << 8
	RGAFormatUYVY422       RGAFormat = 0x1e << 8
	RGAFormatYCbCr420SP10B RGAFormat = 0x20 << 8
	RGAFormatYCbCr422SP10B RGAFormat = 0x22 << 8
	RGAFormatBGR565        RGAFormat = 0x24 << 8
	RGAFormatBGRA5551      RGAFormat = 0x25 << 8
	RGAFormatARGB8888      RGAFormat = 0x28 << 8
	RGAFormatABGR8888      RGAFormat = 0x2c << 8
	RGAFormatYCbCr444SP    RGAFormat = 0x32 << 8
	RGAFormatYCrCb444SP    RGAFormat = 0x33 << 8
)

// rgaFmtFlags annotates which accelerator classes can handle a format.
type rgaFmtFlags uint8

const (
	rgaRGA2In    rgaFmtFlags = 1 << iota // input only on RGA2
	rgaRGA2Out                           // output only on RGA2
	rgaRGA3Only                          // RGA3 only, both directions
	rgaRGA2Pro                           // RGA2-Pro only
	rgaOverlayOK                         // usable as an overlay layer
)

var rgaFormatMap = []struct {
	pix   PixelFormat
	rga   RGAFormat
	flags rgaFmtFlags
}{
	{PixelFormatGray8, RGAFormatYCbCr400, rgaRGA2In | rgaRGA2Out},
	{PixelFormatYUV420P, RGAFormatYCbCr420P, rgaRGA2In | rgaRGA2Out},
	{PixelFormatYUVJ420P, RGAFormatYCbCr420P, rgaRGA2In | rgaRGA2Out},
	{PixelFormatYUV422P, RGAFormatYCbCr422P, rgaRGA2In | rgaRGA2Out},
	{PixelFormatYUVJ422P, RGAFormatYCbCr422P, rgaRGA2In | rgaRGA2Out},
	{PixelFormatNV12, RGAFormatYCbCr420SP, 0},
	{PixelFormatNV21, RGAFormatYCrCb420SP, 0},
	{PixelFormatNV16, RGAFormatYCbCr422SP, 0},
	{PixelFormatNV24, RGAFormatYCbCr444SP, rgaRGA2Pro},
	{PixelFormatNV42, RGAFormatYCrCb444SP, rgaRGA2Pro},
	{PixelFormatP010, RGAFormatYCbCr420SP10B, rgaRGA3Only},
	{PixelFormatP210, RGAFormatYCbCr422SP10B, rgaRGA3Only},
	{PixelFormatNV15, RGAFormatYCbCr420SP10B, 0},
	{PixelFormatNV20, RGAFormatYCbCr422SP10B, 0},
	{PixelFormatYUYV422, RGAFormatYUYV422, 0},
	{PixelFormatYVYU422, RGAFormatYVYU422, 0},
	{PixelFormatUYVY422, RGAFormatUYVY422, 0},
	{PixelFormatRGB555, RGAFormatBGRA5551, rgaRGA2In | rgaRGA2Out | rgaOverlayOK},
	{PixelFormatBGR555, RGAFormatRGBA5551, rgaRGA2In | rgaRGA2Out | rgaOverlayOK},
	{PixelFormatRGB565, RGAFormatBGR565, rgaOverlayOK},
	{PixelFormatBGR565, RGAFormatRGB565, rgaOverlayOK},
	{PixelFormatRGB24, RGAFormatRGB888, rgaOverlayOK},
	{PixelFormatBGR24, RGAFormatBGR888, rgaOverlayOK},
	{PixelFormatRGBA, RGAFormatRGBA8888, rgaOverlayOK},
	// RGBX/BGRX surface codes force RGA2 on multicore devices.
	{PixelFormatRGB0, RGAFormatRGBA8888, rgaOverlayOK},
	{PixelFormatBGRA, RGAFormatBGRA8888, rgaOverlayOK},
	{PixelFormatBGR0, RGAFormatBGRA8888, rgaOverlayOK},
	{PixelFormatARGB, RGAFormatARGB8888, rgaRGA2Out | rgaOverlayOK},
	{PixelFormat0RGB, RGAFormatARGB8888, rgaRGA2Out | rgaOverlayOK},
	{PixelFormatABGR, RGAFormatABGR8888, rgaRGA2Out | rgaOverlayOK},
	{PixelFormat0BGR, RGAFormatABGR8888, rgaRGA2Out | rgaOverlayOK},
}

func rgaFormatEntry(p PixelFormat) (RGAFormat, rgaFmtFlags, bool) {
	for _, e := range rgaFormatMap {
		if e.pix == p {
			return e.rga, e.flags, true
		}
	}
	return 0, 0, false
}

// RGAFormatOf returns the accelerator surface format of p. Overlay layers
// accept RGB formats only.
func RGAFormatOf(p PixelFormat, overlay bool) (RGAFormat, bool) {
	f, flags, ok := rgaFormatEntry(p)
	if !ok || (overlay && flags&rgaOverlayOK == 0) {
		return 0, false
	}
	return f, true
}

// RGAFormats lists the pixel formats the accelerator handles.
func RGAFormats() []PixelFormat {
	out := make([]PixelFormat, len(rgaFormatMap))
	for i, e := range rgaFormatMap {
		out[i] = e.pix
	}
	return out
}

func rgaFlags(p PixelFormat) rgaFmtFlags {
	_, flags, _ := rgaFormatEntry(p)
	return flags
}

// rgaAFBCFormat returns the DRM layer format of an AFBC surface of p.
func rgaAFBCFormat(p PixelFormat) uint32 {
	switch p {
	case PixelFormatRGB565:
		return DRMFormatRGB565
	case PixelFormatBGR565:
		return DRMFormatBGR565
	case PixelFormatRGB24:
		return DRMFormatRGB888
	case PixelFormatBGR24:
		return DRMFormatBGR888
	case PixelFormatRGBA:
		return DRMFormatABGR8888
	case PixelFormatRGB0:
		return DRMFormatXBGR8888
	case PixelFormatBGRA:
		return DRMFormatARGB8888
	case PixelFormatBGR0:
		return DRMFormatXRGB8888
	}
	return rgaRFBCFormat(p)
}

// rgaRFBCFormat returns the DRM layer format of an RFBC surface of p.
func rgaRFBCFormat(p PixelFormat) uint32 {
	switch p {
	case PixelFormatNV12:
		return DRMFormatYUV420_8BIT
	case PixelFormatNV15:
		return DRMFormatYUV420_10BIT
	case PixelFormatNV16:
		return DRMFormatYUYV
	case PixelFormatNV20:
		return DRMFormatY210
	case PixelFormatNV24:
		return DRMFormatVUY888
	}
	return DRMFormatInvalid
}

// rga3StrideCompatible reports whether RGA3 can read a linear surface with
// pixel strides ws x hs.
func rga3StrideCompatible(ws, hs int, f RGAFormat) bool {
	switch f {
	case RGAFormatYCbCr420SP, RGAFormatYCrCb420SP, RGAFormatYCbCr422SP:
		return ws%16 == 0 && hs%2 == 0
	case RGAFormatYCbCr420SP10B, RGAFormatYCbCr422SP10B:
		return ws%64 == 0 && hs%2 == 0
	case RGAFormatYUYV422, RGAFormatYVYU422, RGAFormatUYVY422:
		return ws%8 == 0 && hs%2 == 0
	case RGAFormatRGB565, RGAFormatBGR565:
		return ws%8 == 0
	case RGAFormatRGB888, RGAFormatBGR888:
		return ws%16 == 0
	case RGAFormatRGBA8888, RGAFormatBGRA8888, RGAFormatARGB8888, RGAFormatABGR8888:
		return ws%4 == 0
	}
	return false
}

// rgaSurfaceStrides returns the pixel strides of a linear descriptor.
func rgaSurfaceStrides(d *FrameDescriptor, p PixelFormat) (ws, hs int, err error) {
	return planeStrides(d, p, true)
}
