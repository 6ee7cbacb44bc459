package rkmedia

import "fmt"

// TransformStride converts between the luma byte stride of a compressed
// (AFBC/RFBC) surface and the byte stride of the whole pixel block.
//
// The forward direction multiplies by the ratio of total samples to luma
// samples of the format's chroma class: 3/2 for 4:2:0, 2 for 4:2:2 and 3 for
// 4:4:4. Monochrome, RGB and packed formats are returned unchanged. Inverse
// divides, and must divide exactly.
func TransformStride(format PixelFormat, stride int, inverse bool) (int, error) {
	if stride <= 0 {
		return 0, fmt.Errorf("%w: stride %d", ErrInvalidArgument, stride)
	}
	m := format.meta()
	if m.Planes == 0 {
		return 0, fmt.Errorf("%w: stride of %s", ErrInvalidArgument, format)
	}
	if m.Components == 1 || m.Flags&pixRGB != 0 || m.Flags&pixPlanar == 0 {
		return stride, nil
	}

	var num, den int
	switch {
	case m.Log2ChromaW == 1 && m.Log2ChromaH == 1:
		num, den = 3, 2
	case m.Log2ChromaW == 1 && m.Log2ChromaH == 0:
		num, den = 2, 1
	case m.Log2ChromaW == 0 && m.Log2ChromaH == 0:
		num, den = 3, 1
	default:
		return 0, fmt.Errorf("%w: no stride transform for %s", ErrInvalidArgument, format)
	}
	if inverse {
		num, den = den, num
	}
	if (stride*num)%den != 0 {
		return 0, fmt.Errorf("%w: stride %d of %s not divisible by %d", ErrInvalidArgument, stride*num, format, den)
	}
	out := stride * num / den
	if out <= 0 {
		return 0, fmt.Errorf("%w: stride %d", ErrInvalidArgument, out)
	}
	return out, nil
}

// StrideAlignment is the smallest stride for which TransformStride
// round-trips exactly for format.
func StrideAlignment(format PixelFormat) int {
	m := format.meta()
	if m.Flags&pixPlanar != 0 && m.Flags&pixRGB == 0 && m.Components > 1 &&
		m.Log2ChromaW == 1 && m.Log2ChromaH == 1 {
		return 2
	}
	return 1
}

// pixelStride converts a byte pitch to a pixel stride (inverse) or a pixel
// stride to a byte pitch, using the padded bits per pixel of format.
func pixelStride(format PixelFormat, stride int, inverse bool) (int, error) {
	bpp := format.BitsPerPixel()
	if stride <= 0 || bpp <= 0 {
		return 0, fmt.Errorf("%w: pixel stride %d of %s", ErrInvalidArgument, stride, format)
	}
	var out int
	if inverse {
		out = stride * 8 / bpp
	} else {
		out = stride * bpp / 8
	}
	if out <= 0 {
		return 0, fmt.Errorf("%w: pixel stride %d", ErrInvalidArgument, out)
	}
	return out, nil
}

// planeStrides extracts the engine-facing horizontal and vertical strides of
// a linear descriptor: for packed formats the vertical stride is derived
// from the object size, for semi-planar formats from the chroma plane offset.
// When pixels is set the horizontal stride of packed formats is in pixels.
func planeStrides(d *FrameDescriptor, format PixelFormat, pixels bool) (hor, ver int, err error) {
	if d == nil || len(d.Objects) == 0 || len(d.Layers) == 0 || len(d.Layers[0].Planes) == 0 {
		return 0, 0, fmt.Errorf("%w: empty descriptor", ErrInvalidArgument)
	}
	layer := &d.Layers[0]
	pitch := layer.Planes[0].Pitch
	if pitch <= 0 {
		return 0, 0, fmt.Errorf("%w: pitch %d", ErrInvalidArgument, pitch)
	}
	if format.IsPacked() {
		hor = pitch
		if pixels {
			if hor, err = pixelStride(format, pitch, true); err != nil {
				return 0, 0, err
			}
		}
		a := 2
		if format.IsRGB() {
			a = 1
		}
		ver = alignDown(int(d.Objects[0].Size)/pitch, a)
	} else {
		if len(layer.Planes) < 2 {
			return 0, 0, fmt.Errorf("%w: %s needs two planes", ErrInvalidArgument, format)
		}
		hor = pitch
		ver = layer.Planes[1].Offset / pitch
	}
	if hor <= 0 || ver <= 0 {
		return 0, 0, fmt.Errorf("%w: strides %dx%d", ErrInvalidArgument, hor, ver)
	}
	return hor, ver, nil
}

// hwLinesize returns the pitch of one plane in a hardware pool buffer.
//
// 10-bit packed NV15/NV20 rows are padded to an odd multiple of 256 pixels,
// packed formats to 8 pixels and planar formats to 64 bytes.
func hwLinesize(format PixelFormat, width, plane int) int {
	m := format.meta()
	if format == PixelFormatNV15 || format == PixelFormatNV20 {
		w := width
		if plane == 1 {
			w = width << m.Log2ChromaW
		}
		return align((align(w, 256)|256)*10/8, 64)
	}
	ls := format.PlaneLinesize(width, plane)
	if format.IsPacked() {
		pw := m.BitsPP / 8
		if pw == 0 {
			return align(ls, 8)
		}
		return align(ls/pw, 8) * pw
	}
	return align(ls, 64)
}
