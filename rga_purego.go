//go:build linux && !normpp

// RGA binding: librkmedia_rga (ffi/rkmedia_rga.c) through purego.

package rkmedia

import (
	"fmt"
	"sync"
)

// RGALibPathEnv overrides the path of librkmedia_rga.
const RGALibPathEnv = "RKMEDIA_RGA_LIB_PATH"

var (
	rgaOnce    sync.Once
	rgaHandle  uintptr
	rgaInitErr error
)

var (
	rgaVersionFn func() uintptr
	rgaBlitFn    func(src, dst, pat *rgaShimImage, async, core, priority int32, fence *int32) int32
)

// rgaShimImage mirrors rkmedia_rga_image.
type rgaShimImage struct {
	fd, width, height int32
	wstride, hstride  int32
	format            int32
	x, y, w, h        int32
	rdMode, rotation  int32
	blend             uint32
	uncompact         int32
	color             int32
	core, priority    int32
}

func newRGAShimImage(img *RGAImage) *rgaShimImage {
	if img == nil {
		return nil
	}
	s := &rgaShimImage{
		fd:       int32(img.FD),
		width:    int32(img.Width),
		height:   int32(img.Height),
		wstride:  int32(img.WStride),
		hstride:  int32(img.HStride),
		format:   int32(img.Format),
		x:        int32(img.Rect.X),
		y:        int32(img.Rect.Y),
		w:        int32(img.Rect.W),
		h:        int32(img.Rect.H),
		rdMode:   int32(img.RdMode),
		rotation: int32(img.Rotation),
		blend:    img.Blend,
		color:    int32(img.Color),
		core:     int32(img.Core),
		priority: int32(img.Priority),
	}
	if img.Uncompact {
		s.uncompact = 1
	}
	return s
}

func loadRGA() error {
	rgaOnce.Do(func() {
		rgaHandle, rgaInitErr = dlopenFirst("librkmedia_rga",
			vendorLibPaths(RGALibPathEnv, "librkmedia_rga.so"),
			func(h uintptr) error {
				return registerSymbols(h, map[string]any{
					"rkmedia_rga_version": &rgaVersionFn,
					"rkmedia_rga_blit":    &rgaBlitFn,
				})
			})
	})
	return rgaInitErr
}

// IsRGAAvailable reports whether the accelerator library can be loaded.
func IsRGAAvailable() bool { return loadRGA() == nil }

// OpenRGA loads the accelerator library.
func OpenRGA() (RGA, error) {
	if err := loadRGA(); err != nil {
		return nil, err
	}
	return rgaLib{}, nil
}

type rgaLib struct{}

func (rgaLib) Version() string { return goStringFromPtr(rgaVersionFn()) }

func (rgaLib) Blit(req *BlitRequest) (int, error) {
	if req.Src == nil || req.Dst == nil {
		return -1, fmt.Errorf("%w: blit without source or destination", ErrInvalidArgument)
	}
	var async int32
	if req.Async {
		async = 1
	}
	fence := new(int32)
	ret := rgaBlitFn(newRGAShimImage(req.Src), newRGAShimImage(req.Dst), newRGAShimImage(req.Pat),
		async, int32(req.Core), int32(req.Priority), fence)
	if ret != 0 {
		return -1, vendorError("rga_blit", ret)
	}
	return int(*fence), nil
}
