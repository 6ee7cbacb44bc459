package rkmedia

import (
	"testing"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatNV12, "nv12"},
		{PixelFormatYUV420P, "yuv420p"},
		{PixelFormatNV15, "nv15"},
		{PixelFormatDRMPrime, "drm_prime"},
		{PixelFormatRGBA, "rgba"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormatByName(t *testing.T) {
	for p := PixelFormatDRMPrime; p < pixelFormatCount; p++ {
		got, ok := PixelFormatByName(p.String())
		if !ok || got != p {
			t.Errorf("PixelFormatByName(%q) = %v, %v, want %v", p.String(), got, ok, p)
		}
	}
	if _, ok := PixelFormatByName("none"); ok {
		t.Error("PixelFormatByName(none) should not resolve")
	}
	if _, ok := PixelFormatByName("i420"); ok {
		t.Error("PixelFormatByName(i420) should not resolve")
	}
}

func TestPixelFormat_Layout(t *testing.T) {
	tests := []struct {
		format PixelFormat
		planes int
		packed bool
		yuv    bool
		rgb    bool
	}{
		{PixelFormatNV12, 2, false, true, false},
		{PixelFormatYUV420P, 3, false, true, false},
		{PixelFormatYUYV422, 1, true, true, false},
		{PixelFormatRGB24, 1, true, false, true},
		{PixelFormatBGRA, 1, true, false, true},
		{PixelFormatGray8, 1, true, false, false},
		{PixelFormatDRMPrime, 0, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.PlaneCount(); got != tt.planes {
				t.Errorf("PlaneCount() = %v, want %v", got, tt.planes)
			}
			if got := tt.format.IsPacked(); got != tt.packed {
				t.Errorf("IsPacked() = %v, want %v", got, tt.packed)
			}
			if got := tt.format.IsYUV(); got != tt.yuv {
				t.Errorf("IsYUV() = %v, want %v", got, tt.yuv)
			}
			if got := tt.format.IsRGB(); got != tt.rgb {
				t.Errorf("IsRGB() = %v, want %v", got, tt.rgb)
			}
		})
	}
}

func TestPixelFormat_PlaneLinesize(t *testing.T) {
	tests := []struct {
		format PixelFormat
		width  int
		plane  int
		want   int
	}{
		{PixelFormatNV12, 1920, 0, 1920},
		{PixelFormatNV12, 1920, 1, 1920},
		{PixelFormatNV12, 33, 1, 34},
		{PixelFormatYUV420P, 33, 2, 17},
		{PixelFormatP010, 1920, 0, 3840},
		{PixelFormatNV15, 1920, 0, 2400},
		{PixelFormatNV15, 1920, 1, 2400},
		{PixelFormatYUYV422, 640, 0, 1280},
		{PixelFormatRGB24, 640, 0, 1920},
		{PixelFormatNV12, 1920, 2, 0},
	}

	for _, tt := range tests {
		if got := tt.format.PlaneLinesize(tt.width, tt.plane); got != tt.want {
			t.Errorf("%s.PlaneLinesize(%d, %d) = %v, want %v", tt.format, tt.width, tt.plane, got, tt.want)
		}
	}
}

func TestNewVideoFrame(t *testing.T) {
	tests := []struct {
		format  PixelFormat
		w, h    int
		strides []int
		sizes   []int
	}{
		{PixelFormatNV12, 100, 50, []int{128, 128}, []int{128 * 50, 128 * 25}},
		{PixelFormatYUV420P, 33, 17, []int{64, 32, 32}, []int{64 * 17, 32 * 9, 32 * 9}},
		{PixelFormatRGBA, 10, 2, []int{64}, []int{128}},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			f, err := NewVideoFrame(tt.format, tt.w, tt.h)
			if err != nil {
				t.Fatalf("NewVideoFrame() error = %v", err)
			}
			for i := range tt.strides {
				if f.Stride[i] != tt.strides[i] {
					t.Errorf("Stride[%d] = %v, want %v", i, f.Stride[i], tt.strides[i])
				}
				if len(f.Data[i]) != tt.sizes[i] {
					t.Errorf("len(Data[%d]) = %v, want %v", i, len(f.Data[i]), tt.sizes[i])
				}
			}
		})
	}

	if _, err := NewVideoFrame(PixelFormatDRMPrime, 16, 16); err == nil {
		t.Error("NewVideoFrame(drm_prime) should fail")
	}
	if _, err := NewVideoFrame(PixelFormatNV12, 0, 16); err == nil {
		t.Error("NewVideoFrame(0x16) should fail")
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	original := &VideoFrame{
		Data: [][]byte{
			{1, 2, 3, 4},
			{5, 6, 7, 8},
		},
		Stride:    []int{2, 2},
		Width:     2,
		Height:    2,
		Format:    PixelFormatNV12,
		Timestamp: 12345,
		Duration:  33333,
	}

	clone := original.Clone()

	if clone.Width != original.Width || clone.Height != original.Height {
		t.Error("Clone dimensions mismatch")
	}
	if clone.Format != original.Format {
		t.Error("Clone format mismatch")
	}
	if clone.Timestamp != original.Timestamp || clone.Duration != original.Duration {
		t.Error("Clone timing mismatch")
	}
	for i := range original.Data {
		for j := range original.Data[i] {
			if clone.Data[i][j] != original.Data[i][j] {
				t.Errorf("Clone data mismatch at plane %d, index %d", i, j)
			}
		}
	}

	clone.Data[0][0] = 99
	if original.Data[0][0] == 99 {
		t.Error("Clone is not independent from original")
	}
}

func TestCopyVideoPlanes(t *testing.T) {
	src, _ := NewVideoFrame(PixelFormatNV12, 4, 4)
	for p := range src.Data {
		for i := range src.Data[p] {
			src.Data[p][i] = byte(p*100 + i)
		}
	}
	dst := &VideoFrame{
		Format: PixelFormatNV12,
		Stride: []int{8, 8},
		Data:   [][]byte{make([]byte, 32), make([]byte, 16)},
	}
	if err := copyVideoPlanes(dst, src, 4, 4); err != nil {
		t.Fatalf("copyVideoPlanes() error = %v", err)
	}
	// Row 1 of the luma plane starts at src stride 32 and dst stride 8.
	if dst.Data[0][8] != src.Data[0][32] || dst.Data[0][11] != src.Data[0][35] {
		t.Errorf("luma row 1 = %v, want %v", dst.Data[0][8:12], src.Data[0][32:36])
	}
	if dst.Data[1][8] != src.Data[1][32] {
		t.Errorf("chroma row 1 = %v, want %v", dst.Data[1][8], src.Data[1][32])
	}
	if dst.Data[0][4] != 0 {
		t.Error("copy wrote past the row width")
	}

	small := &VideoFrame{Format: PixelFormatNV12, Stride: []int{4, 4}, Data: [][]byte{make([]byte, 8), make([]byte, 4)}}
	if err := copyVideoPlanes(small, src, 4, 4); err == nil {
		t.Error("copyVideoPlanes() into a short frame should fail")
	}
	other, _ := NewVideoFrame(PixelFormatYUV420P, 4, 4)
	if err := copyVideoPlanes(other, src, 4, 4); err == nil {
		t.Error("copyVideoPlanes() across formats should fail")
	}
}

func TestRescaleTS(t *testing.T) {
	tests := []struct {
		ts       int64
		from, to Rational
		want     int64
	}{
		{40, Rational{1, 1000}, MicrosecondTimeBase, 40000},
		{1, Rational{1, 30}, MicrosecondTimeBase, 33333},
		{2, Rational{1, 30}, MicrosecondTimeBase, 66667},
		{-1, Rational{1, 30}, MicrosecondTimeBase, -33333},
		{33333, MicrosecondTimeBase, Rational{1, 30}, 1},
		{3003, Rational{1, 90000}, Rational{1001, 30000}, 1},
		{NoPTS, Rational{1, 30}, MicrosecondTimeBase, NoPTS},
		{5, Rational{}, MicrosecondTimeBase, 5},
	}

	for _, tt := range tests {
		if got := RescaleTS(tt.ts, tt.from, tt.to); got != tt.want {
			t.Errorf("RescaleTS(%d, %v, %v) = %v, want %v", tt.ts, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRational_Reduce(t *testing.T) {
	tests := []struct {
		in   Rational
		max  int
		want Rational
	}{
		{Rational{4, 6}, 100, Rational{2, 3}},
		{Rational{60000, 1001}, 65535, Rational{60000, 1001}},
		{Rational{200000, 3}, 65535, Rational{50000, 1}},
		{Rational{1, 0}, 10, Rational{1, 0}},
	}

	for _, tt := range tests {
		if got := tt.in.Reduce(tt.max); got != tt.want {
			t.Errorf("%v.Reduce(%d) = %v, want %v", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFrame_RefRelease(t *testing.T) {
	d := NewFrameDescriptor()
	freed := 0
	d.OnFree(func() { freed++ })
	f := &Frame{Format: PixelFormatDRMPrime, SwFormat: PixelFormatNV12, Descriptor: d}

	g := f.Ref()
	if !g.IsHardware() {
		t.Fatal("Ref() lost the descriptor")
	}
	f.Release()
	f.Release()
	if freed != 0 || !d.Valid() {
		t.Fatalf("descriptor freed with a live reference (freed=%d)", freed)
	}
	g.Release()
	g.Release()
	if freed != 1 || d.Valid() {
		t.Errorf("freed = %d, Valid() = %v, want 1, false", freed, d.Valid())
	}
}

func TestFrame_CopyProps(t *testing.T) {
	src := &Frame{
		PTS:          7,
		TimeBase:     Rational{1, 25},
		KeyFrame:     true,
		PictType:     PictureTypeI,
		SAR:          Rational{1, 1},
		Color:        ColorProps{Range: ColorRangeMPEG, Space: ColorSpaceBT709},
		CropTop:      2,
		Mastering:    &MasteringDisplay{HasLuminance: true},
		ContentLight: &ContentLight{MaxCLL: 1000},
	}
	dst := &Frame{}
	src.CopyProps(dst)

	if dst.PTS != 7 || dst.TimeBase != src.TimeBase || !dst.KeyFrame || dst.PictType != PictureTypeI {
		t.Errorf("timing not copied: %+v", dst)
	}
	if dst.Color != src.Color || dst.CropTop != 2 || dst.SAR != src.SAR {
		t.Errorf("props not copied: %+v", dst)
	}
	if dst.Mastering == src.Mastering || dst.ContentLight == src.ContentLight {
		t.Error("side data is shared with the source")
	}
	if dst.ContentLight.MaxCLL != 1000 {
		t.Errorf("MaxCLL = %v, want 1000", dst.ContentLight.MaxCLL)
	}
}

func TestPacket_Clone(t *testing.T) {
	original := &Packet{Data: []byte{0, 0, 0, 1, 0x65}, PTS: 9, KeyFrame: true}
	clone := original.Clone()
	if clone.PTS != 9 || !clone.IsKeyframe() {
		t.Error("Clone metadata mismatch")
	}
	clone.Data[4] = 0x41
	if original.Data[4] != 0x65 {
		t.Error("Clone is not independent from original")
	}
}
