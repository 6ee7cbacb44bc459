package rkmedia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, r *testRig, cfg PoolConfig) *BufferPool {
	t.Helper()
	p, err := NewBufferPool(r.dev, cfg)
	require.NoError(t, err)
	return p
}

func TestNewBufferPoolErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  PoolConfig
		want error
	}{
		{"too small", PoolConfig{Format: PixelFormatNV12, Width: 8, Height: 64}, ErrInvalidArgument},
		{"no drm format", PoolConfig{Format: PixelFormatRGB444, Width: 64, Height: 64}, ErrNotSupported},
		{"hardware format", PoolConfig{Format: PixelFormatDRMPrime, Width: 64, Height: 64}, ErrNotSupported},
		{"external without size", PoolConfig{Mode: PoolPureExternal, Format: PixelFormatNV12, Width: 64, Height: 64}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t, "")
			_, err := NewBufferPool(r.dev, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, r.dev.Refs())
			assert.Empty(t, r.mpp.groups)
		})
	}
}

func TestBufferPoolGet(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64})
	assert.Equal(t, 2, r.dev.Refs())

	g := r.mpp.groups[0]
	assert.Equal(t, GroupInternal, g.kind)
	assert.Equal(t, BufferTypeDRM|BufferDMA32|BufferCachable, g.flags)

	f, err := p.Get()
	require.NoError(t, err)
	assert.True(t, f.IsHardware())
	assert.Equal(t, PixelFormatNV12, f.SwFormat)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, NoPTS, f.PTS)

	d := f.Descriptor
	require.NoError(t, d.Validate())
	assert.Equal(t, int64(24576), d.Objects[0].Size)
	assert.Equal(t, ModifierLinear, d.Objects[0].Modifier)
	assert.Equal(t, DRMFormatNV12, d.Layers[0].Format)
	assert.Equal(t, []DRMPlane{{Pitch: 64}, {Offset: 4096, Pitch: 64}}, d.Layers[0].Planes)
	require.Len(t, d.Buffers, 1)
	assert.Equal(t, d.Objects[0].FD, d.Buffers[0].FD())

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1, p.InUse())
	f.Release()
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 1, g.live, "idle buffers stay allocated")

	p.Release()
	assert.Equal(t, 0, g.live)
	assert.True(t, g.released)
	assert.Equal(t, 1, r.dev.Refs())
}

func TestBufferPoolReusesLastFreed(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64})
	defer p.Release()

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	a.Release()
	b.Release()

	c, err := p.Get()
	require.NoError(t, err)
	defer c.Release()
	assert.Equal(t, b.Descriptor.FD(), c.Descriptor.FD())
	assert.Equal(t, 2, p.Len())
}

func TestBufferPoolNeverHandsOutLiveBuffer(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64})
	defer p.Release()

	a, err := p.Get()
	require.NoError(t, err)
	a.Descriptor.Attach(OwnerEngine, func() {})
	a.Descriptor.Release(OwnerDescriptor)

	// The engine owner still holds the DMA-buf.
	b, err := p.Get()
	require.NoError(t, err)
	assert.NotEqual(t, a.Descriptor.FD(), b.Descriptor.FD())

	a.Descriptor.Release(OwnerEngine)
	c, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, a.Descriptor.FD(), c.Descriptor.FD())
	b.Release()
	c.Release()
}

func TestBufferPoolExhausted(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64, InitialSize: 2})
	defer p.Release()

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrResourceExhausted)

	a.Release()
	c, err := p.Get()
	require.NoError(t, err)
	b.Release()
	c.Release()
}

func TestBufferPoolPureExternal(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Mode: PoolPureExternal, Format: PixelFormatNV12, Width: 64, Height: 64, InitialSize: 3})
	defer p.Release()

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 3, r.mpp.groups[0].live)

	ext, err := r.mpp.NewBufferGroup(GroupExternal, r.dev.Flags())
	require.NoError(t, err)
	require.NoError(t, p.CommitTo(ext))

	commits := r.mpp.groupsOf(GroupExternal)[0].commits
	require.Len(t, commits, 3)
	for i, c := range commits {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, p.BufferSize(), c.Size)
	}
}

func TestBufferPoolHold(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Mode: PoolPureExternal, Format: PixelFormatNV12, Width: 64, Height: 64, InitialSize: 3})
	g := r.mpp.groups[0]
	ext, err := r.mpp.NewBufferGroup(GroupExternal, r.dev.Flags())
	require.NoError(t, err)
	require.NoError(t, p.CommitTo(ext))
	fd := ext.(*fakeGroup).commits[1].FD

	unhold, ok := p.Hold(fd)
	require.True(t, ok)
	again, ok := p.Hold(fd)
	require.True(t, ok)
	assert.Equal(t, 1, p.InUse())
	_, ok = p.Hold(-1)
	assert.False(t, ok)

	p.Release()
	assert.Equal(t, 1, g.live, "held buffer survives the pool")
	_, ok = p.Hold(fd)
	assert.False(t, ok)

	unhold()
	assert.Equal(t, 1, g.live)
	again()
	assert.Equal(t, 0, g.live)
	assert.Equal(t, 1, r.dev.Refs())
}

func TestBufferPoolSetLimit(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Mode: PoolHalfInternal, Format: PixelFormatNV12, Width: 64, Height: 64})
	defer p.Release()

	require.NoError(t, p.SetLimit(12))
	g := r.mpp.groups[0]
	assert.Same(t, g, p.Group().(*fakeGroup))
	assert.Equal(t, 12, g.limitCount)
	assert.Equal(t, p.BufferSize(), g.limitSize)
}

func TestBufferPoolReleaseWithFramesOut(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64})
	g := r.mpp.groups[0]

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	b.Release()

	p.Release()
	assert.Equal(t, 1, g.live, "frame still referenced")
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrSessionClosed)

	a.Release()
	assert.Equal(t, 0, g.live)
	p.Release()
	assert.Equal(t, 1, r.dev.Refs())
}

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name  string
		codec VideoCodec
		mode  PoolMode
		w, h  int
		extra int
		want  int
	}{
		{"h264 half", VideoCodecH264, PoolHalfInternal, 1920, 1080, 0, 30},
		{"h264 external", VideoCodecH264, PoolPureExternal, 1920, 1080, 0, 30},
		{"vp9 half 8k", VideoCodecVP9, PoolHalfInternal, 7680, 4320, 0, 12},
		{"mpeg2 internal extra", VideoCodecMPEG2, PoolInternal, 720, 576, 4, 14},
		{"h265 internal negative extra", VideoCodecH265, PoolInternal, 1920, 1080, -3, 20},
		{"vp8 external", VideoCodecVP8, PoolPureExternal, 640, 480, 2, 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PoolSize(tt.codec, tt.mode, tt.w, tt.h, tt.extra); got != tt.want {
				t.Errorf("PoolSize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferSize(t *testing.T) {
	tests := []struct {
		format PixelFormat
		w, h   int
		want   int
	}{
		{PixelFormatNV12, 1920, 1080, 2304 * 1344 * 12 / 8},
		{PixelFormatNV12, 64, 64, 128 * 128 * 12 / 8},
		{PixelFormatRGBA, 640, 480, 768 * 576 * 4},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := BufferSize(tt.format, tt.w, tt.h); got != tt.want {
				t.Errorf("BufferSize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoolLayout(t *testing.T) {
	tests := []struct {
		name   string
		format PixelFormat
		w, h   int
		want   []DRMPlane
	}{
		{"nv12", PixelFormatNV12, 64, 64, []DRMPlane{{Pitch: 64}, {Offset: 4096, Pitch: 64}}},
		{"nv12 odd width", PixelFormatNV12, 100, 16, []DRMPlane{{Pitch: 128}, {Offset: 2048, Pitch: 128}}},
		{"yuv420p", PixelFormatYUV420P, 64, 64, []DRMPlane{{Pitch: 64}, {Offset: 4096, Pitch: 64}, {Offset: 6144, Pitch: 64}}},
		{"yuyv", PixelFormatYUYV422, 64, 16, []DRMPlane{{Pitch: 128}}},
		{"rgb24", PixelFormatRGB24, 30, 16, []DRMPlane{{Pitch: 96}}},
		{"nv15", PixelFormatNV15, 1920, 1080, []DRMPlane{{Pitch: 2880}, {Offset: 2880 * 1080, Pitch: 4800}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := poolLayout(tt.format, tt.w, tt.h)
			assert.Equal(t, DRMFormat(tt.format), got.Format)
			assert.Equal(t, tt.want, got.Planes)
		})
	}
}

func TestBufferPoolTransfer(t *testing.T) {
	r := newTestRig(t, "")
	p := newTestPool(t, r, PoolConfig{Format: PixelFormatNV12, Width: 64, Height: 64})
	defer p.Release()

	src, err := NewVideoFrame(PixelFormatNV12, 64, 64)
	require.NoError(t, err)
	for i := range src.Data {
		for j := range src.Data[i] {
			src.Data[i][j] = byte(j*7 + i)
		}
	}

	hw, err := p.Upload(&Frame{Format: PixelFormatNV12, Width: 64, Height: 64, PTS: 5, KeyFrame: true, Video: src})
	require.NoError(t, err)
	defer hw.Release()
	assert.Equal(t, int64(5), hw.PTS)
	assert.True(t, hw.KeyFrame)
	assert.Equal(t, []PixelFormat{PixelFormatNV12}, p.TransferFormats())

	out, err := NewVideoFrame(PixelFormatNV12, 64, 64)
	require.NoError(t, err)
	require.NoError(t, p.TransferFrom(out, hw))
	assert.Equal(t, src.Data, out.Data)
	assert.Equal(t, 2, r.mapper.maps)
	assert.Equal(t, 2, r.mapper.unmaps)

	wrongFormat, _ := NewVideoFrame(PixelFormatYUV420P, 64, 64)
	assert.ErrorIs(t, p.TransferFrom(wrongFormat, hw), ErrNotSupported)
	tooLarge, _ := NewVideoFrame(PixelFormatNV12, 128, 64)
	assert.ErrorIs(t, p.TransferTo(hw, tooLarge), ErrInvalidArgument)
	assert.ErrorIs(t, p.TransferFrom(out, &Frame{Format: PixelFormatNV12, Video: src}), ErrNotHardwareFrame)

	_, err = p.Upload(&Frame{Format: PixelFormatNV12, Width: 64, Height: 64})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
