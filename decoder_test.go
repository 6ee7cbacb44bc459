package rkmedia

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPackets(n int) []*Packet {
	pkts := make([]*Packet, n)
	for i := range pkts {
		pkts[i] = &Packet{
			Data:     []byte{0, 0, 0, 1, 0x65, byte(i)},
			PTS:      int64(i * 40),
			DTS:      int64(i * 40),
			TimeBase: Rational{1, 1000},
			KeyFrame: i == 0,
		}
	}
	return pkts
}

// sliceSource returns pkts in order, then io.EOF.
func sliceSource(pkts []*Packet) PacketSource {
	return PacketSourceFunc(func() (*Packet, error) {
		if len(pkts) == 0 {
			return nil, io.EOF
		}
		p := pkts[0]
		pkts = pkts[1:]
		return p, nil
	})
}

func receiveAll(t *testing.T, dec *Decoder, src PacketSource) []*Frame {
	t.Helper()
	var frames []*Frame
	for i := 0; i < 100; i++ {
		f, err := dec.ReceiveFrame(src)
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
	t.Fatal("decoder never reached end of stream")
	return nil
}

func releaseAll(frames []*Frame) {
	for _, f := range frames {
		f.Release()
	}
}

func TestDecoderReceiveFrames(t *testing.T) {
	tests := []struct {
		name     string
		mode     BufferMode
		capacity int
	}{
		{"half", BufferModeHalf, 0},
		{"half input full", BufferModeHalf, 2},
		{"external", BufferModeExternal, 0},
		{"external input full", BufferModeExternal, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, "")
			rig.mpp.dec = newFakeDecodeEngine()
			rig.mpp.dec.capacity = tt.capacity

			cfg := DefaultDecoderConfig(VideoCodecH264)
			cfg.BufferMode = tt.mode
			dec, err := NewDecoder(rig.dev, cfg)
			require.NoError(t, err)
			assert.Equal(t, DecoderConfigured, dec.State())

			frames := receiveAll(t, dec, sliceSource(testPackets(5)))
			require.Len(t, frames, 5)
			for i, f := range frames {
				assert.True(t, f.IsHardware())
				assert.Equal(t, PixelFormatNV12, f.SwFormat)
				assert.Equal(t, 1920, f.Width)
				assert.Equal(t, 1080, f.Height)
				assert.Equal(t, int64(i*40), f.PTS)
				assert.Equal(t, Rational{1, 1000}, f.TimeBase)
				assert.Equal(t, ownerAll, f.Descriptor.Live())
				require.NoError(t, f.Descriptor.Validate())
				layer := f.Descriptor.Layer()
				assert.Equal(t, DRMFormatNV12, layer.Format)
				assert.Equal(t, []DRMPlane{{Pitch: 1920}, {Offset: 1920 * 1088, Pitch: 1920}}, layer.Planes)
			}

			_, err = dec.ReceiveFrame(sliceSource(nil))
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, DecoderEOF, dec.State())

			w, h, cw, ch := dec.Size()
			assert.Equal(t, [4]int{1920, 1080, 1920, 1088}, [4]int{w, h, cw, ch})

			count := PoolSize(VideoCodecH264, tt.mode.poolMode(), 1920, 1080, 0)
			switch tt.mode {
			case BufferModeHalf:
				g := dec.Pool().Group().(*fakeGroup)
				assert.Same(t, g, rig.mpp.dec.group)
				assert.Equal(t, count, g.limitCount)
				assert.Equal(t, dec.Pool().BufferSize(), g.limitSize)
			case BufferModeExternal:
				ext := rig.mpp.groupsOf(GroupExternal)
				require.Len(t, ext, 1)
				assert.Same(t, ext[0], rig.mpp.dec.group)
				assert.Len(t, ext[0].commits, count)
				assert.Equal(t, count, dec.Pool().Len())
			}

			releaseAll(frames)
			assert.Equal(t, 5, rig.mpp.dec.deinits)
			require.NoError(t, dec.Close())
			assert.True(t, rig.mpp.dec.destroyed)
			assert.Equal(t, 1, rig.dev.Refs())
		})
	}
}

func TestDecoderFramesOutliveSession(t *testing.T) {
	for _, mode := range []BufferMode{BufferModeHalf, BufferModeExternal} {
		t.Run(mode.String(), func(t *testing.T) {
			rig := newTestRig(t, "")
			cfg := DefaultDecoderConfig(VideoCodecH265)
			cfg.BufferMode = mode
			dec, err := NewDecoder(rig.dev, cfg)
			require.NoError(t, err)

			frames := receiveAll(t, dec, sliceSource(testPackets(3)))
			require.Len(t, frames, 3)
			backing := dec.Pool().Group().(*fakeGroup)
			pool := dec.Pool()
			require.NoError(t, dec.Close())

			assert.Equal(t, 1+3, rig.dev.Refs())
			assert.Equal(t, 3, backing.live, "buffers behind held frames survive close")
			if mode == BufferModeExternal {
				assert.Equal(t, 3, pool.InUse())
			}
			assert.True(t, frames[0].Descriptor.Valid())

			extra := frames[0].Ref()
			frames[0].Release()
			frames[0].Release()
			assert.True(t, extra.Descriptor.Valid())
			assert.Equal(t, 0, rig.mpp.dec.deinits)
			assert.Equal(t, 3, backing.live)

			extra.Release()
			assert.False(t, extra.Descriptor.Valid())
			assert.Equal(t, 1, rig.mpp.dec.deinits)
			assert.Equal(t, 2, backing.live)

			releaseAll(frames[1:])
			assert.Equal(t, 3, rig.mpp.dec.deinits)
			assert.Equal(t, 0, backing.live)
			assert.Equal(t, 0, pool.InUse())
			assert.Equal(t, 1, rig.dev.Refs())
		})
	}
}

func TestDecoderResolutionChange(t *testing.T) {
	for _, mode := range []BufferMode{BufferModeHalf, BufferModeExternal} {
		t.Run(mode.String(), func(t *testing.T) {
			rig := newTestRig(t, "")
			rig.mpp.dec = newFakeDecodeEngine()
			cfg := DefaultDecoderConfig(VideoCodecH264)
			cfg.BufferMode = mode
			dec, err := NewDecoder(rig.dev, cfg)
			require.NoError(t, err)

			var queue []*Packet
			src := PacketSourceFunc(func() (*Packet, error) {
				if len(queue) == 0 {
					return nil, ErrAgain
				}
				p := queue[0]
				queue = queue[1:]
				return p, nil
			})
			next := func() *Frame {
				t.Helper()
				for i := 0; i < 10; i++ {
					f, err := dec.ReceiveFrame(src)
					if errors.Is(err, ErrAgain) {
						continue
					}
					require.NoError(t, err)
					return f
				}
				t.Fatal("no frame decoded")
				return nil
			}

			queue = testPackets(2)
			held := []*Frame{next(), next()}
			oldPool := dec.Pool()
			backing := oldPool.Group().(*fakeGroup)
			assert.Equal(t, 1920, held[0].Width)

			e := rig.mpp.dec
			e.width, e.height, e.horStride, e.verStride = 1280, 720, 1280, 720
			e.infoSent = false
			queue = testPackets(1)
			f := next()

			assert.Equal(t, DecoderDecoding, dec.State())
			assert.NotSame(t, oldPool, dec.Pool())
			assert.Equal(t, 1280, dec.Pool().Config().Width)
			assert.Equal(t, 720, dec.Pool().Config().Height)
			assert.Equal(t, 1280, f.Width)
			assert.Equal(t, 720, f.Height)
			assert.Equal(t, []DRMPlane{{Pitch: 1280}, {Offset: 1280 * 720, Pitch: 1280}}, f.Descriptor.Layer().Planes)

			// Frames of the old geometry keep their buffers.
			for _, h := range held {
				assert.True(t, h.Descriptor.Valid())
			}
			assert.Equal(t, 2, backing.live)
			releaseAll(held)
			assert.Equal(t, 0, backing.live)

			f.Release()
			require.NoError(t, dec.Close())
			assert.Equal(t, 1, rig.dev.Refs())
		})
	}
}

func TestDecoderInterlaced(t *testing.T) {
	tests := []struct {
		name     string
		mode     int
		fast     bool
		topFirst bool
	}{
		{"progressive", 0, true, false},
		{"top field first", FrameModeTopFirst, false, true},
		{"bottom field first", FrameModeBottomFirst, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, "")
			rig.mpp.dec = newFakeDecodeEngine()
			rig.mpp.dec.mode = tt.mode

			dec, err := NewDecoder(rig.dev, DefaultDecoderConfig(VideoCodecMPEG2))
			require.NoError(t, err)
			defer dec.Close()
			assert.True(t, rig.mpp.dec.deinterlace)

			frames := receiveAll(t, dec, sliceSource(testPackets(1)))
			require.Len(t, frames, 1)
			defer releaseAll(frames)
			assert.Equal(t, []bool{tt.fast}, rig.mpp.dec.fastParse)
			assert.Equal(t, tt.topFirst, frames[0].TopFieldFirst)
		})
	}
}

func TestDecoderSkipNonKeyDisablesDeinterlace(t *testing.T) {
	rig := newTestRig(t, "")
	cfg := DefaultDecoderConfig(VideoCodecH264)
	cfg.SkipNonKey = true
	dec, err := NewDecoder(rig.dev, cfg)
	require.NoError(t, err)
	defer dec.Close()
	assert.False(t, rig.mpp.dec.deinterlace)

	frames := receiveAll(t, dec, sliceSource(testPackets(4)))
	defer releaseAll(frames)
	// Every packet was queued before the first frame came back.
	assert.Len(t, rig.mpp.dec.packets, 4)
}

func TestDecoderSoftwareOutput(t *testing.T) {
	rig := newTestRig(t, "")
	cfg := DefaultDecoderConfig(VideoCodecH264)
	cfg.PixelFormat = PixelFormatNV12
	dec, err := NewDecoder(rig.dev, cfg)
	require.NoError(t, err)
	defer dec.Close()

	format, sw := dec.OutputFormat()
	assert.Equal(t, PixelFormatNV12, format)
	assert.Equal(t, PixelFormatNV12, sw)

	frames := receiveAll(t, dec, sliceSource(testPackets(2)))
	require.Len(t, frames, 2)
	for i, f := range frames {
		assert.False(t, f.IsHardware())
		require.NotNil(t, f.Video)
		assert.Equal(t, PixelFormatNV12, f.Format)
		assert.Equal(t, int64(i*40), f.PTS)
		assert.Equal(t, byte(i+1), f.Video.Data[0][0])
		assert.Equal(t, byte(0x80), f.Video.Data[1][0])
	}
	// Hardware frames are released as soon as they are downloaded.
	assert.Equal(t, 2, rig.mpp.dec.deinits)
	assert.Equal(t, rig.mapper.maps, rig.mapper.unmaps)
}

func TestDecoderNegotiatesHardwareFrames(t *testing.T) {
	rig := newTestRig(t, "")
	cfg := DefaultDecoderConfig(VideoCodecH264)
	cfg.PixelFormat = PixelFormatYUV420P
	var offered []PixelFormat
	cfg.Negotiate = func(c []PixelFormat) (PixelFormat, error) {
		offered = append(offered, c...)
		return c[0], nil
	}
	dec, err := NewDecoder(rig.dev, cfg)
	require.NoError(t, err)
	defer dec.Close()
	assert.Equal(t, []PixelFormat{PixelFormatDRMPrime, PixelFormatNV12}, offered)

	frames := receiveAll(t, dec, sliceSource(testPackets(1)))
	require.Len(t, frames, 1)
	defer releaseAll(frames)
	assert.True(t, frames[0].IsHardware())
}

func TestDecoderCorruptFrames(t *testing.T) {
	rig := newTestRig(t, "")
	rig.mpp.dec = newFakeDecodeEngine()
	rig.mpp.dec.infoChange = false
	rig.mpp.dec.errInfo = 1

	cfg := DefaultDecoderConfig(VideoCodecH264)
	cfg.MaxErrorFrames = 2
	dec, err := NewDecoder(rig.dev, cfg)
	require.NoError(t, err)
	defer dec.Close()

	n := 0
	src := PacketSourceFunc(func() (*Packet, error) {
		n++
		if n%2 == 0 {
			return nil, ErrAgain
		}
		return &Packet{Data: []byte{0, 0, 0, 1, 0x41}, PTS: int64(n), TimeBase: Rational{1, 1000}}, nil
	})

	for i := 0; i < 2; i++ {
		_, err := dec.ReceiveFrame(src)
		assert.True(t, IsTransient(err), "frame %d: %v", i, err)
		assert.ErrorIs(t, err, ErrStreamCorrupt)
		assert.False(t, IsFatal(err))
	}
	_, err = dec.ReceiveFrame(src)
	assert.ErrorIs(t, err, ErrExternal)
	assert.ErrorIs(t, err, ErrStreamCorrupt)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 3, rig.mpp.dec.deinits)
}

func TestDecoderSourceNotReady(t *testing.T) {
	rig := newTestRig(t, "")
	dec, err := NewDecoder(rig.dev, DefaultDecoderConfig(VideoCodecH264))
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.ReceiveFrame(PacketSourceFunc(func() (*Packet, error) { return nil, ErrAgain }))
	assert.ErrorIs(t, err, ErrAgain)
	assert.Equal(t, DecoderConfigured, dec.State())
}

func TestDecoderFlush(t *testing.T) {
	rig := newTestRig(t, "")
	dec, err := NewDecoder(rig.dev, DefaultDecoderConfig(VideoCodecVP9))
	require.NoError(t, err)
	defer dec.Close()

	require.NoError(t, dec.Flush())
	assert.Equal(t, DecoderConfigured, dec.State())

	frames := receiveAll(t, dec, sliceSource(testPackets(2)))
	releaseAll(frames)
	require.Equal(t, DecoderEOF, dec.State())

	require.NoError(t, dec.Flush())
	assert.Equal(t, DecoderDecoding, dec.State())
	assert.Equal(t, 2, rig.mpp.dec.resets)
}

func TestDecoderClosed(t *testing.T) {
	rig := newTestRig(t, "")
	dec, err := NewDecoder(rig.dev, DefaultDecoderConfig(VideoCodecH264))
	require.NoError(t, err)
	require.NoError(t, dec.Close())
	require.NoError(t, dec.Close())

	_, err = dec.ReceiveFrame(sliceSource(testPackets(1)))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, dec.Flush(), ErrSessionClosed)
	assert.Equal(t, DecoderClosed, dec.State())
	assert.Equal(t, 1, rig.dev.Refs())
}

func TestNewDecoderErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func() DecoderConfig
		setup   func(*fakeMPP)
		wantErr error
	}{
		{
			name:    "codec without decoder",
			cfg:     func() DecoderConfig { return DefaultDecoderConfig(VideoCodecUnknown) },
			wantErr: ErrNotSupported,
		},
		{
			name:    "engine lacks codec",
			cfg:     func() DecoderConfig { return DefaultDecoderConfig(VideoCodecAV1) },
			setup:   func(m *fakeMPP) { m.unsupported[CodingAV1] = true },
			wantErr: ErrNotSupported,
		},
		{
			name: "unsupported output format",
			cfg: func() DecoderConfig {
				c := DefaultDecoderConfig(VideoCodecH264)
				c.PixelFormat = PixelFormatRGBA
				return c
			},
			wantErr: ErrNotSupported,
		},
		{
			name: "4:4:4 output from H.264",
			cfg: func() DecoderConfig {
				c := DefaultDecoderConfig(VideoCodecH264)
				c.PixelFormat = PixelFormatNV24
				return c
			},
			wantErr: ErrNotSupported,
		},
		{
			name: "negotiated format not offered",
			cfg: func() DecoderConfig {
				c := DefaultDecoderConfig(VideoCodecH264)
				c.PixelFormat = PixelFormatNV12
				c.Negotiate = func([]PixelFormat) (PixelFormat, error) { return PixelFormatRGBA, nil }
				return c
			},
			wantErr: ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, "")
			if tt.setup != nil {
				tt.setup(rig.mpp)
			}
			_, err := NewDecoder(rig.dev, tt.cfg())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, rig.dev.Refs())
		})
	}
}

func TestDecoderSoftwareFormat(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		in    PixelFormat
		want  PixelFormat
		ok    bool
	}{
		{VideoCodecH264, PixelFormatNone, PixelFormatDRMPrime, true},
		{VideoCodecH264, PixelFormatYUV420P, PixelFormatNV12, true},
		{VideoCodecMPEG2, PixelFormatNV12, PixelFormatNV12, true},
		{VideoCodecH265, PixelFormatYUV420P10, PixelFormatNV15, true},
		{VideoCodecMPEG4, PixelFormatNV15, PixelFormatNV15, false},
		{VideoCodecH264, PixelFormatYUV422P, PixelFormatNV16, true},
		{VideoCodecH265, PixelFormatNV16, PixelFormatNV16, false},
		{VideoCodecH265, PixelFormatYUV444P, PixelFormatNV24, true},
		{VideoCodecH264, PixelFormatBGRA, PixelFormatNone, false},
	}
	for _, tt := range tests {
		got, ok := decoderSoftwareFormat(tt.codec, tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("decoderSoftwareFormat(%s, %s) = %s, %v, want %s, %v",
				tt.codec, tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMergeColorProps(t *testing.T) {
	cur := ColorProps{Primaries: ColorPrimariesUnspecified, Transfer: ColorTransferUnspecified, Space: ColorSpaceUnspecified}
	got := mergeColorProps(cur, ColorProps{
		Range:     ColorRangeJPEG,
		Primaries: ColorPrimariesBT2020,
		Transfer:  ColorTransferUnspecified,
		Space:     ColorSpaceRGB,
	})
	want := ColorProps{
		Range:     ColorRangeJPEG,
		Primaries: ColorPrimariesBT2020,
		Transfer:  ColorTransferUnspecified,
		Space:     ColorSpaceUnspecified,
	}
	if got != want {
		t.Errorf("mergeColorProps() = %+v, want %+v", got, want)
	}
}
