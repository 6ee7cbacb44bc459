package rkmedia

import (
	"fmt"

	rklog "github.com/thesyncim/rkmedia/internal/log"
)

// exportFrame wraps an engine frame in a hardware Frame without copying.
//
// The descriptor has two owners: the engine frame handle, which keeps the
// buffer out of the engine's free list, and the descriptor itself, which
// keeps the device alive. Both are released when the last Frame is. Frames
// decoded into pre-allocated buffers also pin their pool entry.
func (d *Decoder) exportFrame(ef *EngineFrame) (*Frame, error) {
	if ef.Buffer == nil {
		ef.Release()
		return nil, ErrAgain
	}

	desc := NewFrameDescriptor()
	desc.Objects = []DRMObject{{
		FD:       ef.Buffer.FD(),
		Size:     int64(ef.Buffer.Size()),
		Modifier: ModifierLinear,
		Ptr:      ef.Buffer.Ptr(),
	}}
	desc.Buffers = []*HardwareBuffer{newHardwareBuffer(ef.Buffer)}

	f := &Frame{
		Format:   PixelFormatDRMPrime,
		SwFormat: d.swFmt,
		Width:    d.width,
		Height:   d.height,
		TimeBase: d.packetTimeBase(),
		Color:    d.color,
	}

	if ef.Format.IsFBC() {
		pitch, err := TransformStride(d.swFmt, ef.HorStride, false)
		if err != nil {
			ef.Release()
			return nil, fmt.Errorf("compressed pitch: %w", err)
		}
		if d.rfbc {
			desc.Objects[0].Modifier = ModifierRockchipRFBC(RFBCBlockSize64x4)
		} else {
			desc.Objects[0].Modifier = ModifierARMAFBC(AFBCSparse | AFBCBlockSize16x16)
			// Vertical offset of the picture in the compressed surface.
			f.CropTop = ef.OffsetY
		}
		desc.Layers = []DRMLayer{{
			Format: DecoderAFBCFormat(ef.Format),
			Planes: []DRMPlane{{Pitch: pitch}},
		}}
	} else {
		pitch := ef.HorStride
		chroma := pitch
		if d.swFmt == PixelFormatNV24 {
			chroma *= 2
		}
		desc.Layers = []DRMLayer{{
			Format: DecoderDRMFormat(ef.Format),
			Planes: []DRMPlane{
				{Pitch: pitch},
				{Offset: pitch * ef.VerStride, Pitch: chroma},
			},
		}}
	}

	dev := d.dev.Ref()
	desc.Attach(OwnerEngine, ef.Release)
	desc.Attach(OwnerDescriptor, dev.Unref)
	if d.pool != nil && d.pool.Config().Mode == PoolPureExternal {
		// The engine's handle does not own the committed memory.
		if unhold, ok := d.pool.Hold(ef.Buffer.FD()); ok {
			desc.OnFree(unhold)
		} else {
			d.log.Warn().Int(rklog.FieldFD, ef.Buffer.FD()).Msg("decoded buffer not in the output pool")
		}
	}
	f.Descriptor = desc

	f.PTS = RescaleTS(ef.PTS, MicrosecondTimeBase, f.TimeBase)

	switch ef.Mode & FrameModeFieldOrderMask {
	case FrameModeDeinterlaced:
		f.Interlaced = true
	case FrameModeTopFirst:
		f.TopFieldFirst = true
	}

	if (d.cfg.Codec == VideoCodecMPEG1 || d.cfg.Codec == VideoCodecMPEG2) &&
		!ef.SAR.IsZero() && f.Width > 0 && f.Height > 0 {
		// The engine reports the display aspect ratio.
		f.SAR = Rational{ef.SAR.Num * f.Height, ef.SAR.Den * f.Width}.Reduce(1 << 30)
	}

	if t := f.Color.Transfer; t == ColorTransferSMPTE2084 || t == ColorTransferARIBSTDB67 {
		if m := masteringDisplay(d.cfg.Codec, ef.Mastering); m != nil {
			f.Mastering = m
			cl := ef.ContentLight
			f.ContentLight = &cl
		}
	}
	return f, nil
}

// masteringDisplay converts engine mastering metadata to rationals with the
// denominators of the codec's bitstream syntax. HEVC orders primaries G, B, R.
func masteringDisplay(codec VideoCodec, m EngineMastering) *MasteringDisplay {
	order := [3]int{0, 1, 2}
	var chromaDen, maxLumaDen, minLumaDen int
	switch codec {
	case VideoCodecH265:
		order = [3]int{2, 0, 1}
		chromaDen, maxLumaDen, minLumaDen = 50000, 10000, 10000
	case VideoCodecAV1:
		chromaDen, maxLumaDen, minLumaDen = 1<<16, 1<<8, 1<<14
	default:
		return nil
	}

	md := &MasteringDisplay{HasPrimaries: true, HasLuminance: true}
	for i, j := range order {
		md.Primaries[i][0] = Rational{int(m.Primaries[j][0]), chromaDen}
		md.Primaries[i][1] = Rational{int(m.Primaries[j][1]), chromaDen}
	}
	md.WhitePoint[0] = Rational{int(m.WhitePoint[0]), chromaDen}
	md.WhitePoint[1] = Rational{int(m.WhitePoint[1]), chromaDen}
	md.MaxLuminance = Rational{int(m.MaxLuminance), maxLumaDen}
	md.MinLuminance = Rational{int(m.MinLuminance), minLumaDen}
	return md
}

// exportSoftware copies an engine frame into a CPU frame of the negotiated
// software format.
func (d *Decoder) exportSoftware(ef *EngineFrame) (*Frame, error) {
	hw, err := d.exportFrame(ef)
	if err != nil {
		return nil, err
	}
	defer hw.Release()

	if d.pool == nil {
		return nil, fmt.Errorf("%w: no output pool", ErrInvalidArgument)
	}
	vf, err := NewVideoFrame(d.outFmt, hw.Width, hw.Height)
	if err != nil {
		return nil, err
	}
	if err := d.pool.TransferFrom(vf, hw); err != nil {
		return nil, fmt.Errorf("download frame: %w", err)
	}
	vf.Timestamp = RescaleTS(hw.PTS, hw.TimeBase, Rational{1, 1000000000})

	out := &Frame{
		Format: vf.Format,
		Width:  hw.Width,
		Height: hw.Height,
		Video:  vf,
	}
	hw.CopyProps(out)
	return out, nil
}
