package rkmedia

import "fmt"

// descriptorPlanes slices the planes of the first layer out of the mapped
// objects. A plane extends to the next plane of the same object, or to the
// end of the object.
func descriptorPlanes(d *FrameDescriptor, views [][]byte) ([][]byte, []int) {
	layer := d.Layer()
	if layer == nil {
		return nil, nil
	}
	planes := make([][]byte, len(layer.Planes))
	strides := make([]int, len(layer.Planes))
	for i, pl := range layer.Planes {
		v := views[pl.ObjectIndex]
		end := len(v)
		for _, next := range layer.Planes {
			if next.ObjectIndex == pl.ObjectIndex && next.Offset > pl.Offset && next.Offset < end {
				end = next.Offset
			}
		}
		if pl.Offset > len(v) {
			continue
		}
		planes[i] = v[pl.Offset:end]
		strides[i] = pl.Pitch
	}
	return planes, strides
}

// MapFrame maps a hardware frame for CPU access. The returned VideoFrame
// aliases device memory until the mapping is unmapped.
func MapFrame(dev *Device, f *Frame, flags MapFlags) (*VideoFrame, *Mapping, error) {
	if !f.IsHardware() {
		return nil, nil, ErrNotHardwareFrame
	}
	m, err := dev.Mapper().Map(f.Descriptor, flags)
	if err != nil {
		return nil, nil, err
	}
	vf := &VideoFrame{
		Data:   m.Planes,
		Stride: m.Stride,
		Width:  f.Width,
		Height: f.Height,
		Format: f.SwFormat,
	}
	return vf, m, nil
}

// TransferFormats lists the CPU formats frames of the pool can be copied to
// and from.
func (p *BufferPool) TransferFormats() []PixelFormat {
	return []PixelFormat{p.cfg.Format}
}

func (p *BufferPool) checkTransfer(vf *VideoFrame) error {
	if vf.Format != p.cfg.Format {
		return fmt.Errorf("%w: transfer %s to a %s pool", ErrNotSupported, vf.Format, p.cfg.Format)
	}
	if vf.Width > p.cfg.Width || vf.Height > p.cfg.Height {
		return fmt.Errorf("%w: transfer of %dx%d exceeds pool %dx%d",
			ErrInvalidArgument, vf.Width, vf.Height, p.cfg.Width, p.cfg.Height)
	}
	return nil
}

// TransferFrom copies a hardware frame into dst.
func (p *BufferPool) TransferFrom(dst *VideoFrame, src *Frame) error {
	if err := p.checkTransfer(dst); err != nil {
		return err
	}
	mapped, m, err := MapFrame(p.dev, src, MapRead)
	if err != nil {
		return err
	}
	defer m.Unmap()
	return copyVideoPlanes(dst, mapped, dst.Width, dst.Height)
}

// TransferTo copies src into a hardware frame.
func (p *BufferPool) TransferTo(dst *Frame, src *VideoFrame) error {
	if err := p.checkTransfer(src); err != nil {
		return err
	}
	mapped, m, err := MapFrame(p.dev, dst, MapWrite|MapOverwrite)
	if err != nil {
		return err
	}
	if err := copyVideoPlanes(mapped, src, src.Width, src.Height); err != nil {
		_ = m.Unmap()
		return err
	}
	return m.Unmap()
}

// Upload copies a CPU frame into a new frame of the pool, carrying props.
func (p *BufferPool) Upload(src *Frame) (*Frame, error) {
	if src.Video == nil {
		return nil, fmt.Errorf("%w: frame has no CPU planes", ErrInvalidArgument)
	}
	hw, err := p.Get()
	if err != nil {
		return nil, err
	}
	if err := p.TransferTo(hw, src.Video); err != nil {
		hw.Release()
		return nil, err
	}
	src.CopyProps(hw)
	hw.Width, hw.Height = src.Width, src.Height
	return hw, nil
}
