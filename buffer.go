package rkmedia

import "sync/atomic"

// HardwareBuffer is a reference-counted handle to one vendor buffer.
//
// The vendor index is the single source of truth for reclaimability: a
// non-negative index means an engine still holds the buffer, a negative one
// that the engine is done with it.
type HardwareBuffer struct {
	buf  Buffer
	refs atomic.Int32
}

func newHardwareBuffer(b Buffer) *HardwareBuffer {
	hb := &HardwareBuffer{buf: b}
	hb.refs.Store(1)
	return hb
}

// Size returns the buffer size in bytes.
func (b *HardwareBuffer) Size() int { return b.buf.Size() }

// FD returns the DMA-buf file descriptor.
func (b *HardwareBuffer) FD() int { return b.buf.FD() }

// Ptr returns the host mapping, or 0.
func (b *HardwareBuffer) Ptr() uintptr { return b.buf.Ptr() }

// Index returns the vendor in-use index.
func (b *HardwareBuffer) Index() int { return b.buf.Index() }

// InUse reports whether an engine still claims the buffer.
func (b *HardwareBuffer) InUse() bool { return b.buf.Index() >= 0 }

// Vendor returns the underlying vendor handle.
func (b *HardwareBuffer) Vendor() Buffer { return b.buf }

// Acquire adds a reference and returns b.
func (b *HardwareBuffer) Acquire() *HardwareBuffer {
	b.refs.Add(1)
	return b
}

// Release drops a reference, putting the vendor buffer back on the last one.
func (b *HardwareBuffer) Release() error {
	switch n := b.refs.Add(-1); {
	case n == 0:
		return b.buf.Release()
	case n < 0:
		b.refs.Store(0)
	}
	return nil
}
