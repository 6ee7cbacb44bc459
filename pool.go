package rkmedia

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	rklog "github.com/thesyncim/rkmedia/internal/log"
	"github.com/thesyncim/rkmedia/internal/metrics"
)

// PoolMode selects who allocates and who tracks the buffers of a pool.
type PoolMode int

const (
	// PoolInternal allocates lazily from a group private to the pool.
	PoolInternal PoolMode = iota
	// PoolHalfInternal hands the pool's group to the engine, which allocates
	// from it up to a limit.
	PoolHalfInternal
	// PoolPureExternal pre-allocates every buffer up front; they are then
	// committed to an engine-visible external group.
	PoolPureExternal
)

func (m PoolMode) String() string {
	switch m {
	case PoolInternal:
		return "internal"
	case PoolHalfInternal:
		return "half-internal"
	case PoolPureExternal:
		return "pure-external"
	default:
		return "unknown"
	}
}

// PoolConfig configures a BufferPool.
type PoolConfig struct {
	Mode        PoolMode
	Format      PixelFormat // Software layout of the buffers
	Width       int
	Height      int
	InitialSize int         // Buffers to allocate (0 = grow on demand)
	Flags       BufferFlags // Extra allocation flags, OR'd with the device's
}

// PoolSize returns the number of buffers a decoder pool needs.
//
// H.264 and HEVC keep up to 16 references plus reordering and get 20 buffers,
// other codecs 10. Pre-allocated pools add 10 for frames held downstream;
// engine-sized pools get the same headroom as a limit, reduced to 2 beyond
// three 4K frames worth of pixels. extra is added when positive.
func PoolSize(codec VideoCodec, mode PoolMode, width, height, extra int) int {
	n := 10
	if codec.isH26x() {
		n = 20
	}
	switch mode {
	case PoolPureExternal:
		n += 10
	case PoolHalfInternal:
		if width*height > rgaLargeFrameMax {
			n += 2
		} else {
			n += 10
		}
	}
	if extra > 0 {
		n += extra
	}
	return n
}

// BufferSize returns the allocation size of one buffer. Every buffer is
// sized for 6/5 of the frame in both directions so the engines may pad.
func BufferSize(format PixelFormat, width, height int) int {
	w := align(width*6/5, 64)
	h := align(height*6/5, 64)
	return w * h * format.BitsPerPixel() / 8
}

// poolLayout returns the DRM layer of a linear pool buffer.
func poolLayout(format PixelFormat, width, height int) DRMLayer {
	_, log2ch := format.ChromaShift()
	n := format.PlaneCount()
	layer := DRMLayer{
		Format: DRMFormat(format),
		Planes: make([]DRMPlane, n),
	}
	layer.Planes[0].Pitch = hwLinesize(format, width, 0)
	for i := 1; i < n; i++ {
		prev := layer.Planes[i-1]
		rows := height
		if i > 1 {
			rows = height >> log2ch
		}
		layer.Planes[i] = DRMPlane{
			Offset: prev.Offset + prev.Pitch*rows,
			Pitch:  hwLinesize(format, width, i),
		}
	}
	return layer
}

type poolEntry struct {
	buf   *HardwareBuffer
	inUse bool
	holds int // engine frames exported from a committed buffer
}

func (e *poolEntry) busy() bool { return e.inUse || e.holds > 0 }

// BufferPool hands out hardware frames of one size and format.
//
// A frame's buffer returns to the free list only after every owner of its
// descriptor is released; a live buffer is never handed out twice.
type BufferPool struct {
	dev     *Device
	cfg     PoolConfig
	group   BufferGroup
	size    int
	layout  DRMLayer
	log     zerolog.Logger
	mu      sync.Mutex
	entries []*poolEntry
	free    []int
	closed  bool
}

// NewBufferPool creates a pool on dev. It takes a device reference.
func NewBufferPool(dev *Device, cfg PoolConfig) (*BufferPool, error) {
	if cfg.Width < MinFrameWidth || cfg.Height < MinFrameHeight {
		return nil, fmt.Errorf("%w: pool size %dx%d below %dx%d",
			ErrInvalidArgument, cfg.Width, cfg.Height, MinFrameWidth, MinFrameHeight)
	}
	if DRMFormat(cfg.Format) == DRMFormatInvalid {
		return nil, fmt.Errorf("%w: pool format %s", ErrNotSupported, cfg.Format)
	}
	if cfg.Mode == PoolPureExternal && cfg.InitialSize <= 0 {
		return nil, fmt.Errorf("%w: pre-allocated pool needs a size", ErrInvalidArgument)
	}

	group, err := dev.MPP().NewBufferGroup(GroupInternal, dev.Flags()|cfg.Flags)
	if err != nil {
		return nil, fmt.Errorf("%w: buffer group: %v", ErrExternal, err)
	}

	p := &BufferPool{
		dev:    dev.Ref(),
		cfg:    cfg,
		group:  group,
		size:   BufferSize(cfg.Format, cfg.Width, cfg.Height),
		layout: poolLayout(cfg.Format, cfg.Width, cfg.Height),
		log: rklog.WithSession("pool", dev.ID()).With().
			Str(rklog.FieldPoolMode, cfg.Mode.String()).
			Str(rklog.FieldFormat, cfg.Format.String()).
			Logger(),
	}

	if cfg.Mode == PoolPureExternal {
		for i := 0; i < cfg.InitialSize; i++ {
			if _, err := p.alloc(); err != nil {
				p.Release()
				return nil, err
			}
			p.free = append(p.free, i)
		}
	}

	p.log.Debug().
		Str(rklog.FieldResolution, fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)).
		Int(rklog.FieldPoolSize, cfg.InitialSize).
		Int("buffer_size", p.size).
		Msg("pool created")
	return p, nil
}

// alloc grows the pool by one buffer. Caller holds mu or owns p exclusively.
func (p *BufferPool) alloc() (int, error) {
	if p.cfg.InitialSize > 0 && len(p.entries) >= p.cfg.InitialSize {
		metrics.PoolExhausted.WithLabelValues(p.cfg.Mode.String()).Inc()
		return -1, fmt.Errorf("%w: pool of %d buffers", ErrResourceExhausted, p.cfg.InitialSize)
	}
	b, err := p.group.Get(p.size)
	if err != nil {
		return -1, fmt.Errorf("%w: buffer of %d bytes: %v", ErrResourceExhausted, p.size, err)
	}
	p.entries = append(p.entries, &poolEntry{buf: newHardwareBuffer(b)})
	return len(p.entries) - 1, nil
}

// Get returns a frame backed by a free buffer of the pool.
func (p *BufferPool) Get() (*Frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrSessionClosed
	}
	idx := -1
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		var err error
		if idx, err = p.alloc(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	e := p.entries[idx]
	e.inUse = true
	p.mu.Unlock()

	d := NewFrameDescriptor()
	d.Objects = []DRMObject{{
		FD:       e.buf.FD(),
		Size:     int64(e.buf.Size()),
		Modifier: ModifierLinear,
		Ptr:      e.buf.Ptr(),
	}}
	d.Layers = []DRMLayer{{
		Format: p.layout.Format,
		Planes: append([]DRMPlane(nil), p.layout.Planes...),
	}}
	d.Buffers = []*HardwareBuffer{e.buf}
	d.OnFree(func() { p.put(idx) })

	return &Frame{
		Format:     PixelFormatDRMPrime,
		SwFormat:   p.cfg.Format,
		Width:      p.cfg.Width,
		Height:     p.cfg.Height,
		PTS:        NoPTS,
		Descriptor: d,
	}, nil
}

func (p *BufferPool) put(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[idx]
	e.inUse = false
	if p.closed {
		if !e.busy() {
			_ = e.buf.Release()
		}
		return
	}
	p.free = append(p.free, idx)
}

// Hold pins the committed buffer with file descriptor fd while a frame the
// engine decoded into it is alive. The returned func unpins it and must be
// called once. It reports false when no buffer of the pool has that fd.
func (p *BufferPool) Hold(fd int) (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	for _, e := range p.entries {
		if e.buf.FD() == fd {
			e.holds++
			return func() { p.unhold(e) }, true
		}
	}
	return nil, false
}

func (p *BufferPool) unhold(e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.holds--
	if p.closed && !e.busy() {
		_ = e.buf.Release()
	}
}

// CommitTo registers every pre-allocated buffer with an engine-visible group.
func (p *BufferPool) CommitTo(g BufferGroup) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		info := BufferInfo{Index: i, FD: e.buf.FD(), Ptr: e.buf.Ptr(), Size: e.buf.Size()}
		if err := g.Commit(info); err != nil {
			return fmt.Errorf("%w: commit buffer %d: %v", ErrExternal, i, err)
		}
	}
	return nil
}

// Group returns the pool's buffer group, for engines sizing it themselves.
func (p *BufferPool) Group() BufferGroup { return p.group }

// SetLimit caps the number of buffers an engine may allocate from the group.
func (p *BufferPool) SetLimit(count int) error {
	return p.group.SetLimit(p.size, count)
}

// Config returns the pool configuration.
func (p *BufferPool) Config() PoolConfig { return p.cfg }

// BufferSize returns the size of every buffer of the pool.
func (p *BufferPool) BufferSize() int { return p.size }

// Len returns the number of allocated buffers.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// InUse returns the number of buffers currently handed out or held.
func (p *BufferPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.busy() {
			n++
		}
	}
	return n
}

// Release frees the idle buffers and the group. Buffers still referenced by
// frames are freed when those frames are released.
func (p *BufferPool) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, e := range p.entries {
		if !e.busy() {
			_ = e.buf.Release()
		}
	}
	p.free = nil
	p.mu.Unlock()

	if err := p.group.Release(); err != nil {
		p.log.Warn().Err(err).Msg("buffer group release failed")
	}
	p.dev.Unref()
}
