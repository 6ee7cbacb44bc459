package rkmedia

import (
	"sync"
	"sync/atomic"
)

// Descriptor limits, matching the DRM PRIME frame descriptor.
const (
	MaxDRMObjects = 4
	MaxDRMLayers  = 4
	MaxDRMPlanes  = 4
)

// DRMObject is one DMA-buf backing a descriptor.
type DRMObject struct {
	FD       int
	Size     int64
	Modifier uint64
	Ptr      uintptr // host mapping when the allocator provides one
}

// DRMPlane locates one plane inside an object.
type DRMPlane struct {
	ObjectIndex int
	Offset      int
	Pitch       int
}

// DRMLayer is one image layer, described by a DRM fourcc and its planes.
type DRMLayer struct {
	Format uint32
	Planes []DRMPlane
}

// Owner names an independently released attachment of a FrameDescriptor.
type Owner uint8

const (
	// OwnerEngine is the vendor frame handle the buffer came from.
	OwnerEngine Owner = 1 << iota
	// OwnerDescriptor is the descriptor memory and its buffer back-links.
	OwnerDescriptor

	ownerAll = OwnerEngine | OwnerDescriptor
)

func (o Owner) String() string {
	switch o {
	case OwnerEngine:
		return "engine"
	case OwnerDescriptor:
		return "descriptor"
	case ownerAll:
		return "engine|descriptor"
	default:
		return "none"
	}
}

// FrameDescriptor is the exported description of one hardware frame.
//
// Two owners keep the DMA-buf alive: the vendor frame handle (OwnerEngine)
// and the descriptor itself (OwnerDescriptor). Each is released once; the
// free callback runs exactly when the last live owner is released. Pipeline
// frames sharing the descriptor are counted separately with Frame.Ref and
// Frame.Release; the last frame release drops all remaining owners.
type FrameDescriptor struct {
	Objects []DRMObject
	Layers  []DRMLayer

	// Buffers are the vendor buffers backing Objects, index for index.
	Buffers []*HardwareBuffer

	mu       sync.Mutex
	live     Owner
	releases [2]func()
	onFree   func()
	refs     atomic.Int32
}

// NewFrameDescriptor returns a descriptor with the descriptor owner live and
// one frame reference.
func NewFrameDescriptor() *FrameDescriptor {
	d := &FrameDescriptor{live: OwnerDescriptor}
	d.refs.Store(1)
	return d
}

func ownerSlot(o Owner) int {
	if o == OwnerEngine {
		return 0
	}
	return 1
}

// Attach makes owner live and registers the function run when it is released.
func (d *FrameDescriptor) Attach(owner Owner, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live |= owner
	for _, o := range []Owner{OwnerEngine, OwnerDescriptor} {
		if owner&o != 0 {
			d.releases[ownerSlot(o)] = release
		}
	}
}

// OnFree registers fn to run once when no owner is live anymore.
func (d *FrameDescriptor) OnFree(fn func()) {
	d.mu.Lock()
	d.onFree = fn
	d.mu.Unlock()
}

// Live returns the owners that have not been released.
func (d *FrameDescriptor) Live() Owner {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Valid reports whether the DMA-buf may still be accessed.
func (d *FrameDescriptor) Valid() bool { return d.Live() != 0 }

// Release releases one owner. Releasing an owner twice is a no-op.
func (d *FrameDescriptor) Release(owner Owner) {
	var run []func()
	released := false
	d.mu.Lock()
	for _, o := range []Owner{OwnerEngine, OwnerDescriptor} {
		if owner&o == 0 || d.live&o == 0 {
			continue
		}
		d.live &^= o
		released = true
		if fn := d.releases[ownerSlot(o)]; fn != nil {
			run = append(run, fn)
			d.releases[ownerSlot(o)] = nil
		}
	}
	if released && d.live == 0 && d.onFree != nil {
		run = append(run, d.onFree)
		d.onFree = nil
	}
	d.mu.Unlock()

	for _, fn := range run {
		fn()
	}
}

func (d *FrameDescriptor) retain() { d.refs.Add(1) }

func (d *FrameDescriptor) unref() {
	if d.refs.Add(-1) == 0 {
		d.Release(ownerAll)
	}
}

// FD returns the file descriptor of the first object, or -1.
func (d *FrameDescriptor) FD() int {
	if d == nil || len(d.Objects) == 0 {
		return -1
	}
	return d.Objects[0].FD
}

// Modifier returns the format modifier of the first object.
func (d *FrameDescriptor) Modifier() uint64 {
	if d == nil || len(d.Objects) == 0 {
		return ModifierInvalid
	}
	return d.Objects[0].Modifier
}

// Layer returns the first layer, or nil.
func (d *FrameDescriptor) Layer() *DRMLayer {
	if d == nil || len(d.Layers) == 0 {
		return nil
	}
	return &d.Layers[0]
}

// Validate checks the structural limits of the descriptor.
func (d *FrameDescriptor) Validate() error {
	if len(d.Objects) == 0 || len(d.Objects) > MaxDRMObjects {
		return ErrInvalidArgument
	}
	if len(d.Layers) == 0 || len(d.Layers) > MaxDRMLayers {
		return ErrInvalidArgument
	}
	for _, l := range d.Layers {
		if len(l.Planes) == 0 || len(l.Planes) > MaxDRMPlanes {
			return ErrInvalidArgument
		}
		for _, p := range l.Planes {
			if p.ObjectIndex < 0 || p.ObjectIndex >= len(d.Objects) {
				return ErrInvalidArgument
			}
		}
	}
	for _, o := range d.Objects {
		if o.FD < 0 {
			return ErrInvalidArgument
		}
	}
	return nil
}
