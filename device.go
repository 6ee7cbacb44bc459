package rkmedia

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rklog "github.com/thesyncim/rkmedia/internal/log"
)

// DeviceConfig configures a Device.
type DeviceConfig struct {
	DMA32     bool // Allocate buffers below 4 GiB
	Cacheable bool // CPU-cacheable buffers, synced around CPU access

	MPP    MPP         // Video engine library (nil = load librockchip_mpp)
	RGA    RGA         // 2D accelerator library (nil = load librga on first use)
	Fences FenceWaiter // Fence waiter (nil = poll(2) on the fence fd)
	Mapper Mapper      // CPU mapper (nil = mmap(2) with DMA-buf sync)
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		DMA32:     true,
		Cacheable: true,
	}
}

// Minimum frame size accepted by hardware frame pools.
const (
	MinFrameWidth  = 16
	MinFrameHeight = 16
)

// Device is the hardware context shared by decode, encode and accelerator
// sessions. It is reference counted; every session holds one reference.
type Device struct {
	id     string
	flags  BufferFlags
	mpp    MPP
	fences FenceWaiter
	mapper Mapper

	rgaOnce sync.Once
	rga     RGA
	rgaErr  error

	refs atomic.Int32
	log  zerolog.Logger
}

// NewDevice opens a hardware device.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	mpp := cfg.MPP
	if mpp == nil {
		var err error
		if mpp, err = OpenMPP(); err != nil {
			return nil, err
		}
	}

	d := &Device{
		id:     uuid.NewString(),
		flags:  BufferTypeDRM,
		mpp:    mpp,
		fences: cfg.Fences,
		mapper: cfg.Mapper,
		rga:    cfg.RGA,
	}
	if cfg.DMA32 {
		d.flags |= BufferDMA32
	}
	if cfg.Cacheable {
		d.flags |= BufferCachable
	}
	if d.fences == nil {
		d.fences = fenceWaiter{}
	}
	if d.mapper == nil {
		d.mapper = newDMABufMapper(cfg.Cacheable)
	}
	d.refs.Store(1)
	d.log = rklog.WithSession("device", d.id)
	d.log.Debug().
		Bool("dma32", cfg.DMA32).
		Bool("cacheable", cfg.Cacheable).
		Msg("device opened")
	return d, nil
}

// Ref adds a reference and returns d.
func (d *Device) Ref() *Device {
	d.refs.Add(1)
	return d
}

// Unref drops a reference.
func (d *Device) Unref() {
	if d.refs.Add(-1) == 0 {
		d.log.Debug().Msg("device released")
	}
}

// Refs returns the current reference count.
func (d *Device) Refs() int { return int(d.refs.Load()) }

// ID returns the device identifier used in logs.
func (d *Device) ID() string { return d.id }

// Flags returns the buffer allocation flags.
func (d *Device) Flags() BufferFlags { return d.flags }

// Cacheable reports whether buffers need DMA-buf sync around CPU access.
func (d *Device) Cacheable() bool { return d.flags&BufferCachable != 0 }

// MPP returns the video engine library.
func (d *Device) MPP() MPP { return d.mpp }

// RGA returns the 2D accelerator library, loading it on first use.
func (d *Device) RGA() (RGA, error) {
	d.rgaOnce.Do(func() {
		if d.rga == nil {
			d.rga, d.rgaErr = OpenRGA()
		}
	})
	return d.rga, d.rgaErr
}

// Fences returns the fence waiter.
func (d *Device) Fences() FenceWaiter { return d.fences }

// Mapper returns the CPU mapper.
func (d *Device) Mapper() Mapper { return d.mapper }
