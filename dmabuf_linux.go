//go:build linux

package rkmedia

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DMA-buf CPU access synchronization (linux/dma-buf.h).
const (
	dmaBufIoctlSync = 0x40086200 // _IOW('b', 0, struct dma_buf_sync)

	dmaBufSyncRead  = 1 << 0
	dmaBufSyncWrite = 2 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

type dmaBufSync struct {
	flags uint64
}

func dmaBufSyncIoctl(fd int, flags uint64) error {
	s := &dmaBufSync{flags: flags}
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), dmaBufIoctlSync, uintptr(unsafe.Pointer(s)))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func syncFlags(flags MapFlags) uint64 {
	var f uint64
	if flags&MapRead != 0 {
		f |= dmaBufSyncRead
	}
	if flags&(MapWrite|MapOverwrite) != 0 {
		f |= dmaBufSyncWrite
	}
	return f
}

// dmaBufMapper maps DMA-bufs with mmap, bracketing CPU access with
// DMA_BUF_IOCTL_SYNC when the buffers are CPU cacheable.
type dmaBufMapper struct {
	cacheable bool
}

func newDMABufMapper(cacheable bool) Mapper { return &dmaBufMapper{cacheable: cacheable} }

func (m *dmaBufMapper) Map(d *FrameDescriptor, flags MapFlags) (*Mapping, error) {
	if d == nil || d.Validate() != nil {
		return nil, fmt.Errorf("%w: map of invalid descriptor", ErrInvalidArgument)
	}
	for _, o := range d.Objects {
		if o.Modifier != ModifierLinear {
			return nil, fmt.Errorf("%w: map of modifier %#x", ErrNotSupported, o.Modifier)
		}
	}

	prot := 0
	if flags&MapRead != 0 {
		prot |= unix.PROT_READ
	}
	if flags&(MapWrite|MapOverwrite) != 0 {
		prot |= unix.PROT_WRITE
	}

	views := make([][]byte, len(d.Objects))
	owned := make([]bool, len(d.Objects))
	unmapAll := func() error {
		var first error
		for i, v := range views {
			if v == nil {
				continue
			}
			if m.cacheable {
				if err := dmaBufSyncIoctl(d.Objects[i].FD, dmaBufSyncEnd|syncFlags(flags)); err != nil && first == nil {
					first = err
				}
			}
			if owned[i] {
				if err := unix.Munmap(v); err != nil && first == nil {
					first = err
				}
			}
		}
		return first
	}

	for i, o := range d.Objects {
		if o.Ptr != 0 {
			views[i] = unsafe.Slice((*byte)(unsafe.Pointer(o.Ptr)), int(o.Size))
		} else {
			v, err := unix.Mmap(o.FD, 0, int(o.Size), prot, unix.MAP_SHARED)
			if err != nil {
				_ = unmapAll()
				return nil, fmt.Errorf("%w: mmap fd %d: %v", ErrExternal, o.FD, err)
			}
			views[i], owned[i] = v, true
		}
		if m.cacheable {
			if err := dmaBufSyncIoctl(o.FD, dmaBufSyncStart|syncFlags(flags)); err != nil {
				_ = unmapAll()
				return nil, fmt.Errorf("%w: dma-buf sync fd %d: %v", ErrExternal, o.FD, err)
			}
		}
	}

	planes, strides := descriptorPlanes(d, views)
	return NewMapping(planes, strides, unmapAll), nil
}

// fenceWaiter polls a sync_file fence until it signals, then closes it.
type fenceWaiter struct{}

func (fenceWaiter) Wait(fence int, timeout Timeout) error {
	if fence <= 0 {
		return nil
	}
	defer unix.Close(fence)
	ms := int(timeout)
	if timeout < 0 {
		ms = -1
	}
	fds := []unix.PollFd{{Fd: int32(fence), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: fence %d: %v", ErrExternal, fence, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: fence %d timed out", ErrExternal, fence)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("%w: fence %d signaled an error", ErrExternal, fence)
		}
		return nil
	}
}
