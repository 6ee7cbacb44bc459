//go:build !linux

package rkmedia

type unsupportedMapper struct{}

func newDMABufMapper(bool) Mapper { return unsupportedMapper{} }

func (unsupportedMapper) Map(*FrameDescriptor, MapFlags) (*Mapping, error) {
	return nil, ErrHardwareUnavailable
}

type fenceWaiter struct{}

func (fenceWaiter) Wait(fence int, _ Timeout) error {
	if fence <= 0 {
		return nil
	}
	return ErrHardwareUnavailable
}
