//go:build !linux || normpp

package rkmedia

// IsMPPAvailable reports false: this build has no vendor bindings.
func IsMPPAvailable() bool { return false }

// IsRGAAvailable reports false: this build has no vendor bindings.
func IsRGAAvailable() bool { return false }

// OpenMPP fails with ErrHardwareUnavailable.
func OpenMPP() (MPP, error) { return nil, ErrHardwareUnavailable }

// OpenRGA fails with ErrHardwareUnavailable.
func OpenRGA() (RGA, error) { return nil, ErrHardwareUnavailable }
