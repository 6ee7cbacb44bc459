package rkmedia

import (
	"bytes"
	"os"
	"strings"
	"sync"
)

// DeviceTreeCompatiblePath is where the SoC compatible strings are read from.
var DeviceTreeCompatiblePath = "/proc/device-tree/compatible"

var (
	socOnce sync.Once
	socName string
)

// SoCName returns the device-tree compatible strings joined by spaces, e.g.
// "rockchip,rk3588-evb1 rockchip,rk3588". The file is read once per process;
// "unknown" is returned when it cannot be read.
func SoCName() string {
	socOnce.Do(func() {
		socName = readSoCName(DeviceTreeCompatiblePath)
	})
	return socName
}

func readSoCName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "unknown"
	}
	data = bytes.TrimRight(data, "\x00")
	return string(bytes.ReplaceAll(data, []byte{0}, []byte{' '}))
}

// socUsesRFBC reports SoCs whose decoder writes RFBC instead of AFBC.
func socUsesRFBC(name string) bool {
	return strings.Contains(name, "rk3576")
}
