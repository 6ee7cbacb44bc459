package rkmedia

import "strings"

// RGAEngine identifies a 2D accelerator hardware class.
type RGAEngine uint8

const (
	RGAEngineNone     RGAEngine = iota
	RGAEngineRGA2                // RGA2 base
	RGAEngineRGA2Lite            // reduced scaling range
	RGAEngineRGA2Enhance
	RGAEngineRGA2Pro // RGA2 with FBC, 4:4:4 and a second core
	RGAEngineRGA3    // multicore, FBC and 10-bit, no planar YUV
	rgaEngineCount
)

// Scheduler core bits.
const (
	RGACoreDefault   = 0
	RGA3Core0        = 0x1
	RGA3Core1        = 0x2
	RGA2Core0        = 0x4
	RGA2Core1        = 0x8
	rga3CoreMask     = RGA3Core0 | RGA3Core1
	rgaLargeFrameMax = 3840 * 2160 * 3
)

// rgaEngineMeta contains the static limits of an accelerator class. Engine
// selection reads every limit from here.
type rgaEngineMeta struct {
	Name      string
	Token     string // substring of the hardware version string
	Cores     int    // scheduler core bits
	MaxScale  int    // largest up or down scale factor
	MaxOutput int
	MinInputW int
	MinInputH int
	MaxInput  int
}

// Static metadata table, indexed by RGAEngine.
var rgaEngineInfo = [rgaEngineCount]rgaEngineMeta{
	RGAEngineNone:        {"none", "", 0, 0, 0, 0, 0, 0},
	RGAEngineRGA2:        {"rga2", "RGA_2", RGA2Core0, 16, 4096, 2, 2, 8192},
	RGAEngineRGA2Lite:    {"rga2-lite", "RGA_2_lite", RGA2Core0, 8, 4096, 2, 2, 8192},
	RGAEngineRGA2Enhance: {"rga2-enhance", "RGA_2_Enhance", RGA2Core0, 16, 4096, 2, 2, 8192},
	RGAEngineRGA2Pro:     {"rga2-pro", "RGA_2_PRO", RGA2Core0 | RGA2Core1, 16, 8192, 2, 2, 8192},
	RGAEngineRGA3:        {"rga3", "RGA_3", rga3CoreMask, 8, 8128, 68, 2, 8176},
}

// String returns the engine name.
func (e RGAEngine) String() string {
	if e >= rgaEngineCount {
		return "unknown"
	}
	return rgaEngineInfo[e].Name
}

// MaxScale returns the largest up or down scale factor.
func (e RGAEngine) MaxScale() int {
	if e >= rgaEngineCount {
		return 0
	}
	return rgaEngineInfo[e].MaxScale
}

// IsRGA2 reports the RGA2 family.
func (e RGAEngine) IsRGA2() bool {
	return e >= RGAEngineRGA2 && e <= RGAEngineRGA2Pro
}

// RGACapabilities is the set of accelerator classes present on a device.
type RGACapabilities struct {
	Version string
	present [rgaEngineCount]bool
}

// ParseRGAVersion derives capabilities from the vendor version string. Like
// the vendor's own matching, "RGA_2" is also present when only a sub-variant
// such as "RGA_2_lite" is listed.
func ParseRGAVersion(v string) RGACapabilities {
	c := RGACapabilities{Version: v}
	for e := RGAEngineRGA2; e < rgaEngineCount; e++ {
		c.present[e] = strings.Contains(v, rgaEngineInfo[e].Token)
	}
	return c
}

// Has reports whether the engine class is present.
func (c RGACapabilities) Has(e RGAEngine) bool {
	if e == RGAEngineNone || e >= rgaEngineCount {
		return false
	}
	return c.present[e]
}

// Any reports whether any accelerator is present.
func (c RGACapabilities) Any() bool {
	for e := RGAEngineRGA2; e < rgaEngineCount; e++ {
		if c.present[e] {
			return true
		}
	}
	return false
}

// HasRGA2 reports any RGA2 family member.
func (c RGACapabilities) HasRGA2() bool {
	return c.present[RGAEngineRGA2] || c.present[RGAEngineRGA2Lite] ||
		c.present[RGAEngineRGA2Enhance] || c.present[RGAEngineRGA2Pro]
}

// Multicore reports devices on which the scheduler core can be chosen.
func (c RGACapabilities) Multicore() bool {
	return (c.HasRGA2() && c.present[RGAEngineRGA3]) || c.present[RGAEngineRGA2Pro]
}

// CoreMask returns the valid scheduler core bits.
func (c RGACapabilities) CoreMask() int {
	mask := rgaEngineInfo[RGAEngineRGA3].Cores | rgaEngineInfo[RGAEngineRGA2].Cores
	if c.present[RGAEngineRGA2Pro] {
		mask |= rgaEngineInfo[RGAEngineRGA2Pro].Cores
	}
	return mask
}

// restrict applies a requested scheduler core and returns the effective
// capabilities and core. Unsupported requests are ignored.
func (c RGACapabilities) restrict(core int) (RGACapabilities, int, bool) {
	if core == 0 {
		return c, 0, true
	}
	if !c.Multicore() || core&c.CoreMask() != core {
		return c, 0, false
	}
	if core&rga3CoreMask != 0 && core&^rga3CoreMask == 0 {
		c.present[RGAEngineRGA2] = false
		c.present[RGAEngineRGA2Lite] = false
		c.present[RGAEngineRGA2Enhance] = false
		c.present[RGAEngineRGA2Pro] = false
	}
	if core == RGA2Core0 && !c.present[RGAEngineRGA2Pro] {
		c.present[RGAEngineRGA3] = false
	}
	return c, core, true
}
