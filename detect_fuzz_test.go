package rkmedia

import (
	"testing"

	"github.com/pion/rtp"
)

// FuzzDetectVideoCodec checks that detection never panics.
// Run with: go test -fuzz=FuzzDetectVideoCodec -fuzztime=30s
func FuzzDetectVideoCodec(f *testing.F) {
	seeds := [][]byte{
		// Annex B
		{0x00, 0x00, 0x00, 0x01, 0x67},
		{0x00, 0x00, 0x00, 0x01, 0x65},
		{0x00, 0x00, 0x01, 0x61, 0x00},
		{0x00, 0x00, 0x00, 0x01, 0x40, 0x01},
		{0x00, 0x00, 0x01, 0xb3, 0x00, 0x00, 0x01, 0xb5},
		{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x20},

		// AVCC
		{0x00, 0x00, 0x00, 0x05, 0x67, 0x42, 0x00, 0x0a, 0x00},

		{0xff, 0xd8, 0xff, 0xe0},
		{0x00, 0x00, 0x80, 0x02},
		{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x00, 0x00, 0x00, 0x00},
		{0x82, 0x49, 0x83},
		{0x12, 0x00},
		ivfHeader("VP90"),

		{},
		{0x00},
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0x00, 0x00, 0x01},
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		got := DetectVideoCodec(data)
		if got < VideoCodecUnknown || got > VideoCodecMJPEG {
			t.Errorf("DetectVideoCodec() = %d, not a codec", got)
		}
		if again := DetectVideoCodec(data); again != got {
			t.Errorf("DetectVideoCodec() not deterministic: %v != %v", got, again)
		}
	})
}

// FuzzSplitAnnexB checks that every returned NAL unit lies inside the
// input and that no start code survives at its head.
func FuzzSplitAnnexB(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68})
	f.Add([]byte{0, 0, 1, 0, 0, 1})
	f.Add([]byte{0, 0, 0, 0, 1})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		total := 0
		for _, nal := range SplitAnnexB(data) {
			if len(nal) == 0 {
				t.Fatal("SplitAnnexB() returned an empty NAL unit")
			}
			total += len(nal)
		}
		if total > len(data) {
			t.Fatalf("SplitAnnexB() returned %d bytes from %d", total, len(data))
		}
	})
}

// FuzzDepacketizer feeds arbitrary payloads; errors are fine, panics are not.
func FuzzDepacketizer(f *testing.F) {
	f.Add([]byte{0x7c, 0x85, 0x01, 0x02}, true)
	f.Add([]byte{0x78, 0x00, 0x02, 0x67, 0x42, 0x00, 0x01, 0x68}, true)
	f.Add([]byte{0x62, 0x01, 0x93, 0xaf}, false)
	f.Add([]byte{0x60, 0x01, 0x00, 0x03, 0x40, 0x01, 0x0c}, true)

	f.Fuzz(func(t *testing.T, payload []byte, marker bool) {
		for _, codec := range []VideoCodec{VideoCodecH264, VideoCodecH265} {
			d, err := NewDepacketizer(codec)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 2; i++ {
				pkt := &rtp.Packet{Header: rtp.Header{Marker: marker, Timestamp: 3000}, Payload: payload}
				if au, err := d.Push(pkt); err == nil && au != nil && len(au.Data) == 0 {
					t.Fatal("Push() returned an empty access unit")
				}
			}
		}
	})
}
