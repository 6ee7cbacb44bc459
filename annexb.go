package rkmedia

import (
	"encoding/binary"
	"fmt"
)

var annexBStartCode = []byte{0, 0, 0, 1}

// SplitAnnexB splits an Annex B byte stream into NAL units, without start
// codes. Both 3- and 4-byte start codes are accepted.
func SplitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var sc int
		switch {
		case data[i+2] == 1:
			sc = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			sc = 4
		default:
			continue
		}
		if start >= 0 && i > start {
			nals = append(nals, data[start:i])
		}
		start = i + sc
		i += sc - 1
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}

// AppendAnnexB appends nal to dst with a 4-byte start code.
func AppendAnnexB(dst, nal []byte) []byte {
	dst = append(dst, annexBStartCode...)
	return append(dst, nal...)
}

// AVCCToAnnexB converts length-prefixed NAL units (ISO/IEC 14496-15) to an
// Annex B byte stream. lengthSize is 1, 2 or 4.
func AVCCToAnnexB(data []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: NAL length size %d", ErrInvalidArgument, lengthSize)
	}
	out := make([]byte, 0, len(data)+16)
	for off := 0; off < len(data); {
		if off+lengthSize > len(data) {
			return nil, fmt.Errorf("%w: truncated NAL length at %d", ErrStreamCorrupt, off)
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(data[off])
		case 2:
			n = int(binary.BigEndian.Uint16(data[off:]))
		case 4:
			n = int(binary.BigEndian.Uint32(data[off:]))
		}
		off += lengthSize
		if n > len(data)-off {
			return nil, fmt.Errorf("%w: NAL of %d bytes at %d exceeds %d", ErrStreamCorrupt, n, off, len(data))
		}
		out = AppendAnnexB(out, data[off:off+n])
		off += n
	}
	return out, nil
}

// AVCDecoderConfig is a parsed AVCDecoderConfigurationRecord.
type AVCDecoderConfig struct {
	Profile    uint8
	Level      uint8
	LengthSize int
	SPS        [][]byte
	PPS        [][]byte
}

// ParseAVCDecoderConfig parses an AVCDecoderConfigurationRecord, the
// sequence header of FLV and MP4 H.264 streams.
func ParseAVCDecoderConfig(b []byte) (*AVCDecoderConfig, error) {
	if len(b) < 7 || b[0] != 1 {
		return nil, fmt.Errorf("%w: AVC decoder configuration record", ErrInvalidArgument)
	}
	c := &AVCDecoderConfig{
		Profile:    b[1],
		Level:      b[3],
		LengthSize: int(b[4]&0x03) + 1,
	}
	rest, sps, err := readParameterSets(b[6:], int(b[5]&0x1f))
	if err != nil {
		return nil, fmt.Errorf("sps: %w", err)
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing PPS count", ErrInvalidArgument)
	}
	_, pps, err := readParameterSets(rest[1:], int(rest[0]))
	if err != nil {
		return nil, fmt.Errorf("pps: %w", err)
	}
	c.SPS, c.PPS = sps, pps
	return c, nil
}

// readParameterSets reads count 16-bit length-prefixed sets from b.
func readParameterSets(b []byte, count int) ([]byte, [][]byte, error) {
	var sets [][]byte
	for i := 0; i < count; i++ {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated parameter set", ErrInvalidArgument)
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b)-2 < n {
			return nil, nil, fmt.Errorf("%w: truncated parameter set", ErrInvalidArgument)
		}
		sets = append(sets, append([]byte(nil), b[2:2+n]...))
		b = b[2+n:]
	}
	return b, sets, nil
}

// AnnexB returns the parameter sets as an Annex B byte stream.
func (c *AVCDecoderConfig) AnnexB() []byte {
	var out []byte
	for _, s := range c.SPS {
		out = AppendAnnexB(out, s)
	}
	for _, p := range c.PPS {
		out = AppendAnnexB(out, p)
	}
	return out
}
