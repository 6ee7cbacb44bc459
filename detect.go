package rkmedia

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DetectVideoCodec guesses the codec of the first packet of a stream.
// Recognized:
//   - H.264 and H.265 in Annex B form (parameter sets, AUD, IRAP slices)
//   - H.264 in length-prefixed (AVCC) form
//   - MPEG-1/2 and MPEG-4 Part 2 start codes, H.263 picture start codes
//   - JPEG frames (MJPEG)
//   - IVF files (VP8, VP9, AV1) and bare VP8/VP9/AV1 frames
//
// It returns VideoCodecUnknown when nothing matches.
func DetectVideoCodec(data []byte) VideoCodec {
	if len(data) < 4 {
		return VideoCodecUnknown
	}
	if len(data) >= 32 && string(data[0:4]) == "DKIF" {
		switch string(data[8:12]) {
		case "VP80":
			return VideoCodecVP8
		case "VP90":
			return VideoCodecVP9
		case "AV01":
			return VideoCodecAV1
		}
		return VideoCodecUnknown
	}
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return VideoCodecMJPEG
	}
	if isAnnexBStartCode(data) {
		if c := detectStartCodeStream(data); c != VideoCodecUnknown {
			return c
		}
	}
	if isH263Picture(data) {
		return VideoCodecH263
	}
	if isAVCCFormat(data) {
		return VideoCodecH264
	}
	if isVP8Keyframe(data) {
		return VideoCodecVP8
	}
	if isVP9Frame(data) {
		return VideoCodecVP9
	}
	if isAV1OBU(data) {
		return VideoCodecAV1
	}
	return VideoCodecUnknown
}

// isAnnexBStartCode reports whether data begins with a 3- or 4-byte start code.
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1
}

// MPEG video start code values (ISO/IEC 11172-2, 13818-2, 14496-2).
const (
	mpegSequenceStart = 0xB3
	mpegGOPStart      = 0xB8
	mpeg2ExtStart     = 0xB5
	mpeg4VOSStart     = 0xB0
	mpeg4VOPStart     = 0xB6
)

// detectStartCodeStream classifies a start-code delimited stream. MPEG
// start codes are checked first; their code bytes have the forbidden bit
// of a NAL header set or carry no payload.
func detectStartCodeStream(data []byte) VideoCodec {
	nals := SplitAnnexB(data)
	if len(nals) == 0 {
		return VideoCodecUnknown
	}
	switch c := nals[0][0]; {
	case c == mpegSequenceStart || c == mpegGOPStart:
		for _, n := range nals[1:] {
			if n[0] == mpeg2ExtStart {
				return VideoCodecMPEG2
			}
		}
		return VideoCodecMPEG1
	case c == mpeg4VOSStart || c == mpeg4VOPStart:
		return VideoCodecMPEG4
	case c <= 0x1F && len(nals[0]) == 1 && len(nals) > 1 && nals[1][0]>>4 == 0x2:
		// video_object_start_code followed by video_object_layer_start_code
		return VideoCodecMPEG4
	}
	for _, n := range nals {
		if c := nalCodec(n); c != VideoCodecUnknown {
			return c
		}
	}
	return VideoCodecUnknown
}

// nalCodec classifies one NAL unit. H.265 parameter sets and IRAP slices
// carry nuh_temporal_id_plus1 = 1 in the second header byte; H.264
// slices, SEI, parameter sets and AUD are recognized by type.
func nalCodec(n []byte) VideoCodec {
	if len(n) == 0 || n[0]&0x80 != 0 {
		return VideoCodecUnknown
	}
	if len(n) >= 2 && n[1] == 0x01 && n[0]&0x01 == 0 {
		switch t := n[0] >> 1 & 0x3f; {
		case t >= 32 && t <= 35, t >= h265NALIRAPMin && t <= 21:
			return VideoCodecH265
		}
	}
	switch n[0] & 0x1f {
	case 1, h264NALIDR, 6, 7, 8, 9:
		return VideoCodecH264
	}
	return VideoCodecUnknown
}

// isH263Picture checks for the 22-bit picture start code 0000 0000 0000 0000 1000 00.
func isH263Picture(data []byte) bool {
	return len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2]&0xFC == 0x80
}

// isAVCCFormat checks for a plausible 4-byte big-endian NAL length prefix
// followed by an H.264 NAL header.
func isAVCCFormat(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	n := binary.BigEndian.Uint32(data)
	if n == 0 || int64(n) > int64(len(data)-4) || n >= 10<<20 {
		return false
	}
	return data[4]&0x80 == 0 && data[4]&0x1f != 0
}

// isVP8Keyframe checks the keyframe bit and start code of an RFC 6386 frame.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 || data[0]&0x01 != 0 {
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// isVP9Frame checks the 2-bit frame marker of an uncompressed VP9 header.
func isVP9Frame(data []byte) bool {
	return len(data) >= 3 && data[0]>>6 == 0x02
}

// isAV1OBU checks for a temporal delimiter or sequence header OBU, the
// units an AV1 temporal unit starts with.
func isAV1OBU(data []byte) bool {
	if len(data) < 2 || data[0]&0x80 != 0 || data[0]&0x01 != 0 {
		return false
	}
	t := data[0] >> 3 & 0x0F
	return t == 1 || t == 2
}

// ProbePacketSource reads the first packet of src to detect its codec. The
// returned source replays that packet before continuing with src.
func ProbePacketSource(src PacketSource) (VideoCodec, PacketSource, error) {
	for {
		p, err := src.ReadPacket()
		switch {
		case err == nil:
		case IsTransient(err):
			continue
		case errors.Is(err, io.EOF):
			return VideoCodecUnknown, src, fmt.Errorf("%w: stream ended before the first packet", ErrInvalidArgument)
		default:
			return VideoCodecUnknown, src, err
		}
		if p == nil || len(p.Data) == 0 {
			continue
		}
		c := DetectVideoCodec(p.Data)
		if c == VideoCodecUnknown {
			return c, &replaySource{first: p, src: src}, fmt.Errorf("%w: unrecognized bitstream", ErrNotSupported)
		}
		return c, &replaySource{first: p, src: src}, nil
	}
}

type replaySource struct {
	first *Packet
	src   PacketSource
}

func (r *replaySource) ReadPacket() (*Packet, error) {
	if p := r.first; p != nil {
		r.first = nil
		return p, nil
	}
	return r.src.ReadPacket()
}
