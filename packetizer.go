package rkmedia

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// RTP video payload constants.
const (
	VideoClockRate = 90000
	DefaultMTU     = 1200
	rtpHeaderSize  = 12
)

// VideoTimeBase is the RTP video clock.
var VideoTimeBase = Rational{1, VideoClockRate}

// NAL unit types used by the payload formats.
const (
	h264NALIDR   = 5
	h264NALSTAPA = 24
	h264NALFUA   = 28

	h265NALIRAPMin = 16
	h265NALIRAPMax = 23
	h265NALAP      = 48
	h265NALFU      = 49
)

func nalType(codec VideoCodec, nal []byte) int {
	if codec == VideoCodecH265 {
		return int(nal[0]>>1) & 0x3f
	}
	return int(nal[0] & 0x1f)
}

func nalHeaderSize(codec VideoCodec) int {
	if codec == VideoCodecH265 {
		return 2
	}
	return 1
}

func isKeyNAL(codec VideoCodec, t int) bool {
	if codec == VideoCodecH265 {
		return t >= h265NALIRAPMin && t <= h265NALIRAPMax
	}
	return t == h264NALIDR
}

// Packetizer splits H.264 (RFC 6184) and H.265 (RFC 7798) access units into
// RTP packets in non-interleaved mode. NAL units larger than the MTU are
// fragmented; the marker bit ends each access unit.
type Packetizer struct {
	mu    sync.Mutex
	codec VideoCodec
	ssrc  uint32
	pt    uint8
	mtu   int
	seq   rtp.Sequencer
}

// NewPacketizer returns a packetizer for codec. mtu <= 0 selects DefaultMTU.
func NewPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (*Packetizer, error) {
	if codec != VideoCodecH264 && codec != VideoCodecH265 {
		return nil, fmt.Errorf("%w: RTP payload for %s", ErrNotSupported, codec)
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if mtu < rtpHeaderSize+nalHeaderSize(codec)+2 {
		return nil, fmt.Errorf("%w: MTU %d", ErrInvalidArgument, mtu)
	}
	return &Packetizer{
		codec: codec,
		ssrc:  ssrc,
		pt:    pt,
		mtu:   mtu,
		seq:   rtp.NewRandomSequencer(),
	}, nil
}

// Codec returns the payload codec.
func (p *Packetizer) Codec() VideoCodec { return p.codec }

// SetSSRC changes the SSRC of subsequent packets.
func (p *Packetizer) SetSSRC(ssrc uint32) { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }

// SetPayloadType changes the payload type of subsequent packets.
func (p *Packetizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.pt = pt; p.mu.Unlock() }

// Packetize converts one encoded Annex B access unit to RTP packets. The RTP
// timestamp is the packet PTS on the 90 kHz clock.
func (p *Packetizer) Packetize(pkt *Packet) ([]*rtp.Packet, error) {
	if pkt == nil || len(pkt.Data) == 0 {
		return nil, nil
	}
	if pkt.PTS != NoPTS && pkt.TimeBase.IsZero() {
		return nil, fmt.Errorf("%w: packet without a time base", ErrInvalidArgument)
	}
	nals := SplitAnnexB(pkt.Data)
	if len(nals) == 0 {
		return nil, fmt.Errorf("%w: no NAL units in %d bytes", ErrInvalidArgument, len(pkt.Data))
	}
	var ts uint32
	if pkt.PTS != NoPTS {
		ts = uint32(RescaleTS(pkt.PTS, pkt.TimeBase, VideoTimeBase))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*rtp.Packet
	room := p.mtu - rtpHeaderSize
	for i, nal := range nals {
		if len(nal) < nalHeaderSize(p.codec) {
			continue
		}
		last := i == len(nals)-1
		if len(nal) <= room {
			out = append(out, p.packet(ts, last, nal))
			continue
		}
		out = append(out, p.fragment(ts, last, nal)...)
	}
	return out, nil
}

func (p *Packetizer) packet(ts uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.pt,
			SequenceNumber: p.seq.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// fragment splits nal into FU-A (H.264) or FU (H.265) packets.
func (p *Packetizer) fragment(ts uint32, lastNAL bool, nal []byte) []*rtp.Packet {
	hs := nalHeaderSize(p.codec)
	t := byte(nalType(p.codec, nal))

	var prefix []byte
	if p.codec == VideoCodecH265 {
		// PayloadHdr keeps F, LayerId and TID with type 49.
		prefix = []byte{nal[0]&0x81 | h265NALFU<<1, nal[1], t}
	} else {
		prefix = []byte{nal[0]&0xe0 | h264NALFUA, t}
	}

	body := nal[hs:]
	room := p.mtu - rtpHeaderSize - len(prefix)
	var out []*rtp.Packet
	for off := 0; off < len(body); off += room {
		end := min(off+room, len(body))
		fu := t
		if off == 0 {
			fu |= 0x80
		}
		if end == len(body) {
			fu |= 0x40
		}
		payload := make([]byte, len(prefix)+end-off)
		copy(payload, prefix)
		payload[len(prefix)-1] = fu
		copy(payload[len(prefix):], body[off:end])
		out = append(out, p.packet(ts, lastNAL && end == len(body), payload))
	}
	return out
}

// Depacketizer reassembles H.264 or H.265 access units from RTP packets.
// Single NAL, aggregation (STAP-A / AP) and fragmentation (FU-A / FU)
// payloads are accepted.
type Depacketizer struct {
	codec VideoCodec

	au       []byte
	fu       []byte
	inFU     bool
	key      bool
	ts       uint32
	started  bool
	ext      int64 // unwrapped timestamp of the current access unit
	lastTS   uint32
	haveLast bool
}

// NewDepacketizer returns a depacketizer for codec.
func NewDepacketizer(codec VideoCodec) (*Depacketizer, error) {
	if codec != VideoCodecH264 && codec != VideoCodecH265 {
		return nil, fmt.Errorf("%w: RTP payload for %s", ErrNotSupported, codec)
	}
	return &Depacketizer{codec: codec}, nil
}

// Push adds an RTP packet. It returns the access unit completed by a marker
// bit, or nil. A timestamp change discards an unfinished access unit.
func (d *Depacketizer) Push(pkt *rtp.Packet) (*Packet, error) {
	hs := nalHeaderSize(d.codec)
	if len(pkt.Payload) < hs {
		return nil, nil
	}
	if d.started && pkt.Timestamp != d.ts {
		d.reset()
	}
	d.started = true
	d.ts = pkt.Timestamp

	payload := pkt.Payload
	switch t := nalType(d.codec, payload); {
	case d.codec == VideoCodecH264 && t == h264NALSTAPA,
		d.codec == VideoCodecH265 && t == h265NALAP:
		if err := d.aggregate(payload[hs:]); err != nil {
			return nil, err
		}
	case d.codec == VideoCodecH264 && t == h264NALFUA,
		d.codec == VideoCodecH265 && t == h265NALFU:
		if err := d.fragment(payload); err != nil {
			return nil, err
		}
	case d.codec == VideoCodecH264 && t >= 1 && t <= 23,
		d.codec == VideoCodecH265 && t < h265NALAP:
		d.nal(payload)
	default:
		return nil, fmt.Errorf("%w: RTP payload type %d", ErrStreamCorrupt, t)
	}

	if !pkt.Marker || len(d.au) == 0 {
		return nil, nil
	}
	out := &Packet{
		Data:     append([]byte(nil), d.au...),
		PTS:      d.unwrap(pkt.Timestamp),
		TimeBase: VideoTimeBase,
		KeyFrame: d.key,
	}
	out.DTS = out.PTS
	d.reset()
	d.started = false
	return out, nil
}

func (d *Depacketizer) nal(nal []byte) {
	if isKeyNAL(d.codec, nalType(d.codec, nal)) {
		d.key = true
	}
	d.au = AppendAnnexB(d.au, nal)
}

func (d *Depacketizer) aggregate(b []byte) error {
	for len(b) > 0 {
		if len(b) < 2 {
			return fmt.Errorf("%w: truncated aggregation packet", ErrStreamCorrupt)
		}
		n := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		if n > len(b) || n < nalHeaderSize(d.codec) {
			return fmt.Errorf("%w: aggregated NAL of %d bytes", ErrStreamCorrupt, n)
		}
		d.nal(b[:n])
		b = b[n:]
	}
	return nil
}

func (d *Depacketizer) fragment(payload []byte) error {
	hs := nalHeaderSize(d.codec)
	if len(payload) < hs+1 {
		return fmt.Errorf("%w: truncated fragmentation unit", ErrStreamCorrupt)
	}
	fu := payload[hs]
	start, end := fu&0x80 != 0, fu&0x40 != 0
	if start {
		d.fu = d.fu[:0]
		if d.codec == VideoCodecH265 {
			d.fu = append(d.fu, payload[0]&0x81|(fu&0x3f)<<1, payload[1])
		} else {
			d.fu = append(d.fu, payload[0]&0xe0|fu&0x1f)
		}
		d.inFU = true
	}
	if !d.inFU {
		return nil
	}
	d.fu = append(d.fu, payload[hs+1:]...)
	if end {
		d.nal(d.fu)
		d.fu = d.fu[:0]
		d.inFU = false
	}
	return nil
}

// unwrap extends 32-bit RTP timestamps to a monotonic 64-bit clock.
func (d *Depacketizer) unwrap(ts uint32) int64 {
	if !d.haveLast {
		d.haveLast = true
		d.lastTS = ts
		d.ext = int64(ts)
		return d.ext
	}
	d.ext += int64(int32(ts - d.lastTS))
	d.lastTS = ts
	return d.ext
}

func (d *Depacketizer) reset() {
	d.au = d.au[:0]
	d.fu = d.fu[:0]
	d.inFU = false
	d.key = false
}
