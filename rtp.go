package rkmedia

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	rklog "github.com/thesyncim/rkmedia/internal/log"
	"github.com/thesyncim/rkmedia/internal/metrics"
)

// CodecCapability returns the WebRTC codec capability of an encoder output.
func CodecCapability(codec VideoCodec) (webrtc.RTPCodecCapability, error) {
	switch codec {
	case VideoCodecH264:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   VideoClockRate,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, nil
	case VideoCodecH265:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeH265,
			ClockRate: VideoClockRate,
		}, nil
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: WebRTC codec %s", ErrNotSupported, codec)
}

type trackBinding struct {
	id    string
	ssrc  uint32
	pt    uint8
	write webrtc.TrackLocalWriter
}

// TrackWriter is a webrtc.TrackLocal fed with encoder packets. Each packet
// is packetized once and written to every bound peer connection with that
// binding's SSRC and payload type.
type TrackWriter struct {
	id, streamID string
	codec        webrtc.RTPCodecCapability
	pz           *Packetizer

	mu        sync.RWMutex
	bindings  []trackBinding
	extradata []byte // headers sent before keyframes

	log zerolog.Logger
}

// NewTrackWriter returns a track for codec.
func NewTrackWriter(codec VideoCodec, id, streamID string) (*TrackWriter, error) {
	capab, err := CodecCapability(codec)
	if err != nil {
		return nil, err
	}
	pz, err := NewPacketizer(codec, 0, 0, DefaultMTU)
	if err != nil {
		return nil, err
	}
	return &TrackWriter{
		id:       id,
		streamID: streamID,
		codec:    capab,
		pz:       pz,
		log:      rklog.WithComponent("track").With().Str(rklog.FieldTrackID, id).Logger(),
	}, nil
}

// SetExtradata sets stream headers to prepend to keyframes, for encoders
// running with global headers.
func (t *TrackWriter) SetExtradata(hdr []byte) {
	t.mu.Lock()
	t.extradata = append([]byte(nil), hdr...)
	t.mu.Unlock()
}

// Bind implements webrtc.TrackLocal.
func (t *TrackWriter) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	for _, p := range ctx.CodecParameters() {
		if !strings.EqualFold(p.MimeType, t.codec.MimeType) {
			continue
		}
		t.mu.Lock()
		t.bindings = append(t.bindings, trackBinding{
			id:    ctx.ID(),
			ssrc:  uint32(ctx.SSRC()),
			pt:    uint8(p.PayloadType),
			write: ctx.WriteStream(),
		})
		t.mu.Unlock()
		t.log.Debug().Str("binding", ctx.ID()).Uint8("payload_type", uint8(p.PayloadType)).Msg("track bound")
		return p, nil
	}
	return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
}

// Unbind implements webrtc.TrackLocal.
func (t *TrackWriter) Unbind(ctx webrtc.TrackLocalContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return webrtc.ErrUnbindFailed
}

// ID implements webrtc.TrackLocal.
func (t *TrackWriter) ID() string { return t.id }

// RID implements webrtc.TrackLocal.
func (t *TrackWriter) RID() string { return "" }

// StreamID implements webrtc.TrackLocal.
func (t *TrackWriter) StreamID() string { return t.streamID }

// Kind implements webrtc.TrackLocal.
func (t *TrackWriter) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

// Codec returns the codec capability of the track.
func (t *TrackWriter) Codec() webrtc.RTPCodecCapability { return t.codec }

// WritePacket packetizes an encoded packet and sends it to every binding.
// Packets written before any peer binds are dropped.
func (t *TrackWriter) WritePacket(p *Packet) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.bindings) == 0 {
		return nil
	}
	if p.KeyFrame && len(t.extradata) > 0 {
		q := *p
		q.Data = append(append([]byte(nil), t.extradata...), p.Data...)
		p = &q
	}
	pkts, err := t.pz.Packetize(p)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range t.bindings {
		for _, pkt := range pkts {
			h := pkt.Header
			h.SSRC = b.ssrc
			h.PayloadType = b.pt
			if _, err := b.write.WriteRTP(&h, pkt.Payload); err != nil {
				// A closing peer connection is not an error of the stream.
				if !errors.Is(err, io.ErrClosedPipe) {
					errs = append(errs, err)
				}
				break
			}
		}
	}
	metrics.RTPPackets.WithLabelValues(t.pz.Codec().String()).Add(float64(len(pkts)))
	return errors.Join(errs...)
}

var _ webrtc.TrackLocal = (*TrackWriter)(nil)

// RTPPacketSource feeds a Decoder from an RTP stream.
type RTPPacketSource struct {
	read func() (*rtp.Packet, error)
	dep  *Depacketizer
}

// NewRTPPacketSource depacketizes the packets returned by read. read returns
// io.EOF at the end of the stream.
func NewRTPPacketSource(codec VideoCodec, read func() (*rtp.Packet, error)) (*RTPPacketSource, error) {
	dep, err := NewDepacketizer(codec)
	if err != nil {
		return nil, err
	}
	return &RTPPacketSource{read: read, dep: dep}, nil
}

// NewTrackPacketSource feeds a decoder from a remote WebRTC track.
func NewTrackPacketSource(track *webrtc.TrackRemote) (*RTPPacketSource, error) {
	codec := VideoCodecUnknown
	switch mime := track.Codec().MimeType; {
	case strings.EqualFold(mime, webrtc.MimeTypeH264):
		codec = VideoCodecH264
	case strings.EqualFold(mime, webrtc.MimeTypeH265):
		codec = VideoCodecH265
	}
	return NewRTPPacketSource(codec, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

// ReadPacket implements PacketSource. It blocks until an access unit is
// complete.
func (s *RTPPacketSource) ReadPacket() (*Packet, error) {
	for {
		pkt, err := s.read()
		if err != nil {
			return nil, err
		}
		au, err := s.dep.Push(pkt)
		if err != nil {
			return nil, err
		}
		if au != nil {
			return au, nil
		}
	}
}
