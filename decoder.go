package rkmedia

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rklog "github.com/thesyncim/rkmedia/internal/log"
	"github.com/thesyncim/rkmedia/internal/metrics"
)

// AFBCMode selects compressed decoder output.
type AFBCMode int

const (
	AFBCOff AFBCMode = iota
	AFBCOn
	// AFBCRGA enables compressed output only when the accelerator can read it
	// back at the stream size.
	AFBCRGA
)

func (m AFBCMode) String() string {
	switch m {
	case AFBCOn:
		return "on"
	case AFBCRGA:
		return "rga"
	default:
		return "off"
	}
}

// BufferMode selects how decoder output buffers are provided.
type BufferMode int

const (
	// BufferModeHalf lets the engine allocate from a pool-owned group.
	BufferModeHalf BufferMode = iota
	// BufferModeExternal pre-allocates every buffer and commits it.
	BufferModeExternal
)

func (m BufferMode) String() string {
	if m == BufferModeExternal {
		return "ext"
	}
	return "half"
}

func (m BufferMode) poolMode() PoolMode {
	if m == BufferModeExternal {
		return PoolPureExternal
	}
	return PoolHalfInternal
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	Codec VideoCodec

	// PixelFormat is the requested output. None selects hardware frames;
	// a software format is negotiated against hardware frames with Negotiate.
	PixelFormat PixelFormat
	Negotiate   FormatNegotiator

	Width  int // Coded size hint, used to check accelerator limits for AFBCRGA
	Height int

	Deinterlace    bool       // Engine deinterlacing (forced off by SkipNonKey)
	AFBC           AFBCMode   // Compressed output
	FastParse      bool       // Parser fast mode (disabled for interlaced streams)
	BufferMode     BufferMode // Output buffer provisioning
	SkipNonKey     bool       // Drop non-key packets once a frame was decoded
	ExtraHWFrames  int        // Buffers held downstream beyond the default headroom
	MaxErrorFrames int        // Consecutive corrupt frames tolerated before failing

	PacketTimeBase Rational // Time base of packet and frame timestamps (zero = from packets)
}

// DefaultDecoderConfig returns the default configuration for codec.
func DefaultDecoderConfig(codec VideoCodec) DecoderConfig {
	return DecoderConfig{
		Codec:          codec,
		Deinterlace:    true,
		FastParse:      true,
		BufferMode:     BufferModeHalf,
		MaxErrorFrames: 100,
	}
}

// DecoderState is the lifecycle state of a Decoder.
type DecoderState int

const (
	DecoderIdle DecoderState = iota
	DecoderConfigured
	DecoderDecoding
	DecoderInfoChangePending
	DecoderDraining
	DecoderEOF
	DecoderClosed
)

func (s DecoderState) String() string {
	switch s {
	case DecoderIdle:
		return "idle"
	case DecoderConfigured:
		return "configured"
	case DecoderDecoding:
		return "decoding"
	case DecoderInfoChangePending:
		return "info-change"
	case DecoderDraining:
		return "draining"
	case DecoderEOF:
		return "eof"
	case DecoderClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var decoderTransitions = map[DecoderState][]DecoderState{
	DecoderIdle:              {DecoderConfigured},
	DecoderConfigured:        {DecoderDecoding, DecoderInfoChangePending, DecoderDraining},
	DecoderDecoding:          {DecoderInfoChangePending, DecoderDraining, DecoderConfigured, DecoderEOF},
	DecoderInfoChangePending: {DecoderDecoding, DecoderDraining, DecoderConfigured, DecoderEOF},
	DecoderDraining:          {DecoderEOF, DecoderConfigured, DecoderDecoding},
	DecoderEOF:               {DecoderConfigured, DecoderDecoding},
}

// Decoder is a hardware decode session.
//
// A Decoder is not safe for concurrent use. Frames it returns may outlive it.
type Decoder struct {
	id     string
	dev    *Device
	cfg    DecoderConfig
	engine DecodeEngine
	log    zerolog.Logger

	state DecoderState

	outFmt PixelFormat // DRM_PRIME or the negotiated software format
	swFmt  PixelFormat
	afbc   bool
	rfbc   bool

	width, height           int
	codedWidth, codedHeight int
	color                   ColorProps
	timeBase                Rational

	pool     *BufferPool
	extGroup BufferGroup
	groupSet bool

	pending  *Packet
	errCount int
	gotFrame bool
}

// decoderSoftwareFormat maps a requested software format to the semi-planar
// layout the engine produces, reporting whether codec can produce it.
func decoderSoftwareFormat(codec VideoCodec, requested PixelFormat) (PixelFormat, bool) {
	switch requested {
	case PixelFormatNone, PixelFormatDRMPrime:
		return PixelFormatDRMPrime, true
	case PixelFormatYUV420P, PixelFormatYUVJ420P, PixelFormatNV12:
		return PixelFormatNV12, true
	case PixelFormatYUV420P10, PixelFormatNV15:
		return PixelFormatNV15, codec == VideoCodecH264 || codec == VideoCodecH265 ||
			codec == VideoCodecVP9 || codec == VideoCodecAV1
	case PixelFormatYUV422P, PixelFormatNV16:
		return PixelFormatNV16, codec == VideoCodecH264
	case PixelFormatYUV422P10, PixelFormatNV20:
		return PixelFormatNV20, codec == VideoCodecH264
	case PixelFormatYUV444P, PixelFormatNV24:
		return PixelFormatNV24, codec == VideoCodecH265
	default:
		return PixelFormatNone, false
	}
}

// afbcCodec reports whether codec can produce compressed output.
func afbcCodec(codec VideoCodec) bool {
	switch codec {
	case VideoCodecH264, VideoCodecH265, VideoCodecVP9, VideoCodecAV1:
		return true
	}
	return false
}

// NewDecoder creates a decode session on dev. It takes a device reference
// that Close drops.
func NewDecoder(dev *Device, cfg DecoderConfig) (*Decoder, error) {
	if cfg.MaxErrorFrames <= 0 {
		cfg.MaxErrorFrames = 100
	}

	sw, ok := decoderSoftwareFormat(cfg.Codec, cfg.PixelFormat)
	if !ok {
		return nil, fmt.Errorf("%w: %s decoding to %s", ErrNotSupported, cfg.Codec, cfg.PixelFormat)
	}

	id := uuid.NewString()
	d := &Decoder{
		id:       id,
		cfg:      cfg,
		outFmt:   PixelFormatDRMPrime,
		timeBase: cfg.PacketTimeBase,
		color: ColorProps{
			Primaries: ColorPrimariesUnspecified,
			Transfer:  ColorTransferUnspecified,
			Space:     ColorSpaceUnspecified,
		},
		log: rklog.WithSession("decoder", id).With().
			Str(rklog.FieldCodec, cfg.Codec.String()).
			Logger(),
	}

	if sw != PixelFormatDRMPrime {
		out, err := d.negotiate([]PixelFormat{PixelFormatDRMPrime, sw})
		if err != nil {
			return nil, err
		}
		d.outFmt = out
		d.swFmt = sw
	}

	coding := cfg.Codec.DecoderCodingType()
	if coding == CodingUnused {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrNotSupported, cfg.Codec)
	}
	if err := dev.MPP().CheckSupport(EngineDecoder, coding); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrNotSupported, cfg.Codec, err)
	}

	engine, err := dev.MPP().NewDecodeEngine(coding)
	if err != nil {
		return nil, external("mpp_init", err)
	}
	d.engine = engine
	d.dev = dev.Ref()

	if err := d.configure(); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := d.transition(DecoderConfigured); err != nil {
		_ = d.Close()
		return nil, err
	}

	d.log.Info().
		Str(rklog.FieldFormat, d.outFmt.String()).
		Str("afbc", d.afbcName()).
		Str("buf_mode", cfg.BufferMode.String()).
		Msg("decoder configured")
	return d, nil
}

// configure applies the engine options chosen at init.
func (d *Decoder) configure() error {
	deint := d.cfg.Deinterlace
	if d.cfg.SkipNonKey {
		deint = false
	}
	if err := d.engine.SetDeinterlace(deint); err != nil {
		return external("set_enable_deinterlace", err)
	}

	mode := d.cfg.AFBC
	if d.outFmt != PixelFormatDRMPrime {
		mode = AFBCOff
	}
	if mode != AFBCOff {
		d.rfbc = socUsesRFBC(SoCName())
	}
	if mode == AFBCRGA && !d.rgaReadsAFBC() {
		d.log.Debug().Msg("compressed output requested without a capable accelerator, ignoring")
		mode = AFBCOff
	}
	if mode != AFBCOff {
		if !afbcCodec(d.cfg.Codec) {
			d.log.Debug().Msg("compressed output not supported by codec, ignoring")
			mode = AFBCOff
		} else if err := d.engine.SetOutputFormat(MPPFmtAFBCV2); err != nil {
			return external("set_output_format", err)
		}
	}
	d.afbc = mode != AFBCOff
	return nil
}

// rgaReadsAFBC reports whether the accelerator can read the compressed
// output at the configured size. RGA2-Pro reads the RFBC layout only.
func (d *Decoder) rgaReadsAFBC() bool {
	rga, err := d.dev.RGA()
	if err != nil {
		return false
	}
	caps := ParseRGAVersion(rga.Version())
	w, h := d.cfg.Width, d.cfg.Height
	pro := caps.Has(RGAEngineRGA2Pro)
	rga3 := caps.Has(RGAEngineRGA3)
	proFits := w >= 2 && w <= 8192 && h >= 2 && h <= 8192
	rga3Fits := w >= 68 && w <= 8176 && h >= 2 && h <= 8176
	d.rfbc = d.rfbc || pro
	return (pro && proFits) || (rga3 && rga3Fits)
}

func (d *Decoder) afbcName() string {
	switch {
	case !d.afbc:
		return "off"
	case d.rfbc:
		return "rfbc"
	default:
		return "afbc"
	}
}

// negotiate picks the output format among candidates. Without a negotiator
// the software candidate wins, as the caller asked for one explicitly.
func (d *Decoder) negotiate(candidates []PixelFormat) (PixelFormat, error) {
	if d.cfg.Negotiate == nil {
		return candidates[len(candidates)-1], nil
	}
	f, err := d.cfg.Negotiate(candidates)
	if err != nil {
		return PixelFormatNone, fmt.Errorf("format negotiation: %w", err)
	}
	for _, c := range candidates {
		if c == f {
			return f, nil
		}
	}
	return PixelFormatNone, fmt.Errorf("%w: negotiated format %s not offered", ErrInvalidArgument, f)
}

func (d *Decoder) transition(to DecoderState) error {
	from := d.state
	if from == to {
		return nil
	}
	ok := to == DecoderClosed
	for _, s := range decoderTransitions[from] {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: decoder state %s to %s", ErrInvalidArgument, from, to)
	}
	d.state = to
	d.log.Debug().
		Str(rklog.FieldOldState, from.String()).
		Str(rklog.FieldNewState, to.String()).
		Msg("state changed")
	return nil
}

// State returns the current state.
func (d *Decoder) State() DecoderState { return d.state }

// ID returns the session id used in logs.
func (d *Decoder) ID() string { return d.id }

// OutputFormat returns the format of returned frames and the software
// layout of the hardware buffers.
func (d *Decoder) OutputFormat() (format, sw PixelFormat) { return d.outFmt, d.swFmt }

// Size returns the stream dimensions and the 64-aligned coded dimensions,
// known after the first info change.
func (d *Decoder) Size() (width, height, codedWidth, codedHeight int) {
	return d.width, d.height, d.codedWidth, d.codedHeight
}

// Pool returns the output buffer pool, nil before the first info change.
func (d *Decoder) Pool() *BufferPool { return d.pool }

// ReceiveFrame returns the next decoded frame, pulling packets from src as
// needed. It returns ErrAgain when src has no packet ready and no frame is
// available, and io.EOF once every frame has been returned after src
// reported io.EOF.
func (d *Decoder) ReceiveFrame(src PacketSource) (*Frame, error) {
	if d.state == DecoderClosed {
		return nil, ErrSessionClosed
	}
	f, err := d.receive(src)
	if d.state == DecoderDraining && errors.Is(err, ErrAgain) {
		err = io.EOF
	}
	if err != nil && err != io.EOF && !errors.Is(err, ErrAgain) {
		metrics.SessionErrors.WithLabelValues("decoder", errorKind(err)).Inc()
	}
	return f, err
}

func (d *Decoder) receive(src PacketSource) (*Frame, error) {
	switch d.state {
	case DecoderEOF:
		return nil, io.EOF
	case DecoderInfoChangePending:
		if !d.groupSet {
			return nil, io.EOF
		}
	case DecoderDraining:
		return d.getFrame(TimeoutBlock)
	}

	for {
		if d.pending == nil {
			pkt, err := src.ReadPacket()
			switch {
			case errors.Is(err, io.EOF):
				d.log.Debug().Msg("end of input, draining")
				if err := d.sendEOS(); err != nil {
					return nil, err
				}
				return d.getFrame(TimeoutBlock)
			case errors.Is(err, ErrAgain):
				return d.getFrame(TimeoutNonBlock)
			case err != nil:
				return nil, fmt.Errorf("read packet: %w", err)
			}
			if pkt == nil || len(pkt.Data) == 0 {
				continue
			}
			d.pending = pkt
			continue
		}

		err := d.sendPacket(d.pending)
		switch {
		case errors.Is(err, ErrAgain):
			// Some streams need several packets before the first frame.
			f, gerr := d.getFrame(TimeoutPoll)
			if !errors.Is(gerr, ErrAgain) {
				return f, gerr
			}
		case err != nil:
			return nil, err
		default:
			d.pending = nil
		}
	}
}

func (d *Decoder) sendPacket(pkt *Packet) error {
	if d.state == DecoderDraining {
		return io.EOF
	}
	if d.gotFrame && d.cfg.SkipNonKey && !pkt.KeyFrame {
		d.log.Trace().Int64(rklog.FieldPTS, pkt.PTS).Msg("skipping non-key packet")
		return nil
	}
	if d.timeBase.IsZero() {
		d.timeBase = pkt.TimeBase
	}
	ep := &EnginePacket{
		Data: pkt.Data,
		PTS:  RescaleTS(pkt.PTS, d.packetTimeBase(), MicrosecondTimeBase),
	}
	if err := d.engine.PutPacket(ep); err != nil {
		if errors.Is(err, ErrAgain) {
			d.log.Trace().Msg("decoder input full")
			return ErrAgain
		}
		return external("decode_put_packet", err)
	}
	if d.state == DecoderConfigured {
		if err := d.transition(DecoderDecoding); err != nil {
			return err
		}
	}
	return nil
}

// packetTimeBase returns the time base of packet timestamps, microseconds
// when none is known.
func (d *Decoder) packetTimeBase() Rational {
	if d.timeBase.IsZero() {
		return MicrosecondTimeBase
	}
	return d.timeBase
}

// sendEOS queues the end-of-stream marker, retrying until the engine accepts
// it, and starts draining.
func (d *Decoder) sendEOS() error {
	for {
		err := d.engine.PutPacket(&EnginePacket{EOS: true, PTS: NoPTS})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrAgain) {
			return external("decode_put_packet(eos)", err)
		}
	}
	d.pending = nil
	return d.transition(DecoderDraining)
}

// getFrame pulls one frame from the engine within timeout.
func (d *Decoder) getFrame(timeout Timeout) (*Frame, error) {
	if d.state == DecoderEOF {
		return nil, io.EOF
	}
	if err := d.engine.SetOutputTimeout(timeout); err != nil {
		return nil, external("set_output_timeout", err)
	}
	ef, err := d.engine.GetFrame()
	if err != nil {
		return nil, external("decode_get_frame", err)
	}
	if ef == nil {
		if timeout != TimeoutNonBlock {
			d.log.Trace().Msg("timeout getting decoded frame")
		}
		return nil, ErrAgain
	}

	codec := d.cfg.Codec.String()
	if ef.EOS && ef.Buffer == nil {
		ef.Release()
		d.log.Debug().Msg("end of stream")
		if err := d.transition(DecoderEOF); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if ef.Discard {
		ef.Release()
		metrics.DecoderDropped.WithLabelValues(codec, "discard").Inc()
		if d.state == DecoderDraining {
			return d.getFrame(timeout)
		}
		return nil, ErrAgain
	}
	if ef.ErrInfo != 0 {
		ef.Release()
		d.errCount++
		metrics.DecoderDropped.WithLabelValues(codec, "errinfo").Inc()
		if d.errCount > d.cfg.MaxErrorFrames {
			return nil, fmt.Errorf("%w: %d consecutive corrupt frames: %w",
				ErrExternal, d.errCount, ErrStreamCorrupt)
		}
		return nil, fmt.Errorf("%w: %w", ErrAgain, ErrStreamCorrupt)
	}
	if ef.InfoChange {
		err := d.handleInfoChange(ef)
		ef.Release()
		if err != nil {
			return nil, err
		}
		// A stream shorter than the engine's input queue reports its
		// format only once draining started; its frames still follow.
		if d.state == DecoderDraining {
			return d.getFrame(timeout)
		}
		return nil, ErrAgain
	}

	d.errCount = 0
	d.gotFrame = true
	if d.state == DecoderConfigured {
		if err := d.transition(DecoderDecoding); err != nil {
			ef.Release()
			return nil, err
		}
	}

	if d.outFmt == PixelFormatDRMPrime {
		f, err := d.exportFrame(ef)
		if err != nil {
			return nil, err
		}
		metrics.DecoderFrames.WithLabelValues(codec, "drm").Inc()
		return f, nil
	}
	f, err := d.exportSoftware(ef)
	if err != nil {
		return nil, err
	}
	metrics.DecoderFrames.WithLabelValues(codec, "copy").Inc()
	return f, nil
}

// handleInfoChange reconfigures output buffers for a new stream format.
func (d *Decoder) handleInfoChange(ef *EngineFrame) error {
	metrics.DecoderInfoChanges.WithLabelValues(d.cfg.Codec.String()).Inc()
	if d.state != DecoderDraining {
		if err := d.transition(DecoderInfoChangePending); err != nil {
			return err
		}
	}

	if d.afbc && !ef.Format.IsFBC() {
		d.log.Debug().Msg("compressed output requested but not produced")
		d.afbc = false
	}

	sw := DecoderPixelFormat(ef.Format.Base())
	if sw == PixelFormatNone {
		return fmt.Errorf("%w: engine format %#x", ErrNotSupported, uint32(ef.Format))
	}
	if d.outFmt == PixelFormatDRMPrime {
		d.swFmt = sw
	} else {
		out, err := d.negotiate([]PixelFormat{PixelFormatDRMPrime, sw})
		if err != nil {
			return err
		}
		d.outFmt, d.swFmt = out, sw
	}

	d.width, d.height = ef.Width, ef.Height
	d.codedWidth, d.codedHeight = align(ef.Width, 64), align(ef.Height, 64)
	d.color = mergeColorProps(d.color, ef.Color)

	d.log.Info().
		Str(rklog.FieldResolution, fmt.Sprintf("%dx%d", d.width, d.height)).
		Str(rklog.FieldFormat, d.outFmt.String()).
		Str(rklog.FieldSwFormat, d.swFmt.String()).
		Str("afbc", d.afbcName()).
		Msg("stream info changed")

	if err := d.setBufferGroup(sw, d.width, d.height); err != nil {
		return err
	}

	fast := d.cfg.FastParse
	if order := ef.Mode & FrameModeFieldOrderMask; fast &&
		(order == FrameModeDeinterlaced || order == FrameModeTopFirst) {
		d.log.Debug().Msg("fast parsing disabled for interlaced video")
		fast = false
	}
	if err := d.engine.SetParserFastMode(fast); err != nil {
		return external("set_parser_fast_mode", err)
	}
	if err := d.engine.SetInfoChangeReady(); err != nil {
		return external("set_info_change_ready", err)
	}
	if d.state == DecoderInfoChangePending {
		return d.transition(DecoderDecoding)
	}
	return nil
}

// mergeColorProps overrides cur with the values of in that are specified.
func mergeColorProps(cur, in ColorProps) ColorProps {
	if cur.Primaries == ColorPrimariesReserved0 {
		cur.Primaries = ColorPrimariesUnspecified
	}
	if in.Primaries != ColorPrimariesReserved0 && in.Primaries != ColorPrimariesUnspecified {
		cur.Primaries = in.Primaries
	}
	if cur.Transfer == ColorTransferReserved0 {
		cur.Transfer = ColorTransferUnspecified
	}
	if in.Transfer != ColorTransferReserved0 && in.Transfer != ColorTransferUnspecified {
		cur.Transfer = in.Transfer
	}
	if cur.Space == ColorSpaceReserved {
		cur.Space = ColorSpaceUnspecified
	}
	if in.Space != ColorSpaceRGB && in.Space != ColorSpaceReserved && in.Space != ColorSpaceUnspecified {
		cur.Space = in.Space
	}
	if in.Range > ColorRangeUnspecified {
		cur.Range = in.Range
	}
	if in.ChromaLoc > 0 {
		cur.ChromaLoc = in.ChromaLoc
	}
	return cur
}

// setBufferGroup replaces the output pool with one sized for the stream and
// attaches it to the engine.
func (d *Decoder) setBufferGroup(format PixelFormat, width, height int) error {
	d.groupSet = false
	if d.pool != nil {
		d.pool.Release()
		d.pool = nil
	}

	mode := d.cfg.BufferMode.poolMode()
	count := PoolSize(d.cfg.Codec, mode, width, height, d.cfg.ExtraHWFrames)
	pc := PoolConfig{
		Mode:   mode,
		Format: format,
		Width:  align(width, 16),
		Height: align(height, 16),
		Flags:  BufferCachable,
	}
	if mode == PoolPureExternal {
		pc.InitialSize = count
	}
	pool, err := NewBufferPool(d.dev, pc)
	if err != nil {
		return fmt.Errorf("output pool: %w", err)
	}
	d.pool = pool

	switch mode {
	case PoolHalfInternal:
		if err := d.engine.SetBufferGroup(pool.Group()); err != nil {
			d.pool.Release()
			d.pool = nil
			return external("set_ext_buf_group", err)
		}
		if err := pool.SetLimit(count); err != nil {
			d.log.Warn().Err(err).Int(rklog.FieldPoolSize, count).Msg("failed to limit buffer group")
		}
	case PoolPureExternal:
		if d.extGroup != nil {
			if err := d.extGroup.Clear(); err != nil {
				return external("buffer_group_clear", err)
			}
		} else {
			g, err := d.dev.MPP().NewBufferGroup(GroupExternal, d.dev.Flags())
			if err != nil {
				return external("buffer_group_get_external", err)
			}
			d.extGroup = g
		}
		if err := pool.CommitTo(d.extGroup); err != nil {
			return err
		}
		if err := d.engine.SetBufferGroup(d.extGroup); err != nil {
			return external("set_ext_buf_group", err)
		}
	}

	d.groupSet = true
	d.log.Debug().
		Str(rklog.FieldPoolMode, mode.String()).
		Int(rklog.FieldPoolSize, count).
		Msg("output buffers attached")
	return nil
}

// Flush resets the engine and discards pending input. The decoder accepts
// packets again afterwards.
func (d *Decoder) Flush() error {
	if d.state == DecoderClosed {
		return ErrSessionClosed
	}
	d.log.Debug().Msg("flushing")
	if err := d.engine.Reset(); err != nil {
		d.log.Error().Err(err).Msg("failed to reset engine")
		return external("reset", err)
	}
	d.errCount = 0
	d.gotFrame = false
	d.pending = nil
	next := DecoderDecoding
	if !d.groupSet {
		next = DecoderConfigured
	}
	return d.transition(next)
}

// Close resets and destroys the engine and drops the device reference.
// Frames already returned stay valid until released.
func (d *Decoder) Close() error {
	if d.state == DecoderClosed {
		return nil
	}
	var errs []error
	if d.engine != nil {
		if err := d.engine.Reset(); err != nil {
			errs = append(errs, external("reset", err))
		}
		if err := d.engine.Destroy(); err != nil {
			errs = append(errs, external("mpp_destroy", err))
		}
	}
	if d.extGroup != nil {
		if err := d.extGroup.Release(); err != nil {
			errs = append(errs, external("buffer_group_put", err))
		}
		d.extGroup = nil
	}
	if d.pool != nil {
		d.pool.Release()
		d.pool = nil
	}
	d.pending = nil
	d.groupSet = false
	d.state = DecoderClosed
	if d.dev != nil {
		d.dev.Unref()
	}
	d.log.Debug().Msg("decoder closed")
	return errors.Join(errs...)
}
