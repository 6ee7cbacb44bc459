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

// Frames an encoder may hold before submission is refused.
const (
	h26xAsyncFrames  = 4
	mjpegAsyncFrames = 8
	h26xHeaderSize   = 1024
)

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesSubmitted  uint64 // Frames handed to the engine
	PacketsEncoded   uint64 // Packets returned
	KeyframesEncoded uint64 // Packets flagged intra
	BytesEncoded     uint64 // Total bytes of encoded data
	Backpressure     uint64 // Submissions refused while the engine was full
}

// Encoder is a hardware encode session.
//
// Input frames stay referenced until the engine reports it has consumed
// them; a frame's buffer is never reused while the engine still reads it.
// An Encoder is not safe for concurrent use.
type Encoder struct {
	id     string
	dev    *Device
	cfg    EncoderConfig
	sw     PixelFormat
	mppFmt MPPFormat
	engine EncodeEngine
	ec     *EncConfig
	plan   RateControlPlan
	log    zerolog.Logger

	cfgInit     bool
	asyncFrames int
	timeout     Timeout
	slots       slotArena
	pool        *BufferPool // upload pool for software input
	extradata   []byte
	ready       []*Packet
	forceIDR    bool
	eosSent     bool
	drained     bool
	closed      bool
	stats       EncoderStats
}

// NewEncoder creates an encode session on dev. It takes a device reference
// that Close drops.
func NewEncoder(dev *Device, cfg EncoderConfig) (*Encoder, error) {
	coding := cfg.Codec.EncoderCodingType()
	if coding == CodingUnused {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrNotSupported, cfg.Codec)
	}
	if cfg.Width < MinFrameWidth || cfg.Height < MinFrameHeight {
		return nil, fmt.Errorf("%w: encoder size %dx%d", ErrInvalidArgument, cfg.Width, cfg.Height)
	}
	sw := cfg.inputFormat()
	mppFmt := EncoderMPPFormat(cfg.Codec, sw)
	if mppFmt == MPPFmtInvalid {
		return nil, fmt.Errorf("%w: %s input to %s", ErrNotSupported, sw, cfg.Codec)
	}
	plan, err := PlanRateControl(cfg)
	if err != nil {
		return nil, err
	}
	if err := dev.MPP().CheckSupport(EngineEncoder, coding); err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %v", ErrNotSupported, cfg.Codec, err)
	}

	engine, err := dev.MPP().NewEncodeEngine(coding)
	if err != nil {
		return nil, external("mpp_init", err)
	}

	id := uuid.NewString()
	e := &Encoder{
		id:      id,
		dev:     dev.Ref(),
		cfg:     cfg,
		sw:      sw,
		mppFmt:  mppFmt.Base(),
		engine:  engine,
		plan:    plan,
		timeout: TimeoutNonBlock,
		log: rklog.WithSession("encoder", id).With().
			Str(rklog.FieldCodec, cfg.Codec.String()).
			Logger(),
	}
	if cfg.LowDelay {
		e.timeout = TimeoutBlock
	}
	if err := e.init(); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.log.Info().
		Str(rklog.FieldResolution, fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)).
		Str(rklog.FieldFormat, cfg.PixelFormat.String()).
		Str(rklog.FieldSwFormat, sw.String()).
		Str("rc_mode", plan.Mode.String()).
		Int("bitrate", plan.Bitrate).
		Int("qp_init", plan.QPInit).
		Msg("encoder configured")
	return e, nil
}

func (e *Encoder) init() error {
	if err := e.engine.SetInputTimeout(TimeoutNonBlock); err != nil {
		return external("set_input_timeout", err)
	}
	if err := e.engine.SetOutputTimeout(TimeoutNonBlock); err != nil {
		return external("set_output_timeout", err)
	}
	ec, err := e.engine.Config()
	if err != nil {
		return external("enc_get_cfg", err)
	}
	e.ec = ec
	applyEncoderConfig(ec, e.cfg, e.plan)
	if err := e.engine.ApplyConfig(ec); err != nil {
		return external("enc_set_cfg", err)
	}

	e.asyncFrames = mjpegAsyncFrames
	if e.cfg.Codec.isH26x() {
		e.asyncFrames = h26xAsyncFrames
		if err := e.engine.SetSEIMode(SEIDisable); err != nil {
			return external("enc_set_sei_cfg", err)
		}
		mode := HeaderEachIDR
		if e.cfg.GlobalHeader {
			mode = HeaderDefault
		}
		if err := e.engine.SetHeaderMode(mode); err != nil {
			return external("enc_set_header_mode", err)
		}
		hdr, err := e.engine.HeaderSync(h26xHeaderSize)
		if err != nil {
			return external("enc_get_hdr_sync", err)
		}
		e.extradata = append([]byte(nil), hdr...)
	}

	if e.cfg.PixelFormat != PixelFormatDRMPrime {
		pool, err := NewBufferPool(e.dev, PoolConfig{
			Mode:   PoolInternal,
			Format: e.sw,
			Width:  e.cfg.Width,
			Height: e.cfg.Height,
		})
		if err != nil {
			return fmt.Errorf("upload pool: %w", err)
		}
		e.pool = pool
	}
	return nil
}

// ID returns the session id used in logs.
func (e *Encoder) ID() string { return e.id }

// Extradata returns the stream headers of H.264/H.265 encoders.
func (e *Encoder) Extradata() []byte { return append([]byte(nil), e.extradata...) }

// RateControl returns the resolved rate control.
func (e *Encoder) RateControl() RateControlPlan { return e.plan }

// Stats returns encoding statistics.
func (e *Encoder) Stats() EncoderStats { return e.stats }

// RequestKeyframe forces the next submitted frame to be an IDR frame.
func (e *Encoder) RequestKeyframe() { e.forceIDR = true }

// InFlight returns the number of frames the engine still references.
func (e *Encoder) InFlight() int { return e.slots.inFlight() }

// bufferReleased reports slots whose input buffer the engine is done with.
func bufferReleased(s *frameSlot) bool {
	return s.engine != nil && s.engine.Buffer != nil && s.engine.Buffer.Index() < 0
}

func (e *Encoder) reclaim() {
	e.slots.reclaim(bufferReleased)
	metrics.InFlightSlots.WithLabelValues("encoder").Set(float64(e.slots.inFlight()))
}

// SubmitFrame hands a frame to the engine; nil signals end of stream. It
// returns ErrAgain while more than the in-flight bound of frames are held by
// the engine: drain packets with ReceivePacket and submit again.
func (e *Encoder) SubmitFrame(f *Frame) error {
	if e.closed {
		return ErrSessionClosed
	}
	if e.eosSent {
		return io.EOF
	}
	e.reclaim()
	if e.slots.inFlight() > e.asyncFrames {
		e.stats.Backpressure++
		return ErrAgain
	}
	idx, err := e.submit(f)
	if err != nil {
		metrics.SessionErrors.WithLabelValues("encoder", errorKind(err)).Inc()
		return err
	}
	for {
		err = e.send(idx)
		if !errors.Is(err, ErrAgain) {
			break
		}
	}
	if err != nil {
		e.slots.release(idx)
		metrics.SessionErrors.WithLabelValues("encoder", errorKind(err)).Inc()
		return err
	}
	if f == nil {
		e.eosSent = true
	} else {
		e.stats.FramesSubmitted++
	}
	metrics.InFlightSlots.WithLabelValues("encoder").Set(float64(e.slots.inFlight()))
	return nil
}

// submit prepares the engine frame for f in a new slot.
func (e *Encoder) submit(f *Frame) (int, error) {
	idx := e.slots.acquire()
	s := e.slots.at(idx)
	ef := &EngineFrame{}
	s.engine = ef
	if f == nil {
		e.log.Debug().Msg("end of stream")
		ef.EOS = true
		return idx, nil
	}

	if err := e.prepare(s, f); err != nil {
		e.slots.release(idx)
		return -1, err
	}
	return idx, nil
}

func (e *Encoder) prepare(s *frameSlot, f *Frame) error {
	var hw *Frame
	if e.cfg.PixelFormat == PixelFormatDRMPrime {
		if !f.IsHardware() {
			return ErrNotHardwareFrame
		}
		hw = f.Ref()
	} else {
		up, err := e.pool.Upload(f)
		if err != nil {
			return fmt.Errorf("upload frame: %w", err)
		}
		hw = up
	}
	s.frame = hw

	sw := e.sw
	if (sw == PixelFormatYUV420P || sw == PixelFormatYUVJ420P || sw == PixelFormatYUV422P ||
		sw == PixelFormatYUVJ422P || sw == PixelFormatNV24) && hw.Width%2 != 0 {
		return fmt.Errorf("%w: width %d not 2-aligned", ErrInvalidArgument, hw.Width)
	}
	if (sw.IsRGB() || (sw.IsYUV() && !sw.IsPlanar())) && (hw.Width%2 != 0 || hw.Height%2 != 0) {
		return fmt.Errorf("%w: size %dx%d not 2-aligned", ErrInvalidArgument, hw.Width, hw.Height)
	}

	desc := hw.Descriptor
	if desc.FD() < 0 || desc.Layer() == nil {
		return fmt.Errorf("%w: frame without a DMA-buf", ErrInvalidArgument)
	}

	ef := s.engine
	ef.PTS = RescaleTS(hw.PTS, e.cfg.TimeBase, MicrosecondTimeBase)
	ef.Width, ef.Height = hw.Width, hw.Height
	ef.Color = e.inputColor(hw)

	mod := desc.Modifier()
	afbc := IsAFBC(mod)
	if !afbc && mod != ModifierLinear {
		return fmt.Errorf("%w: modifier %#x, only linear and AFBC", ErrNotSupported, mod)
	}
	if afbc && !e.cfg.Codec.isH26x() {
		return fmt.Errorf("%w: AFBC input to %s", ErrNotSupported, e.cfg.Codec)
	}

	format := e.mppFmt
	layer := desc.Layer()
	if afbc {
		if EncoderAFBCFormat(format) != layer.Format {
			return fmt.Errorf("%w: %s input with AFBC modifier", ErrNotSupported, sw)
		}
		format |= MPPFmtAFBCV2
		if hw.CropTop > 0 {
			ef.OffsetY = hw.CropTop
		}
		hor, err := TransformStride(sw, layer.Planes[0].Pitch, true)
		if err != nil {
			return err
		}
		if hor%16 != 0 {
			hor = align(e.cfg.Width, 16)
		}
		ef.FBCHeaderStride = hor
	} else {
		hor, ver, err := planeStrides(desc, sw, false)
		if err != nil {
			return fmt.Errorf("frame strides: %w", err)
		}
		ef.HorStride, ef.VerStride = hor, ver
	}
	ef.Format = format

	obj := desc.Objects[0]
	// A non-negative index marks the buffer as used by the engine.
	buf, err := e.dev.MPP().ImportBuffer(BufferInfo{
		Index: obj.FD,
		FD:    obj.FD,
		Size:  int(obj.Size),
	})
	if err != nil {
		return external("buffer_import", err)
	}
	ef.Buffer = buf
	ef.BufSize = int(obj.Size)
	return nil
}

// inputColor returns the color description sent with every frame: the
// configured one when set, else the frame's. YUVJ formats are full range.
func (e *Encoder) inputColor(f *Frame) ColorProps {
	c := f.Color
	if e.cfg.Color != (ColorProps{}) {
		c = e.cfg.Color
	}
	if e.sw.IsFullRange() {
		c.Range = ColorRangeJPEG
	}
	return c
}

// send applies the one-time input config and queues slot idx.
func (e *Encoder) send(idx int) error {
	s := e.slots.at(idx)
	ef := s.engine
	if s.frame != nil && !e.cfgInit {
		applyPrepConfig(e.ec, prepInput{
			width:     e.cfg.Width,
			height:    e.cfg.Height,
			horStride: ef.HorStride,
			verStride: ef.VerStride,
			format:    ef.Format,
			color:     ef.Color,
		})
		if err := e.engine.ApplyConfig(e.ec); err != nil {
			return external("enc_set_cfg(prep)", err)
		}
		e.cfgInit = true
		e.log.Debug().
			Int("hor_stride", ef.HorStride).
			Int("ver_stride", ef.VerStride).
			Msg("input config locked")
	}

	if s.frame != nil && e.cfg.Codec.isH26x() &&
		(e.forceIDR || s.frame.KeyFrame || s.frame.PictType == PictureTypeI) {
		if err := e.engine.RequestIDR(); err != nil {
			return external("enc_set_idr_frame", err)
		}
		e.forceIDR = false
	}

	if err := e.engine.PutFrame(ef); err != nil {
		if errors.Is(err, ErrAgain) {
			e.log.Trace().Msg("encoder input queue full")
			return ErrAgain
		}
		return external("encode_put_frame", err)
	}
	return nil
}

// ReceivePacket returns the next encoded packet. It returns ErrAgain when
// none is ready and io.EOF after the end-of-stream packet.
func (e *Encoder) ReceivePacket() (*Packet, error) {
	if e.closed {
		return nil, ErrSessionClosed
	}
	if len(e.ready) > 0 {
		p := e.ready[0]
		e.ready = e.ready[1:]
		return p, nil
	}
	return e.getPacket(e.timeout)
}

func (e *Encoder) getPacket(timeout Timeout) (*Packet, error) {
	if e.drained {
		return nil, io.EOF
	}
	if err := e.engine.SetOutputTimeout(timeout); err != nil {
		return nil, external("set_output_timeout", err)
	}
	ep, err := e.engine.GetPacket()
	if err != nil {
		if errors.Is(err, ErrAgain) {
			return nil, ErrAgain
		}
		return nil, external("encode_get_packet", err)
	}
	if ep == nil {
		return nil, ErrAgain
	}
	if ep.Release != nil {
		defer ep.Release()
	}
	if ep.EOS {
		e.log.Debug().Msg("end of stream packet")
		e.drained = true
		return nil, io.EOF
	}
	if !ep.HasMeta || ep.Input == nil {
		return nil, fmt.Errorf("%w: packet without input frame meta", ErrExternal)
	}

	tb := e.cfg.TimeBase
	pts := RescaleTS(ep.PTS, MicrosecondTimeBase, tb)
	pkt := &Packet{
		Data:     append([]byte(nil), ep.Data...),
		PTS:      pts,
		DTS:      pts,
		TimeBase: tb,
		KeyFrame: ep.Intra,
	}

	// The engine is done with the input frame.
	ep.Input.SetIndex(-1)
	e.reclaim()

	codec := e.cfg.Codec.String()
	metrics.EncoderPackets.WithLabelValues(codec).Inc()
	metrics.EncoderBytes.WithLabelValues(codec).Add(float64(len(pkt.Data)))
	e.stats.PacketsEncoded++
	e.stats.BytesEncoded += uint64(len(pkt.Data))
	if pkt.KeyFrame {
		e.stats.KeyframesEncoded++
	}
	return pkt, nil
}

// EncodeFrame submits f (nil to flush) and returns the next packet, if any.
//
// While the engine is full, EncodeFrame drains packets until f can be
// submitted; packets drained that way are returned by later calls first.
// During a flush it waits for each packet in turn and returns io.EOF once
// every packet has been returned.
func (e *Encoder) EncodeFrame(f *Frame) (*Packet, error) {
	if e.closed {
		return nil, ErrSessionClosed
	}
	if f != nil || !e.eosSent {
		for {
			err := e.SubmitFrame(f)
			if err == nil || (f == nil && errors.Is(err, io.EOF)) {
				break
			}
			if !errors.Is(err, ErrAgain) {
				return nil, err
			}
			p, gerr := e.getPacket(TimeoutPoll)
			switch {
			case gerr == nil:
				e.ready = append(e.ready, p)
			case !errors.Is(gerr, ErrAgain):
				return nil, gerr
			}
		}
	}

	if len(e.ready) > 0 {
		p := e.ready[0]
		e.ready = e.ready[1:]
		return p, nil
	}
	if f != nil {
		return e.getPacket(e.timeout)
	}
	for {
		p, err := e.getPacket(TimeoutPoll)
		if !errors.Is(err, ErrAgain) {
			return p, err
		}
	}
}

// Close resets and destroys the engine and releases every held frame.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	if e.engine != nil {
		if err := e.engine.Reset(); err != nil {
			errs = append(errs, external("reset", err))
		}
		if err := e.engine.Destroy(); err != nil {
			errs = append(errs, external("mpp_destroy", err))
		}
	}
	e.slots.clear()
	metrics.InFlightSlots.WithLabelValues("encoder").Set(0)
	e.ready = nil
	if e.pool != nil {
		e.pool.Release()
		e.pool = nil
	}
	e.dev.Unref()
	e.log.Debug().
		Uint64("packets", e.stats.PacketsEncoded).
		Uint64("bytes", e.stats.BytesEncoded).
		Msg("encoder closed")
	return errors.Join(errs...)
}
