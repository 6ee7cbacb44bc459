//go:build linux && !normpp

// MPP binding: librockchip_mpp through purego.

package rkmedia

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// MPPLibPathEnv overrides the path of librockchip_mpp.
const MPPLibPathEnv = "RKMEDIA_MPP_LIB_PATH"

var (
	mppOnce    sync.Once
	mppHandle  uintptr
	mppInitErr error
)

// librockchip_mpp function pointers. The buffer entry points are the real
// symbols behind the mpp_buffer_* macros and take a tag and caller name.
var (
	mppCreate        func(ctx, mpi *uintptr) int32
	mppInit          func(ctx uintptr, typ int32, coding int32) int32
	mppDestroy       func(ctx uintptr) int32
	mppCheckSupport  func(typ int32, coding int32) int32
	mppEncCfgInit    func(cfg *uintptr) int32
	mppEncCfgDeinit  func(cfg uintptr) int32
	mppEncCfgSetS32  func(cfg uintptr, name string, val int32) int32
	mppMetaGetS32    func(meta uintptr, key uint32, val *int32) int32
	mppMetaGetFrame  func(meta uintptr, key uint32, frame *uintptr) int32
	mppPacketInit    func(pkt *uintptr, data unsafe.Pointer, size uintptr) int32
	mppPacketDeinit  func(pkt *uintptr) int32
	mppPacketSetPTS  func(pkt uintptr, pts int64)
	mppPacketSetEOS  func(pkt uintptr) int32
	mppPacketSetLen  func(pkt uintptr, n uintptr)
	mppPacketGetData func(pkt uintptr) uintptr
	mppPacketGetPos  func(pkt uintptr) uintptr
	mppPacketGetLen  func(pkt uintptr) uintptr
	mppPacketGetPTS  func(pkt uintptr) int64
	mppPacketGetEOS  func(pkt uintptr) uint32
	mppPacketHasMeta func(pkt uintptr) int32
	mppPacketGetMeta func(pkt uintptr) uintptr

	mppGroupGet    func(group *uintptr, typ uint32, mode int32, tag, caller *byte) int32
	mppGroupPut    func(group uintptr) int32
	mppGroupClear  func(group uintptr) int32
	mppGroupLimit  func(group uintptr, size uintptr, count int32) int32
	mppBufGet      func(group uintptr, buf *uintptr, size uintptr, tag, caller *byte) int32
	mppBufImport   func(group uintptr, info *mppBufferInfo, buf *uintptr, tag, caller *byte) int32
	mppBufPut      func(buf uintptr, caller *byte) int32
	mppBufGetFD    func(buf uintptr, caller *byte) int32
	mppBufGetPtr   func(buf uintptr, caller *byte) uintptr
	mppBufGetSize  func(buf uintptr, caller *byte) uintptr
	mppBufGetIndex func(buf uintptr, caller *byte) int32
	mppBufSetIndex func(buf uintptr, index int32, caller *byte) int32

	mppFrameInit         func(frame *uintptr) int32
	mppFrameDeinit       func(frame *uintptr) int32
	mppFrameGetWidth     func(frame uintptr) uint32
	mppFrameGetHeight    func(frame uintptr) uint32
	mppFrameGetHorStride func(frame uintptr) uint32
	mppFrameGetVerStride func(frame uintptr) uint32
	mppFrameGetOffsetY   func(frame uintptr) uint32
	mppFrameGetFmt       func(frame uintptr) uint32
	mppFrameGetMode      func(frame uintptr) uint32
	mppFrameGetPTS       func(frame uintptr) int64
	mppFrameGetEOS       func(frame uintptr) uint32
	mppFrameGetDiscard   func(frame uintptr) uint32
	mppFrameGetErrinfo   func(frame uintptr) uint32
	mppFrameGetInfoChg   func(frame uintptr) uint32
	mppFrameGetBuffer    func(frame uintptr) uintptr
	mppFrameGetBufSize   func(frame uintptr) uintptr
	mppFrameGetRange     func(frame uintptr) int32
	mppFrameGetPrimaries func(frame uintptr) int32
	mppFrameGetTRC       func(frame uintptr) int32
	mppFrameGetSpace     func(frame uintptr) int32
	mppFrameGetChromaLoc func(frame uintptr) int32
	mppFrameGetSAR       func(frame uintptr) uint64 // MppFrameRational{num, den}
	mppFrameGetLight     func(frame uintptr) uint32 // {MaxCLL, MaxFALL}
	mppFrameSetWidth     func(frame uintptr, v uint32)
	mppFrameSetHeight    func(frame uintptr, v uint32)
	mppFrameSetHorStride func(frame uintptr, v uint32)
	mppFrameSetVerStride func(frame uintptr, v uint32)
	mppFrameSetOffsetY   func(frame uintptr, v uint32)
	mppFrameSetFBCStride func(frame uintptr, v uint32)
	mppFrameSetFmt       func(frame uintptr, v uint32)
	mppFrameSetPTS       func(frame uintptr, v int64)
	mppFrameSetEOS       func(frame uintptr, v uint32)
	mppFrameSetBuffer    func(frame uintptr, buf uintptr)
	mppFrameSetBufSize   func(frame uintptr, v uintptr)
	mppFrameSetRange     func(frame uintptr, v int32)
	mppFrameSetPrimaries func(frame uintptr, v int32)
	mppFrameSetTRC       func(frame uintptr, v int32)
	mppFrameSetSpace     func(frame uintptr, v int32)
)

// MPP status codes.
const (
	mppOK         = 0
	mppNOK        = -1
	mppErrTimeout = -8
)

// MppCtxType.
const (
	mppCtxDec = 0
	mppCtxEnc = 1
)

// MppBufferMode.
const (
	mppBufferInternal = 0
	mppBufferExternal = 1
)

// Offsets of the entry points in MppApi (64-bit layout).
const (
	mpiDecodePutPacket = 16
	mpiDecodeGetFrame  = 24
	mpiEncodePutFrame  = 40
	mpiEncodeGetPacket = 48
	mpiReset           = 104
	mpiControl         = 112
)

// MpiCmd values.
const (
	mppSetInputTimeout     = 0x200006
	mppSetOutputTimeout    = 0x200007
	mppDecSetExtBufGroup   = 0x310002
	mppDecSetInfoChangeRdy = 0x310003
	mppDecSetParserFast    = 0x310006
	mppDecSetOutputFormat  = 0x31000a
	mppDecSetDeinterlace   = 0x31000d
	mppEncSetCfg           = 0x320001
	mppEncGetCfg           = 0x320002
	mppEncSetIDRFrame      = 0x320009
	mppEncGetHdrSync       = 0x32000d
	mppEncSetSEICfg        = 0x32000f
	mppEncSetHeaderMode    = 0x328001
)

// MppMetaKey values, fourcc packed big-endian.
const (
	mppKeyInputFrame  = 'i'<<24 | 'f'<<16 | 'r'<<8 | 'm'
	mppKeyOutputIntra = 'o'<<24 | 'i'<<16 | 'd'<<8 | 'r'
)

// mppBufferInfo mirrors MppBufferInfo.
type mppBufferInfo struct {
	typ   uint32
	_     uint32
	size  uintptr
	ptr   uintptr
	hnd   uintptr
	fd    int32
	index int32
}

// mppTag is the NUL-terminated module tag. The library keeps the pointer.
var mppTag = []byte("rkmedia\x00")

func mppName() *byte { return &mppTag[0] }

func loadMPP() error {
	mppOnce.Do(func() {
		mppHandle, mppInitErr = dlopenFirst("librockchip_mpp",
			vendorLibPaths(MPPLibPathEnv, "librockchip_mpp.so.1", "librockchip_mpp.so"),
			loadMPPSymbols)
	})
	return mppInitErr
}

func loadMPPSymbols(h uintptr) error {
	return registerSymbols(h, map[string]any{
		"mpp_create":               &mppCreate,
		"mpp_init":                 &mppInit,
		"mpp_destroy":              &mppDestroy,
		"mpp_check_support_format": &mppCheckSupport,
		"mpp_enc_cfg_init":         &mppEncCfgInit,
		"mpp_enc_cfg_deinit":       &mppEncCfgDeinit,
		"mpp_enc_cfg_set_s32":      &mppEncCfgSetS32,
		"mpp_meta_get_s32":         &mppMetaGetS32,
		"mpp_meta_get_frame":       &mppMetaGetFrame,
		"mpp_packet_init":          &mppPacketInit,
		"mpp_packet_deinit":        &mppPacketDeinit,
		"mpp_packet_set_pts":       &mppPacketSetPTS,
		"mpp_packet_set_eos":       &mppPacketSetEOS,
		"mpp_packet_set_length":    &mppPacketSetLen,
		"mpp_packet_get_data":      &mppPacketGetData,
		"mpp_packet_get_pos":       &mppPacketGetPos,
		"mpp_packet_get_length":    &mppPacketGetLen,
		"mpp_packet_get_pts":       &mppPacketGetPTS,
		"mpp_packet_get_eos":       &mppPacketGetEOS,
		"mpp_packet_has_meta":      &mppPacketHasMeta,
		"mpp_packet_get_meta":      &mppPacketGetMeta,

		"mpp_buffer_group_get":             &mppGroupGet,
		"mpp_buffer_group_put":             &mppGroupPut,
		"mpp_buffer_group_clear":           &mppGroupClear,
		"mpp_buffer_group_limit_config":    &mppGroupLimit,
		"mpp_buffer_get_with_tag":          &mppBufGet,
		"mpp_buffer_import_with_tag":       &mppBufImport,
		"mpp_buffer_put_with_caller":       &mppBufPut,
		"mpp_buffer_get_fd_with_caller":    &mppBufGetFD,
		"mpp_buffer_get_ptr_with_caller":   &mppBufGetPtr,
		"mpp_buffer_get_size_with_caller":  &mppBufGetSize,
		"mpp_buffer_get_index_with_caller": &mppBufGetIndex,
		"mpp_buffer_set_index_with_caller": &mppBufSetIndex,

		"mpp_frame_init":                &mppFrameInit,
		"mpp_frame_deinit":              &mppFrameDeinit,
		"mpp_frame_get_width":           &mppFrameGetWidth,
		"mpp_frame_get_height":          &mppFrameGetHeight,
		"mpp_frame_get_hor_stride":      &mppFrameGetHorStride,
		"mpp_frame_get_ver_stride":      &mppFrameGetVerStride,
		"mpp_frame_get_offset_y":        &mppFrameGetOffsetY,
		"mpp_frame_get_fmt":             &mppFrameGetFmt,
		"mpp_frame_get_mode":            &mppFrameGetMode,
		"mpp_frame_get_pts":             &mppFrameGetPTS,
		"mpp_frame_get_eos":             &mppFrameGetEOS,
		"mpp_frame_get_discard":         &mppFrameGetDiscard,
		"mpp_frame_get_errinfo":         &mppFrameGetErrinfo,
		"mpp_frame_get_info_change":     &mppFrameGetInfoChg,
		"mpp_frame_get_buffer":          &mppFrameGetBuffer,
		"mpp_frame_get_buf_size":        &mppFrameGetBufSize,
		"mpp_frame_get_color_range":     &mppFrameGetRange,
		"mpp_frame_get_color_primaries": &mppFrameGetPrimaries,
		"mpp_frame_get_color_trc":       &mppFrameGetTRC,
		"mpp_frame_get_colorspace":      &mppFrameGetSpace,
		"mpp_frame_get_chroma_location": &mppFrameGetChromaLoc,
		"mpp_frame_get_sar":             &mppFrameGetSAR,
		"mpp_frame_get_content_light":   &mppFrameGetLight,
		"mpp_frame_set_width":           &mppFrameSetWidth,
		"mpp_frame_set_height":          &mppFrameSetHeight,
		"mpp_frame_set_hor_stride":      &mppFrameSetHorStride,
		"mpp_frame_set_ver_stride":      &mppFrameSetVerStride,
		"mpp_frame_set_offset_y":        &mppFrameSetOffsetY,
		"mpp_frame_set_fbc_hdr_stride":  &mppFrameSetFBCStride,
		"mpp_frame_set_fmt":             &mppFrameSetFmt,
		"mpp_frame_set_pts":             &mppFrameSetPTS,
		"mpp_frame_set_eos":             &mppFrameSetEOS,
		"mpp_frame_set_buffer":          &mppFrameSetBuffer,
		"mpp_frame_set_buf_size":        &mppFrameSetBufSize,
		"mpp_frame_set_color_range":     &mppFrameSetRange,
		"mpp_frame_set_color_primaries": &mppFrameSetPrimaries,
		"mpp_frame_set_color_trc":       &mppFrameSetTRC,
		"mpp_frame_set_colorspace":      &mppFrameSetSpace,
	})
}

// IsMPPAvailable reports whether librockchip_mpp can be loaded.
func IsMPPAvailable() bool { return loadMPP() == nil }

// OpenMPP loads librockchip_mpp.
func OpenMPP() (MPP, error) {
	if err := loadMPP(); err != nil {
		return nil, err
	}
	return mppLib{}, nil
}

// importedBuffers maps imported buffer handles back to their wrappers, so
// that the input frame reported with an encoded packet resolves to the
// buffer the encoder imported.
var importedBuffers sync.Map // uintptr -> *mppBuffer

type mppLib struct{}

func (mppLib) CheckSupport(kind EngineKind, coding CodingType) error {
	typ := int32(mppCtxDec)
	if kind == EngineEncoder {
		typ = mppCtxEnc
	}
	if ret := mppCheckSupport(typ, int32(coding)); ret != mppOK {
		return fmt.Errorf("%w: %s coding %#x", ErrNotSupported, kind, uint32(coding))
	}
	return nil
}

func (mppLib) NewDecodeEngine(coding CodingType) (DecodeEngine, error) {
	c, err := newMPPContext(mppCtxDec, coding)
	if err != nil {
		return nil, err
	}
	return &mppDecodeEngine{mppContext: c}, nil
}

func (mppLib) NewEncodeEngine(coding CodingType) (EncodeEngine, error) {
	c, err := newMPPContext(mppCtxEnc, coding)
	if err != nil {
		return nil, err
	}
	return &mppEncodeEngine{mppContext: c}, nil
}

func (mppLib) NewBufferGroup(kind GroupKind, flags BufferFlags) (BufferGroup, error) {
	mode := int32(mppBufferInternal)
	if kind == GroupExternal {
		mode = mppBufferExternal
	}
	g := new(uintptr)
	if ret := mppGroupGet(g, uint32(flags), mode, mppName(), mppName()); ret != mppOK {
		return nil, vendorError("buffer_group_get", ret)
	}
	return &mppBufferGroup{h: *g}, nil
}

func (mppLib) ImportBuffer(info BufferInfo) (Buffer, error) {
	bi := &mppBufferInfo{
		typ:   uint32(BufferTypeDRM),
		size:  uintptr(info.Size),
		ptr:   info.Ptr,
		fd:    int32(info.FD),
		index: int32(info.Index),
	}
	h := new(uintptr)
	if ret := mppBufImport(0, bi, h, mppName(), mppName()); ret != mppOK {
		return nil, vendorError("buffer_import", ret)
	}
	b := &mppBuffer{h: *h, owned: true}
	importedBuffers.Store(b.h, b)
	return b, nil
}

// mppBuffer wraps an MppBuffer. Buffers borrowed from a decoded frame are
// not owned: the frame handle holds their reference.
type mppBuffer struct {
	h        uintptr
	owned    bool
	released atomic.Bool
}

func (b *mppBuffer) FD() int        { return int(mppBufGetFD(b.h, mppName())) }
func (b *mppBuffer) Size() int      { return int(mppBufGetSize(b.h, mppName())) }
func (b *mppBuffer) Ptr() uintptr   { return mppBufGetPtr(b.h, mppName()) }
func (b *mppBuffer) Index() int     { return int(mppBufGetIndex(b.h, mppName())) }
func (b *mppBuffer) SetIndex(i int) { mppBufSetIndex(b.h, int32(i), mppName()) }

func (b *mppBuffer) Release() error {
	if !b.owned || b.released.Swap(true) {
		return nil
	}
	importedBuffers.CompareAndDelete(b.h, b)
	if ret := mppBufPut(b.h, mppName()); ret != mppOK {
		return vendorError("buffer_put", ret)
	}
	return nil
}

type mppBufferGroup struct {
	h uintptr
}

func (g *mppBufferGroup) Get(size int) (Buffer, error) {
	h := new(uintptr)
	if ret := mppBufGet(g.h, h, uintptr(size), mppName(), mppName()); ret != mppOK || *h == 0 {
		return nil, fmt.Errorf("%w: buffer_get(%d): %d", ErrResourceExhausted, size, ret)
	}
	return &mppBuffer{h: *h, owned: true}, nil
}

func (g *mppBufferGroup) Commit(info BufferInfo) error {
	bi := &mppBufferInfo{
		typ:   uint32(BufferTypeDRM),
		size:  uintptr(info.Size),
		ptr:   info.Ptr,
		fd:    int32(info.FD),
		index: int32(info.Index),
	}
	if ret := mppBufImport(g.h, bi, nil, mppName(), mppName()); ret != mppOK {
		return vendorError("buffer_commit", ret)
	}
	return nil
}

func (g *mppBufferGroup) SetLimit(size, count int) error {
	if ret := mppGroupLimit(g.h, uintptr(size), int32(count)); ret != mppOK {
		return vendorError("buffer_group_limit_config", ret)
	}
	return nil
}

func (g *mppBufferGroup) Clear() error {
	if ret := mppGroupClear(g.h); ret != mppOK {
		return vendorError("buffer_group_clear", ret)
	}
	return nil
}

func (g *mppBufferGroup) Release() error {
	if g.h == 0 {
		return nil
	}
	h := g.h
	g.h = 0
	if ret := mppGroupPut(h); ret != mppOK {
		return vendorError("buffer_group_put", ret)
	}
	return nil
}

// mppContext is an MppCtx with its MppApi table.
type mppContext struct {
	ctx uintptr
	mpi uintptr
}

func newMPPContext(typ int32, coding CodingType) (*mppContext, error) {
	ctx, mpi := new(uintptr), new(uintptr)
	if ret := mppCreate(ctx, mpi); ret != mppOK {
		return nil, vendorError("mpp_create", ret)
	}
	if ret := mppInit(*ctx, typ, int32(coding)); ret != mppOK {
		mppDestroy(*ctx)
		return nil, vendorError("mpp_init", ret)
	}
	return &mppContext{ctx: *ctx, mpi: *mpi}, nil
}

// call invokes the MppApi entry point at off.
func (c *mppContext) call(off uintptr, args ...uintptr) int32 {
	fn := *(*uintptr)(unsafe.Add(unsafe.Pointer(c.mpi), off)) //nolint:govet
	r1, _, _ := purego.SyscallN(fn, append([]uintptr{c.ctx}, args...)...)
	return int32(r1)
}

func (c *mppContext) control(op string, cmd uint32, param unsafe.Pointer) error {
	ret := c.call(mpiControl, uintptr(cmd), uintptr(param))
	runtime.KeepAlive(param)
	if ret != mppOK {
		return vendorError(op, ret)
	}
	return nil
}

func (c *mppContext) controlU32(op string, cmd uint32, v uint32) error {
	p := new(uint32)
	*p = v
	return c.control(op, cmd, unsafe.Pointer(p))
}

func (c *mppContext) SetInputTimeout(t Timeout) error {
	p := new(int64)
	*p = int64(t)
	return c.control("set_input_timeout", mppSetInputTimeout, unsafe.Pointer(p))
}

func (c *mppContext) SetOutputTimeout(t Timeout) error {
	p := new(int64)
	*p = int64(t)
	return c.control("set_output_timeout", mppSetOutputTimeout, unsafe.Pointer(p))
}

func (c *mppContext) Reset() error {
	if ret := c.call(mpiReset); ret != mppOK {
		return vendorError("reset", ret)
	}
	return nil
}

func (c *mppContext) destroy() error {
	if c.ctx == 0 {
		return nil
	}
	ctx := c.ctx
	c.ctx = 0
	if ret := mppDestroy(ctx); ret != mppOK {
		return vendorError("mpp_destroy", ret)
	}
	return nil
}

type mppDecodeEngine struct {
	*mppContext
}

func (e *mppDecodeEngine) SetDeinterlace(on bool) error {
	return e.controlU32("dec_set_enable_deinterlace", mppDecSetDeinterlace, boolU32(on))
}

func (e *mppDecodeEngine) SetParserFastMode(on bool) error {
	return e.controlU32("dec_set_parser_fast_mode", mppDecSetParserFast, boolU32(on))
}

func (e *mppDecodeEngine) SetOutputFormat(f MPPFormat) error {
	return e.controlU32("dec_set_output_format", mppDecSetOutputFormat, uint32(f))
}

func (e *mppDecodeEngine) SetBufferGroup(g BufferGroup) error {
	mg, ok := g.(*mppBufferGroup)
	if !ok {
		return fmt.Errorf("%w: foreign buffer group %T", ErrInvalidArgument, g)
	}
	ret := e.call(mpiControl, mppDecSetExtBufGroup, mg.h)
	if ret != mppOK {
		return vendorError("dec_set_ext_buf_group", ret)
	}
	return nil
}

func (e *mppDecodeEngine) SetInfoChangeReady() error {
	return e.control("dec_set_info_change_ready", mppDecSetInfoChangeRdy, nil)
}

func (e *mppDecodeEngine) PutPacket(p *EnginePacket) error {
	var pin runtime.Pinner
	defer pin.Unpin()

	var data unsafe.Pointer
	if len(p.Data) > 0 {
		pin.Pin(&p.Data[0])
		data = unsafe.Pointer(&p.Data[0])
	}
	pkt := new(uintptr)
	if ret := mppPacketInit(pkt, data, uintptr(len(p.Data))); ret != mppOK {
		return vendorError("packet_init", ret)
	}
	defer mppPacketDeinit(pkt)

	mppPacketSetPTS(*pkt, p.PTS)
	if p.EOS {
		mppPacketSetEOS(*pkt)
	}
	// The engine copies the payload; a refusal means its queue is full.
	if ret := e.call(mpiDecodePutPacket, *pkt); ret != mppOK {
		return ErrAgain
	}
	return nil
}

func (e *mppDecodeEngine) GetFrame() (*EngineFrame, error) {
	fp := new(uintptr)
	ret := e.call(mpiDecodeGetFrame, uintptr(unsafe.Pointer(fp)))
	runtime.KeepAlive(fp)
	switch {
	case ret == mppErrTimeout:
		return nil, nil
	case ret != mppOK:
		return nil, vendorError("decode_get_frame", ret)
	case *fp == 0:
		return nil, nil
	}

	h := *fp
	sar := mppFrameGetSAR(h)
	light := mppFrameGetLight(h)
	ef := &EngineFrame{
		Width:      int(mppFrameGetWidth(h)),
		Height:     int(mppFrameGetHeight(h)),
		HorStride:  int(mppFrameGetHorStride(h)),
		VerStride:  int(mppFrameGetVerStride(h)),
		OffsetY:    int(mppFrameGetOffsetY(h)),
		Format:     MPPFormat(mppFrameGetFmt(h)),
		Mode:       int(mppFrameGetMode(h)),
		PTS:        mppFrameGetPTS(h),
		EOS:        mppFrameGetEOS(h) != 0,
		Discard:    mppFrameGetDiscard(h) != 0,
		ErrInfo:    mppFrameGetErrinfo(h),
		InfoChange: mppFrameGetInfoChg(h) != 0,
		BufSize:    int(mppFrameGetBufSize(h)),
		Color: ColorProps{
			Range:     ColorRange(mppFrameGetRange(h)),
			Primaries: ColorPrimaries(mppFrameGetPrimaries(h)),
			Transfer:  ColorTransfer(mppFrameGetTRC(h)),
			Space:     ColorSpace(mppFrameGetSpace(h)),
			ChromaLoc: ChromaLocation(mppFrameGetChromaLoc(h)),
		},
		SAR:          Rational{int(int32(sar)), int(int32(sar >> 32))},
		ContentLight: ContentLight{MaxCLL: light & 0xffff, MaxFALL: light >> 16},
	}
	if b := mppFrameGetBuffer(h); b != 0 {
		ef.Buffer = &mppBuffer{h: b}
	}
	ef.Deinit = func() { mppFrameDeinit(fp) }
	return ef, nil
}

func (e *mppDecodeEngine) Destroy() error { return e.destroy() }

type mppEncodeEngine struct {
	*mppContext
	cfg uintptr // MppEncCfg
}

func (e *mppEncodeEngine) Config() (*EncConfig, error) {
	if e.cfg == 0 {
		h := new(uintptr)
		if ret := mppEncCfgInit(h); ret != mppOK {
			return nil, vendorError("enc_cfg_init", ret)
		}
		e.cfg = *h
	}
	ret := e.call(mpiControl, mppEncGetCfg, e.cfg)
	if ret != mppOK {
		return nil, vendorError("enc_get_cfg", ret)
	}
	c := NewEncConfig()
	c.Handle = e.cfg
	return c, nil
}

func (e *mppEncodeEngine) ApplyConfig(c *EncConfig) error {
	h := c.Handle
	if h == 0 {
		h = e.cfg
	}
	if h == 0 {
		return fmt.Errorf("%w: encoder config without a vendor handle", ErrInvalidArgument)
	}
	for _, k := range c.Keys() {
		v, _ := c.Get(k)
		if ret := mppEncCfgSetS32(h, k, v); ret != mppOK {
			return vendorError("enc_cfg_set_s32("+k+")", ret)
		}
	}
	if ret := e.call(mpiControl, mppEncSetCfg, h); ret != mppOK {
		return vendorError("enc_set_cfg", ret)
	}
	return nil
}

func (e *mppEncodeEngine) SetSEIMode(m SEIMode) error {
	return e.controlU32("enc_set_sei_cfg", mppEncSetSEICfg, uint32(m))
}

func (e *mppEncodeEngine) SetHeaderMode(m HeaderMode) error {
	return e.controlU32("enc_set_header_mode", mppEncSetHeaderMode, uint32(m))
}

func (e *mppEncodeEngine) HeaderSync(max int) ([]byte, error) {
	buf := make([]byte, max)
	var pin runtime.Pinner
	pin.Pin(&buf[0])
	defer pin.Unpin()

	pkt := new(uintptr)
	if ret := mppPacketInit(pkt, unsafe.Pointer(&buf[0]), uintptr(max)); ret != mppOK {
		return nil, vendorError("packet_init", ret)
	}
	defer mppPacketDeinit(pkt)
	mppPacketSetLen(*pkt, 0)

	if ret := e.call(mpiControl, mppEncGetHdrSync, *pkt); ret != mppOK {
		return nil, vendorError("enc_get_hdr_sync", ret)
	}
	off := int(mppPacketGetPos(*pkt) - uintptr(unsafe.Pointer(&buf[0])))
	n := int(mppPacketGetLen(*pkt))
	if off < 0 || n < 0 || off+n > max {
		return nil, fmt.Errorf("%w: header of %d bytes at %d exceeds %d", ErrExternal, n, off, max)
	}
	return append([]byte(nil), buf[off:off+n]...), nil
}

func (e *mppEncodeEngine) RequestIDR() error {
	return e.control("enc_set_idr_frame", mppEncSetIDRFrame, nil)
}

func (e *mppEncodeEngine) PutFrame(f *EngineFrame) error {
	fp := new(uintptr)
	if ret := mppFrameInit(fp); ret != mppOK {
		return vendorError("frame_init", ret)
	}
	h := *fp
	if f.EOS {
		mppFrameSetEOS(h, 1)
	} else {
		mb, ok := f.Buffer.(*mppBuffer)
		if !ok {
			mppFrameDeinit(fp)
			return fmt.Errorf("%w: foreign buffer %T", ErrInvalidArgument, f.Buffer)
		}
		mppFrameSetPTS(h, f.PTS)
		mppFrameSetWidth(h, uint32(f.Width))
		mppFrameSetHeight(h, uint32(f.Height))
		mppFrameSetSpace(h, int32(f.Color.Space))
		mppFrameSetPrimaries(h, int32(f.Color.Primaries))
		mppFrameSetTRC(h, int32(f.Color.Transfer))
		mppFrameSetRange(h, int32(f.Color.Range))
		if f.OffsetY > 0 {
			mppFrameSetOffsetY(h, uint32(f.OffsetY))
		}
		mppFrameSetFmt(h, uint32(f.Format))
		if f.FBCHeaderStride > 0 {
			mppFrameSetFBCStride(h, uint32(f.FBCHeaderStride))
		} else {
			mppFrameSetHorStride(h, uint32(f.HorStride))
			mppFrameSetVerStride(h, uint32(f.VerStride))
		}
		mppFrameSetBuffer(h, mb.h)
		mppFrameSetBufSize(h, uintptr(f.BufSize))
	}
	f.Deinit = func() { mppFrameDeinit(fp) }

	switch ret := e.call(mpiEncodePutFrame, h); ret {
	case mppOK:
		return nil
	case mppNOK:
		return ErrAgain
	default:
		return vendorError("encode_put_frame", ret)
	}
}

func (e *mppEncodeEngine) GetPacket() (*EncodedPacket, error) {
	pp := new(uintptr)
	ret := e.call(mpiEncodeGetPacket, uintptr(unsafe.Pointer(pp)))
	runtime.KeepAlive(pp)
	switch {
	case ret == mppNOK || ret == mppErrTimeout:
		return nil, nil
	case ret != mppOK:
		return nil, vendorError("encode_get_packet", ret)
	case *pp == 0:
		return nil, nil
	}

	h := *pp
	ep := &EncodedPacket{
		PTS:     mppPacketGetPTS(h),
		EOS:     mppPacketGetEOS(h) != 0,
		Release: func() { mppPacketDeinit(pp) },
	}
	if n := int(mppPacketGetLen(h)); n > 0 {
		ep.Data = unsafe.Slice((*byte)(unsafe.Pointer(mppPacketGetData(h))), n) //nolint:govet
	}
	if meta := mppPacketGetMeta(h); meta != 0 && mppPacketHasMeta(h) != 0 {
		ep.HasMeta = true
		intra := new(int32)
		mppMetaGetS32(meta, mppKeyOutputIntra, intra)
		ep.Intra = *intra != 0

		frame := new(uintptr)
		if mppMetaGetFrame(meta, mppKeyInputFrame, frame) == mppOK && *frame != 0 {
			if b, ok := importedBuffers.Load(mppFrameGetBuffer(*frame)); ok {
				ep.Input = b.(*mppBuffer)
			}
		}
	}
	return ep, nil
}

func (e *mppEncodeEngine) Destroy() error {
	if e.cfg != 0 {
		mppEncCfgDeinit(e.cfg)
		e.cfg = 0
	}
	return e.destroy()
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
