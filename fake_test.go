package rkmedia

import (
	"errors"
	"fmt"
	"testing"
)

// In-memory stand-ins for the vendor libraries. Buffer memory lives in
// fakeMPP.mem keyed by file descriptor so CPU mappings see what the
// engines wrote.

type fakeMPP struct {
	nextFD      int
	mem         map[int][]byte
	unsupported map[CodingType]bool

	dec      *fakeDecodeEngine
	enc      *fakeEncodeEngine
	groups   []*fakeGroup
	imported []*fakeBuffer
}

func newFakeMPP() *fakeMPP {
	return &fakeMPP{
		nextFD:      100,
		mem:         make(map[int][]byte),
		unsupported: make(map[CodingType]bool),
	}
}

func (m *fakeMPP) alloc(size int) int {
	fd := m.nextFD
	m.nextFD++
	m.mem[fd] = make([]byte, size)
	return fd
}

func (m *fakeMPP) CheckSupport(_ EngineKind, coding CodingType) error {
	if m.unsupported[coding] {
		return fmt.Errorf("coding %#x unsupported", int32(coding))
	}
	return nil
}

func (m *fakeMPP) NewDecodeEngine(CodingType) (DecodeEngine, error) {
	if m.dec == nil {
		m.dec = newFakeDecodeEngine()
	}
	m.dec.mpp = m
	return m.dec, nil
}

func (m *fakeMPP) NewEncodeEngine(CodingType) (EncodeEngine, error) {
	if m.enc == nil {
		m.enc = newFakeEncodeEngine()
	}
	return m.enc, nil
}

func (m *fakeMPP) NewBufferGroup(kind GroupKind, flags BufferFlags) (BufferGroup, error) {
	g := &fakeGroup{mpp: m, kind: kind, flags: flags, held: make(map[int]bool)}
	m.groups = append(m.groups, g)
	return g, nil
}

func (m *fakeMPP) ImportBuffer(info BufferInfo) (Buffer, error) {
	b := &fakeBuffer{fd: info.FD, size: info.Size, index: info.Index}
	m.imported = append(m.imported, b)
	return b, nil
}

func (m *fakeMPP) groupsOf(kind GroupKind) []*fakeGroup {
	var out []*fakeGroup
	for _, g := range m.groups {
		if g.kind == kind {
			out = append(out, g)
		}
	}
	return out
}

type fakeBuffer struct {
	fd, size, index int
	releases        int
	onRelease       func()
}

func (b *fakeBuffer) FD() int        { return b.fd }
func (b *fakeBuffer) Size() int      { return b.size }
func (b *fakeBuffer) Ptr() uintptr   { return 0 }
func (b *fakeBuffer) Index() int     { return b.index }
func (b *fakeBuffer) SetIndex(i int) { b.index = i }

func (b *fakeBuffer) Release() error {
	b.releases++
	if b.releases == 1 && b.onRelease != nil {
		b.onRelease()
	}
	return nil
}

type fakeGroup struct {
	mpp   *fakeMPP
	kind  GroupKind
	flags BufferFlags

	limitSize, limitCount int
	live                  int
	commits               []BufferInfo
	held                  map[int]bool
	clears                int
	released              bool
}

func (g *fakeGroup) Get(size int) (Buffer, error) {
	if g.kind == GroupExternal {
		for _, c := range g.commits {
			if g.held[c.Index] {
				continue
			}
			idx := c.Index
			g.held[idx] = true
			return &fakeBuffer{fd: c.FD, size: c.Size, index: idx, onRelease: func() {
				delete(g.held, idx)
			}}, nil
		}
		return nil, errors.New("no free committed buffer")
	}
	if g.limitCount > 0 && g.live >= g.limitCount {
		return nil, errors.New("buffer group limit reached")
	}
	g.live++
	return &fakeBuffer{fd: g.mpp.alloc(size), size: size, index: -1, onRelease: func() {
		g.live--
	}}, nil
}

func (g *fakeGroup) Commit(info BufferInfo) error {
	g.commits = append(g.commits, info)
	return nil
}

func (g *fakeGroup) SetLimit(size, count int) error {
	g.limitSize, g.limitCount = size, count
	return nil
}

func (g *fakeGroup) Clear() error {
	g.clears++
	g.commits = nil
	g.held = make(map[int]bool)
	return nil
}

func (g *fakeGroup) Release() error {
	g.released = true
	return nil
}

type decEvent struct {
	infoChange bool
	eos        bool
	pts        int64
}

// fakeDecodeEngine emits one info change before the first frame, then one
// frame per packet. Frames are withheld until the info change is
// acknowledged, as the vendor decoder does.
type fakeDecodeEngine struct {
	mpp *fakeMPP

	width, height        int
	horStride, verStride int
	format               MPPFormat
	mode                 int
	capacity             int // queued frames before PutPacket refuses (0 = unlimited)
	errInfo              uint32
	infoChange           bool

	group    BufferGroup
	events   []decEvent
	infoSent bool
	ready    bool

	frames       int
	deinits      int
	packets      []EnginePacket
	fastParse    []bool
	deinterlace  bool
	outputFormat MPPFormat
	resets       int
	destroyed    bool
}

func newFakeDecodeEngine() *fakeDecodeEngine {
	return &fakeDecodeEngine{
		width:      1920,
		height:     1080,
		horStride:  1920,
		verStride:  1088,
		format:     MPPFmtYUV420SP,
		infoChange: true,
	}
}

func (e *fakeDecodeEngine) SetInputTimeout(Timeout) error  { return nil }
func (e *fakeDecodeEngine) SetOutputTimeout(Timeout) error { return nil }

func (e *fakeDecodeEngine) SetDeinterlace(on bool) error {
	e.deinterlace = on
	return nil
}

func (e *fakeDecodeEngine) SetParserFastMode(on bool) error {
	e.fastParse = append(e.fastParse, on)
	return nil
}

func (e *fakeDecodeEngine) SetOutputFormat(f MPPFormat) error {
	e.outputFormat = f
	return nil
}

func (e *fakeDecodeEngine) SetBufferGroup(g BufferGroup) error {
	e.group = g
	return nil
}

func (e *fakeDecodeEngine) SetInfoChangeReady() error {
	e.ready = true
	return nil
}

func (e *fakeDecodeEngine) queuedFrames() int {
	n := 0
	for _, ev := range e.events {
		if !ev.infoChange && !ev.eos {
			n++
		}
	}
	return n
}

func (e *fakeDecodeEngine) PutPacket(p *EnginePacket) error {
	if p.EOS {
		e.events = append(e.events, decEvent{eos: true})
		return nil
	}
	if e.capacity > 0 && e.queuedFrames() >= e.capacity {
		return ErrAgain
	}
	e.packets = append(e.packets, *p)
	if e.infoChange && !e.infoSent {
		e.infoSent = true
		e.events = append(e.events, decEvent{infoChange: true})
	}
	e.events = append(e.events, decEvent{pts: p.PTS})
	return nil
}

func (e *fakeDecodeEngine) GetFrame() (*EngineFrame, error) {
	if len(e.events) == 0 {
		return nil, nil
	}
	ev := e.events[0]
	switch {
	case ev.infoChange:
		e.events = e.events[1:]
		return &EngineFrame{
			InfoChange: true,
			Width:      e.width,
			Height:     e.height,
			HorStride:  e.horStride,
			VerStride:  e.verStride,
			Format:     e.format,
			Mode:       e.mode,
		}, nil
	case e.infoChange && !e.ready:
		return nil, nil
	case ev.eos:
		e.events = e.events[1:]
		return &EngineFrame{EOS: true}, nil
	}
	e.events = e.events[1:]
	if e.errInfo != 0 {
		return &EngineFrame{ErrInfo: e.errInfo, PTS: ev.pts, Deinit: func() { e.deinits++ }}, nil
	}

	size := e.horStride * e.verStride * 3 / 2
	buf, err := e.group.Get(size)
	if err != nil {
		return nil, err
	}
	buf.SetIndex(0)
	e.frames++
	data := e.mpp.mem[buf.FD()]
	data[0] = byte(e.frames)
	data[e.horStride*e.verStride] = 0x80

	return &EngineFrame{
		Width:     e.width,
		Height:    e.height,
		HorStride: e.horStride,
		VerStride: e.verStride,
		Format:    e.format,
		Mode:      e.mode,
		PTS:       ev.pts,
		Buffer:    buf,
		BufSize:   size,
		Deinit: func() {
			e.deinits++
			_ = buf.Release()
		},
	}, nil
}

func (e *fakeDecodeEngine) Reset() error {
	e.resets++
	e.events = nil
	return nil
}

func (e *fakeDecodeEngine) Destroy() error {
	e.destroyed = true
	return nil
}

type fakeEncodeEngine struct {
	header []byte
	busy   int  // PutFrame calls refused before one is accepted
	stall  bool // GetPacket returns nothing

	cfg        *EncConfig
	applies    int
	queue      []*EncodedPacket
	frames     []*EngineFrame
	idr        int
	sei        SEIMode
	headerMode HeaderMode
	resets     int
	destroyed  bool
}

func newFakeEncodeEngine() *fakeEncodeEngine {
	return &fakeEncodeEngine{
		header: []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce},
		sei:    -1,
	}
}

func (e *fakeEncodeEngine) SetInputTimeout(Timeout) error  { return nil }
func (e *fakeEncodeEngine) SetOutputTimeout(Timeout) error { return nil }

func (e *fakeEncodeEngine) Config() (*EncConfig, error) {
	if e.cfg == nil {
		e.cfg = NewEncConfig()
	}
	return e.cfg, nil
}

func (e *fakeEncodeEngine) ApplyConfig(c *EncConfig) error {
	e.applies++
	e.cfg = c
	return nil
}

func (e *fakeEncodeEngine) SetSEIMode(m SEIMode) error {
	e.sei = m
	return nil
}

func (e *fakeEncodeEngine) SetHeaderMode(m HeaderMode) error {
	e.headerMode = m
	return nil
}

func (e *fakeEncodeEngine) HeaderSync(max int) ([]byte, error) {
	if len(e.header) > max {
		return nil, errors.New("header buffer too small")
	}
	return e.header, nil
}

func (e *fakeEncodeEngine) RequestIDR() error {
	e.idr++
	return nil
}

func (e *fakeEncodeEngine) PutFrame(f *EngineFrame) error {
	if e.busy > 0 {
		e.busy--
		return ErrAgain
	}
	e.frames = append(e.frames, f)
	if f.EOS {
		e.queue = append(e.queue, &EncodedPacket{EOS: true})
		return nil
	}
	n := len(e.frames)
	e.queue = append(e.queue, &EncodedPacket{
		Data:    []byte{0, 0, 0, 1, 0x65, byte(n)},
		PTS:     f.PTS,
		Intra:   n == 1,
		HasMeta: true,
		Input:   f.Buffer,
	})
	return nil
}

func (e *fakeEncodeEngine) GetPacket() (*EncodedPacket, error) {
	if e.stall || len(e.queue) == 0 {
		return nil, nil
	}
	p := e.queue[0]
	e.queue = e.queue[1:]
	return p, nil
}

func (e *fakeEncodeEngine) Reset() error {
	e.resets++
	e.queue = nil
	return nil
}

func (e *fakeEncodeEngine) Destroy() error {
	e.destroyed = true
	return nil
}

// fakeRGA records every job. Async jobs get increasing fences from 10.
type fakeRGA struct {
	version string
	blits   []BlitRequest
	fences  int
	err     error
}

func copyImage(img *RGAImage) *RGAImage {
	if img == nil {
		return nil
	}
	c := *img
	return &c
}

func (r *fakeRGA) Version() string { return r.version }

func (r *fakeRGA) Blit(req *BlitRequest) (int, error) {
	if r.err != nil {
		return -1, r.err
	}
	c := *req
	c.Src, c.Dst, c.Pat = copyImage(req.Src), copyImage(req.Dst), copyImage(req.Pat)
	r.blits = append(r.blits, c)
	if !req.Async {
		return -1, nil
	}
	fence := 10 + r.fences
	r.fences++
	return fence, nil
}

type fakeFences struct {
	waited []int
	err    error
}

func (f *fakeFences) Wait(fence int, _ Timeout) error {
	f.waited = append(f.waited, fence)
	return f.err
}

type fakeMapper struct {
	mpp          *fakeMPP
	maps, unmaps int
}

func (m *fakeMapper) Map(d *FrameDescriptor, _ MapFlags) (*Mapping, error) {
	views := make([][]byte, len(d.Objects))
	for i, o := range d.Objects {
		v, ok := m.mpp.mem[o.FD]
		if !ok {
			return nil, fmt.Errorf("fd %d not allocated", o.FD)
		}
		views[i] = v
	}
	planes, strides := descriptorPlanes(d, views)
	m.maps++
	return NewMapping(planes, strides, func() error {
		m.unmaps++
		return nil
	}), nil
}

type testRig struct {
	dev    *Device
	mpp    *fakeMPP
	rga    *fakeRGA
	fences *fakeFences
	mapper *fakeMapper
}

// newTestRig opens a device backed by fakes. rgaVersion is the version
// string the accelerator reports.
func newTestRig(t *testing.T, rgaVersion string) *testRig {
	t.Helper()
	mpp := newFakeMPP()
	r := &testRig{
		mpp:    mpp,
		rga:    &fakeRGA{version: rgaVersion},
		fences: &fakeFences{},
		mapper: &fakeMapper{mpp: mpp},
	}
	dev, err := NewDevice(DeviceConfig{
		DMA32:     true,
		Cacheable: true,
		MPP:       r.mpp,
		RGA:       r.rga,
		Fences:    r.fences,
		Mapper:    r.mapper,
	})
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	r.dev = dev
	return r
}
