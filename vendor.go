package rkmedia

// Vendor SDK boundary. The MPP and RGA libraries are reached only through
// these interfaces; mpp_purego.go and rga_purego.go implement them on top of
// librockchip_mpp and librga, and the tests use in-memory fakes.

// Timeout is a vendor blocking mode in milliseconds.
type Timeout int64

const (
	TimeoutNonBlock Timeout = 0
	TimeoutBlock    Timeout = -1
	TimeoutPoll     Timeout = 100
)

// EngineKind selects decoder or encoder when probing codec support.
type EngineKind int

const (
	EngineDecoder EngineKind = iota
	EngineEncoder
)

func (k EngineKind) String() string {
	if k == EngineEncoder {
		return "encoder"
	}
	return "decoder"
}

// BufferFlags are allocation flags of a buffer group.
type BufferFlags uint32

const (
	BufferTypeDRM    BufferFlags = 3
	BufferCachable   BufferFlags = 0x00020000
	BufferDMA32      BufferFlags = 0x00080000
	BufferContiguous BufferFlags = 0x00200000
)

// GroupKind distinguishes buffer groups allocating their own memory from
// groups that only track buffers committed to them.
type GroupKind int

const (
	GroupInternal GroupKind = iota
	GroupExternal
)

// Buffer is a vendor buffer handle.
type Buffer interface {
	FD() int
	Size() int
	Ptr() uintptr
	// Index is non-negative while an engine uses the buffer.
	Index() int
	SetIndex(i int)
	// Release puts the buffer back to its group or frees it.
	Release() error
}

// BufferInfo describes a buffer to commit or import.
type BufferInfo struct {
	Index int
	FD    int
	Ptr   uintptr
	Size  int
}

// BufferGroup is a vendor buffer group.
type BufferGroup interface {
	Get(size int) (Buffer, error)
	Commit(info BufferInfo) error
	SetLimit(size, count int) error
	Clear() error
	Release() error
}

// MPP is the vendor video engine library.
type MPP interface {
	CheckSupport(kind EngineKind, coding CodingType) error
	NewDecodeEngine(coding CodingType) (DecodeEngine, error)
	NewEncodeEngine(coding CodingType) (EncodeEngine, error)
	NewBufferGroup(kind GroupKind, flags BufferFlags) (BufferGroup, error)
	// ImportBuffer wraps an existing DMA-buf.
	ImportBuffer(info BufferInfo) (Buffer, error)
}

// EnginePacket is compressed data handed to a decode engine.
type EnginePacket struct {
	Data []byte
	PTS  int64 // microseconds
	EOS  bool
}

// Frame field-order mode bits.
const (
	FrameModeFieldOrderMask = 0x0c
	FrameModeBottomFirst    = 0x04
	FrameModeTopFirst       = 0x08
	FrameModeDeinterlaced   = 0x0c
)

// EngineMastering is mastering display metadata in vendor units.
type EngineMastering struct {
	Primaries    [3][2]uint16
	WhitePoint   [2]uint16
	MaxLuminance uint32
	MinLuminance uint32
}

// EngineFrame is a frame produced by a decode engine or submitted to an
// encode engine.
type EngineFrame struct {
	Width, Height        int
	HorStride, VerStride int
	OffsetY              int
	FBCHeaderStride      int
	Format               MPPFormat
	Mode                 int
	PTS                  int64 // microseconds

	EOS        bool
	Discard    bool
	ErrInfo    uint32
	InfoChange bool

	Buffer  Buffer
	BufSize int

	Color        ColorProps
	SAR          Rational
	Mastering    EngineMastering
	ContentLight ContentLight

	// Deinit releases the vendor frame handle, if any.
	Deinit func()
}

// Release deinitializes the vendor frame handle once.
func (f *EngineFrame) Release() {
	if f == nil || f.Deinit == nil {
		return
	}
	fn := f.Deinit
	f.Deinit = nil
	fn()
}

// DecodeEngine is a vendor decoder instance.
type DecodeEngine interface {
	SetInputTimeout(t Timeout) error
	SetOutputTimeout(t Timeout) error
	SetDeinterlace(on bool) error
	SetParserFastMode(on bool) error
	SetOutputFormat(f MPPFormat) error
	SetBufferGroup(g BufferGroup) error
	SetInfoChangeReady() error
	// PutPacket returns ErrAgain while the input queue is full.
	PutPacket(p *EnginePacket) error
	// GetFrame returns nil, nil when nothing was ready within the timeout.
	GetFrame() (*EngineFrame, error)
	Reset() error
	Destroy() error
}

// EncodedPacket is a packet produced by an encode engine.
type EncodedPacket struct {
	Data    []byte
	PTS     int64 // microseconds
	EOS     bool
	Intra   bool
	HasMeta bool
	Input   Buffer // buffer of the input frame this packet was encoded from
	Release func()
}

// SEIMode controls SEI insertion.
type SEIMode int

const (
	SEIDisable SEIMode = iota
	SEIOneSeq
	SEIOneFrame
)

// HeaderMode controls when stream headers are emitted.
type HeaderMode int

const (
	HeaderDefault HeaderMode = iota
	HeaderEachIDR
)

// EncodeEngine is a vendor encoder instance.
type EncodeEngine interface {
	SetInputTimeout(t Timeout) error
	SetOutputTimeout(t Timeout) error
	Config() (*EncConfig, error)
	ApplyConfig(c *EncConfig) error
	SetSEIMode(m SEIMode) error
	SetHeaderMode(m HeaderMode) error
	// HeaderSync returns the stream headers (SPS/PPS/VPS).
	HeaderSync(max int) ([]byte, error)
	RequestIDR() error
	// PutFrame returns ErrAgain while the engine is busy.
	PutFrame(f *EngineFrame) error
	// GetPacket returns nil, nil when nothing was ready within the timeout.
	GetPacket() (*EncodedPacket, error)
	Reset() error
	Destroy() error
}

// RGA surface format code.
type RGAFormat int32

// RGARect is a region of a surface.
type RGARect struct{ X, Y, W, H int }

// RGAImage is one surface of a blit.
type RGAImage struct {
	FD        int
	Width     int // act width
	Height    int
	WStride   int
	HStride   int
	Format    RGAFormat
	Rect      RGARect
	RdMode    int
	Rotation  int
	Blend     uint32
	Uncompact bool // 10-bit MSB aligned
	Color     int
	Core      int
	Priority  int
}

// BlitRequest is one accelerator job.
type BlitRequest struct {
	Src, Dst *RGAImage
	Pat      *RGAImage
	Async    bool
	Core     int
	Priority int
}

// RGA is the vendor 2D accelerator library.
type RGA interface {
	// Version returns the hardware version string, e.g. "RGA_3 RGA_2_Enhance".
	Version() string
	// Blit submits a job. Async jobs return a fence fd that signals
	// completion; sync jobs return -1.
	Blit(req *BlitRequest) (fence int, err error)
}

// FenceWaiter waits for an accelerator fence and closes it.
type FenceWaiter interface {
	Wait(fence int, timeout Timeout) error
}

// MapFlags select the access of a CPU mapping.
type MapFlags uint32

const (
	MapRead  MapFlags = 1 << iota
	MapWrite
	MapOverwrite
)

// Mapping is a CPU view of a hardware frame.
type Mapping struct {
	Planes [][]byte
	Stride []int
	unmap  func() error
}

// NewMapping returns a mapping whose Unmap calls unmap once.
func NewMapping(planes [][]byte, stride []int, unmap func() error) *Mapping {
	return &Mapping{Planes: planes, Stride: stride, unmap: unmap}
}

// Unmap ends CPU access.
func (m *Mapping) Unmap() error {
	if m == nil || m.unmap == nil {
		return nil
	}
	fn := m.unmap
	m.unmap = nil
	return fn()
}

// Mapper maps hardware frames for CPU access.
type Mapper interface {
	Map(d *FrameDescriptor, flags MapFlags) (*Mapping, error)
}

// PacketSource feeds a decoder. ReadPacket returns ErrAgain when no packet is
// available yet and io.EOF at end of stream.
type PacketSource interface {
	ReadPacket() (*Packet, error)
}

// PacketSourceFunc adapts a function to PacketSource.
type PacketSourceFunc func() (*Packet, error)

// ReadPacket calls f.
func (f PacketSourceFunc) ReadPacket() (*Packet, error) { return f() }

// FormatNegotiator picks the output format among candidates, preferred first.
type FormatNegotiator func(candidates []PixelFormat) (PixelFormat, error)
