// Package rkmedia integrates the Rockchip video engine (MPP) and 2D
// accelerator (RGA) with a Go media pipeline. Frames stay in DMA-bufs from
// the decoder through the scaler to the encoder.
//
// Key pieces include:
//   - Decoder: packets in, hardware frames out, with info change handling
//     and optional AFBC output
//   - Encoder: hardware or uploaded software frames in, H.264/HEVC/MJPEG
//     packets out, with bounded in-flight slots
//   - PatternSource: synthetic frames for testing an encoder without input
//   - Accelerator, VPP and Overlay: RGA blits for format conversion,
//     scaling, cropping, rotation and alpha blending
//   - BufferPool and FrameDescriptor: DRM PRIME buffers shared between the
//     sessions and released when the last owner lets go
//   - Packetizer, Depacketizer and TrackWriter: RTP and WebRTC transport of
//     the encoded stream
//
// # Architecture
//
//	PacketSource -> Decoder -> VPP (Accelerator) -> Encoder -> TrackWriter
//
// Every session borrows a shared Device, which owns the vendor handles, the
// fence waiter and the DMA-buf mapper.
//
// # Native Libraries
//
// librockchip_mpp is loaded with purego at run time, so the package builds
// with CGO_ENABLED=0. RGA calls go through a small C shim that keeps the Go
// side independent of librga's struct layout:
//
//	cc -shared -fPIC -O2 -o build/ffi/librkmedia_rga.so ffi/rkmedia_rga.c -lrga
//
// Libraries are searched in RKMEDIA_MPP_LIB_PATH / RKMEDIA_RGA_LIB_PATH,
// then RKMEDIA_SDK_LIB_PATH, the build directories and the system paths.
//
// # Environment
//
//   - RKMEDIA_DEC_OPT: decoder options, e.g. "deint=0 afbc=rga buf_mode=ext"
//   - LOG_LEVEL: default log level when the configuration sets none
//
// # Build Tags
//
// normpp builds without the vendor bindings; OpenMPP and OpenRGA then fail
// with ErrHardwareUnavailable and only injected engines work. Non-Linux
// builds behave the same way.
package rkmedia
