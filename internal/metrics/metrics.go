// Package metrics exposes prometheus collectors for the hardware sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecoderFrames tracks decoded frames handed to the pipeline
	DecoderFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_decoder_frames_total",
		Help: "Total frames exported by hardware decoders",
	}, []string{"codec", "path"})

	// DecoderDropped tracks frames dropped by the decoder (discard or error info)
	DecoderDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_decoder_dropped_frames_total",
		Help: "Total frames dropped by hardware decoders",
	}, []string{"codec", "reason"})

	// DecoderInfoChanges tracks mid-stream format changes
	DecoderInfoChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_decoder_info_changes_total",
		Help: "Total stream info change events handled by hardware decoders",
	}, []string{"codec"})

	// EncoderPackets tracks packets produced by hardware encoders
	EncoderPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_encoder_packets_total",
		Help: "Total packets produced by hardware encoders",
	}, []string{"codec"})

	// EncoderBytes tracks bytes produced by hardware encoders
	EncoderBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_encoder_bytes_total",
		Help: "Total compressed bytes produced by hardware encoders",
	}, []string{"codec"})

	// InFlightSlots tracks frames still referenced by a hardware engine
	InFlightSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rkmedia_inflight_slots",
		Help: "Frames currently referenced by a hardware engine",
	}, []string{"session"})

	// RGABlits tracks blits issued to the 2D accelerator
	RGABlits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_rga_blits_total",
		Help: "Total blits issued to the RGA accelerator",
	}, []string{"engine", "mode"})

	// FenceWait tracks time spent waiting on accelerator fences
	FenceWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rkmedia_rga_fence_wait_seconds",
		Help:    "Time spent waiting on RGA completion fences",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2.0, 14), // 50us to ~400ms
	})

	// PoolExhausted tracks allocations rejected because a pool was full
	PoolExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_pool_exhausted_total",
		Help: "Total buffer allocations rejected by a full pool",
	}, []string{"mode"})

	// SessionErrors tracks errors returned by hardware sessions
	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_session_errors_total",
		Help: "Total errors returned by hardware sessions",
	}, []string{"session", "error_type"})

	// RTPPackets tracks RTP packets written to WebRTC tracks
	RTPPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rkmedia_rtp_packets_total",
		Help: "Total RTP packets written to WebRTC tracks",
	}, []string{"codec"})
)
