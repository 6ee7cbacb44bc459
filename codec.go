package rkmedia

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH263
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecMPEG1
	VideoCodecMPEG2
	VideoCodecMPEG4
	VideoCodecMJPEG
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH263:
		return "H263"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecMPEG1:
		return "MPEG1"
	case VideoCodecMPEG2:
		return "MPEG2"
	case VideoCodecMPEG4:
		return "MPEG4"
	case VideoCodecMJPEG:
		return "MJPEG"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	case VideoCodecAV1:
		return "video/AV1"
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecMJPEG:
		return "video/JPEG"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	case VideoCodecH265:
		return 104
	case VideoCodecAV1:
		return 35
	case VideoCodecMJPEG:
		return 26
	default:
		return 96
	}
}

// CodingType is the vendor codec identifier (MppCodingType).
type CodingType int32

const (
	CodingUnused CodingType = 0
	CodingMPEG2  CodingType = 2
	CodingH263   CodingType = 3
	CodingMPEG4  CodingType = 4
	CodingAVC    CodingType = 7
	CodingMJPEG  CodingType = 8
	CodingVP8    CodingType = 9
	CodingVP9    CodingType = 10
	CodingHEVC   CodingType = 0x01000004
	CodingAV1    CodingType = 0x01000008
)

// DecoderCodingType maps a codec to the decoder coding type, or CodingUnused.
func (c VideoCodec) DecoderCodingType() CodingType {
	switch c {
	case VideoCodecH263:
		return CodingH263
	case VideoCodecH264:
		return CodingAVC
	case VideoCodecH265:
		return CodingHEVC
	case VideoCodecAV1:
		return CodingAV1
	case VideoCodecVP8:
		return CodingVP8
	case VideoCodecVP9:
		return CodingVP9
	case VideoCodecMPEG1, VideoCodecMPEG2:
		return CodingMPEG2
	case VideoCodecMPEG4:
		return CodingMPEG4
	default:
		return CodingUnused
	}
}

// EncoderCodingType maps a codec to the encoder coding type, or CodingUnused.
func (c VideoCodec) EncoderCodingType() CodingType {
	switch c {
	case VideoCodecH264:
		return CodingAVC
	case VideoCodecH265:
		return CodingHEVC
	case VideoCodecMJPEG:
		return CodingMJPEG
	default:
		return CodingUnused
	}
}

// isH26x reports codecs that use long reference windows and IDR control.
func (c VideoCodec) isH26x() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// RateControlMode defines the encoder rate control mode.
type RateControlMode int

const (
	RateControlAuto  RateControlMode = iota // Derived from QP/bitrate settings
	RateControlVBR                          // Variable bitrate
	RateControlCBR                          // Constant bitrate
	RateControlFixQP                        // Constant QP
	RateControlAVBR                         // Average variable bitrate
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlAuto:
		return "auto"
	case RateControlVBR:
		return "VBR"
	case RateControlCBR:
		return "CBR"
	case RateControlFixQP:
		return "CQP"
	case RateControlAVBR:
		return "AVBR"
	default:
		return "Unknown"
	}
}

// mppValue returns the MppEncRcMode value.
func (r RateControlMode) mppValue() int32 {
	switch r {
	case RateControlVBR:
		return 0
	case RateControlCBR:
		return 1
	case RateControlFixQP:
		return 2
	case RateControlAVBR:
		return 3
	default:
		return 4
	}
}

// H264Profile defines H.264 encoding profiles. Values are profile_idc.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = 66
	H264ProfileMain     H264Profile = 77
	H264ProfileHigh     H264Profile = 100
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// HEVCProfile defines H.265 profiles. Values are general_profile_idc.
type HEVCProfile int

const (
	HEVCProfileMain HEVCProfile = 1
	HEVCProfileRExt HEVCProfile = 4
)

func (p HEVCProfile) String() string {
	switch p {
	case HEVCProfileMain:
		return "Main"
	case HEVCProfileRExt:
		return "RExt"
	default:
		return "Unknown"
	}
}

// HEVCTier selects the H.265 tier.
type HEVCTier int

const (
	HEVCTierMain HEVCTier = iota
	HEVCTierHigh
)

// EntropyCoder selects the H.264 entropy coder.
type EntropyCoder int

const (
	CoderCAVLC EntropyCoder = iota
	CoderCABAC
)

func (c EntropyCoder) String() string {
	if c == CoderCABAC {
		return "CABAC"
	}
	return "CAVLC"
}
