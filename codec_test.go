package rkmedia

import (
	"testing"
)

func TestVideoCodec_String(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecH263, "H263"},
		{VideoCodecVP8, "VP8"},
		{VideoCodecVP9, "VP9"},
		{VideoCodecH264, "H264"},
		{VideoCodecH265, "H265"},
		{VideoCodecAV1, "AV1"},
		{VideoCodecMPEG2, "MPEG2"},
		{VideoCodecMJPEG, "MJPEG"},
		{VideoCodecUnknown, "Unknown"},
		{VideoCodec(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("VideoCodec.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodec_MimeType(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, "video/VP8"},
		{VideoCodecVP9, "video/VP9"},
		{VideoCodecH264, "video/H264"},
		{VideoCodecH265, "video/H265"},
		{VideoCodecAV1, "video/AV1"},
		{VideoCodecMJPEG, "video/JPEG"},
		{VideoCodecMPEG4, ""},
		{VideoCodecUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.MimeType(); got != tt.want {
				t.Errorf("VideoCodec.MimeType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodec_ClockRate(t *testing.T) {
	// All video codecs should use 90kHz clock
	codecs := []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecH264, VideoCodecH265, VideoCodecAV1}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			if got := codec.ClockRate(); got != 90000 {
				t.Errorf("VideoCodec.ClockRate() = %v, want 90000", got)
			}
		})
	}
}

func TestVideoCodec_DefaultPayloadType(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  uint8
	}{
		{VideoCodecVP8, 96},
		{VideoCodecVP9, 98},
		{VideoCodecH264, 102},
		{VideoCodecH265, 104},
		{VideoCodecAV1, 35},
		{VideoCodecMJPEG, 26},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.DefaultPayloadType(); got != tt.want {
				t.Errorf("VideoCodec.DefaultPayloadType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodec_CodingType(t *testing.T) {
	tests := []struct {
		codec   VideoCodec
		decoder CodingType
		encoder CodingType
	}{
		{VideoCodecH263, CodingH263, CodingUnused},
		{VideoCodecH264, CodingAVC, CodingAVC},
		{VideoCodecH265, CodingHEVC, CodingHEVC},
		{VideoCodecAV1, CodingAV1, CodingUnused},
		{VideoCodecVP8, CodingVP8, CodingUnused},
		{VideoCodecVP9, CodingVP9, CodingUnused},
		{VideoCodecMPEG1, CodingMPEG2, CodingUnused},
		{VideoCodecMPEG2, CodingMPEG2, CodingUnused},
		{VideoCodecMPEG4, CodingMPEG4, CodingUnused},
		{VideoCodecMJPEG, CodingUnused, CodingMJPEG},
		{VideoCodecUnknown, CodingUnused, CodingUnused},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.DecoderCodingType(); got != tt.decoder {
				t.Errorf("VideoCodec.DecoderCodingType() = %#x, want %#x", got, tt.decoder)
			}
			if got := tt.codec.EncoderCodingType(); got != tt.encoder {
				t.Errorf("VideoCodec.EncoderCodingType() = %#x, want %#x", got, tt.encoder)
			}
		})
	}
}

func TestRateControlMode_String(t *testing.T) {
	tests := []struct {
		mode RateControlMode
		want string
	}{
		{RateControlAuto, "auto"},
		{RateControlVBR, "VBR"},
		{RateControlCBR, "CBR"},
		{RateControlFixQP, "CQP"},
		{RateControlAVBR, "AVBR"},
		{RateControlMode(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.want {
				t.Errorf("RateControlMode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateControlMode_mppValue(t *testing.T) {
	tests := []struct {
		mode RateControlMode
		want int32
	}{
		{RateControlVBR, 0},
		{RateControlCBR, 1},
		{RateControlFixQP, 2},
		{RateControlAVBR, 3},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			if got := tt.mode.mppValue(); got != tt.want {
				t.Errorf("RateControlMode.mppValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestH264Profile_String(t *testing.T) {
	tests := []struct {
		profile H264Profile
		want    string
	}{
		{H264ProfileBaseline, "Baseline"},
		{H264ProfileMain, "Main"},
		{H264ProfileHigh, "High"},
		{H264Profile(244), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.profile.String(); got != tt.want {
				t.Errorf("H264Profile.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHEVCProfile_String(t *testing.T) {
	tests := []struct {
		profile HEVCProfile
		want    string
	}{
		{HEVCProfileMain, "Main"},
		{HEVCProfileRExt, "RExt"},
		{HEVCProfile(2), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.profile.String(); got != tt.want {
				t.Errorf("HEVCProfile.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntropyCoder_String(t *testing.T) {
	if got := CoderCABAC.String(); got != "CABAC" {
		t.Errorf("CoderCABAC.String() = %v, want CABAC", got)
	}
	if got := CoderCAVLC.String(); got != "CAVLC" {
		t.Errorf("CoderCAVLC.String() = %v, want CAVLC", got)
	}
}
