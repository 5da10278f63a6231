package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// VariantKind distinguishes video quality rungs from per-track audio
// renditions.
type VariantKind string

const (
	VariantVideo VariantKind = "video"
	VariantAudio VariantKind = "audio"
)

// Variant is one rendition of a video: either a video quality rung (label
// like "1080p") or a specific audio track at a specific codec (label like
// "audio_0_aac"). The audio label shape is the sole signal used to pick the
// audio session class.
type Variant struct {
	Label           string      `json:"label"`
	Kind            VariantKind `json:"kind"`
	Width           int         `json:"width,omitempty"`
	Height          int         `json:"height,omitempty"`
	BitrateKbps     int         `json:"bitrateKbps,omitempty"`
	IsSDR           bool        `json:"isSDR,omitempty"`
	CodecStrategy   string      `json:"codecStrategy,omitempty"`
	AudioTrackIndex int         `json:"audioTrackIndex,omitempty"` // -1 for video variants
	Channels        int         `json:"channels,omitempty"`
	SampleRate      int         `json:"sampleRate,omitempty"`
}

// IsAudio reports whether the variant is an audio rendition.
func (v Variant) IsAudio() bool { return v.Kind == VariantAudio }

const audioLabelPrefix = "audio_"

// AudioLabel builds the canonical audio variant label for a track/codec
// pair.
func AudioLabel(trackIndex int, codec string) string {
	return fmt.Sprintf("%s%d_%s", audioLabelPrefix, trackIndex, strings.ToLower(codec))
}

// IsAudioLabel reports whether the label has the audio_<track>_<codec>
// shape.
func IsAudioLabel(label string) bool {
	_, _, ok := ParseAudioLabel(label)
	return ok
}

// ParseAudioLabel splits an audio_<track>_<codec> label into its parts.
func ParseAudioLabel(label string) (trackIndex int, codec string, ok bool) {
	if !strings.HasPrefix(label, audioLabelPrefix) {
		return 0, "", false
	}
	rest := strings.TrimPrefix(label, audioLabelPrefix)
	idxStr, codec, found := strings.Cut(rest, "_")
	if !found || codec == "" {
		return 0, "", false
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return 0, "", false
	}
	return idx, codec, true
}
