package domain

import "strings"

// VideoID identifies one source media file in the library.
type VideoID string

// MediaStream is one elementary stream reported by the prober.
type MediaStream struct {
	Index          int     `json:"index"`
	Type           string  `json:"type"` // video | audio | subtitle
	Codec          string  `json:"codec"`
	Profile        string  `json:"profile,omitempty"`
	Level          int     `json:"level,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
	PixFmt         string  `json:"pixFmt,omitempty"`
	ColorTransfer  string  `json:"colorTransfer,omitempty"`
	ColorPrimaries string  `json:"colorPrimaries,omitempty"`
	Channels       int     `json:"channels,omitempty"`
	SampleRate     int     `json:"sampleRate,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Language       string  `json:"language,omitempty"`
	Title          string  `json:"title,omitempty"`
	Default        bool    `json:"default"`
}

// Is10Bit reports whether the stream uses a 10-bit pixel format.
func (s MediaStream) Is10Bit() bool {
	return strings.Contains(s.PixFmt, "10le") || strings.Contains(s.PixFmt, "10be")
}

// MediaInfo is the probed metadata for one source file.
type MediaInfo struct {
	Streams   []MediaStream `json:"streams"`
	Duration  float64       `json:"duration"`
	StartTime float64       `json:"startTime,omitempty"`
}

// VideoStream returns the first video stream, if any.
func (m MediaInfo) VideoStream() (MediaStream, bool) {
	for _, s := range m.Streams {
		if s.Type == "video" {
			return s, true
		}
	}
	return MediaStream{}, false
}

// AudioStreams returns all audio streams in probe order.
func (m MediaInfo) AudioStreams() []MediaStream {
	var out []MediaStream
	for _, s := range m.Streams {
		if s.Type == "audio" {
			out = append(out, s)
		}
	}
	return out
}

// AudioStream returns the audio stream with the given track index (position
// among audio streams, not the container stream index).
func (m MediaInfo) AudioStream(track int) (MediaStream, bool) {
	audio := m.AudioStreams()
	if track < 0 || track >= len(audio) {
		return MediaStream{}, false
	}
	return audio[track], true
}

// VideoRange classifies the source color metadata as SDR, HLG or PQ for the
// playlist #EXT-X-VIDEO-RANGE tag.
func (m MediaInfo) VideoRange() string {
	v, ok := m.VideoStream()
	if !ok {
		return "SDR"
	}
	switch v.ColorTransfer {
	case "smpte2084":
		return "PQ"
	case "arib-std-b67":
		return "HLG"
	default:
		return "SDR"
	}
}

// IsHDR reports whether the source video carries HDR transfer metadata.
func (m MediaInfo) IsHDR() bool {
	return m.VideoRange() != "SDR"
}
