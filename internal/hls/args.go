package hls

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"jitstream/internal/domain"
)

// Hardware acceleration backends.
const (
	HwAccelCUDA = "cuda"
	HwAccelQSV  = "qsv"
)

// videoArgConfig holds every parameter for building a video session's
// ffmpeg argument vector. Value type; pass by value to buildVideoArgs.
type videoArgConfig struct {
	Input          string
	StartSeconds   float64
	StartSegment   int
	SegmentSeconds float64
	GopFrames      int
	OutputDir      string
	Extension      string // ".ts" or ".m4s"
	Codec          string // "h264" or "hevc"
	Width          int
	Height         int
	BitrateKbps    int
	Preset         string
	CRF            int
	TonemapToSDR   bool // source is HDR, variant wants SDR
	TenBitSource   bool
	UseHardware    bool
	HwAccelType    string // cuda | qsv
}

// audioArgConfig parameterizes an audio session's argument vector.
type audioArgConfig struct {
	Input          string
	StartSeconds   float64
	StartSegment   int
	SegmentSeconds float64
	OutputDir      string
	TrackIndex     int
	Codec          string // resolved encoder, or "copy" for passthrough
	BitrateKbps    int
	Channels       int
	SampleRate     int
}

// buildVideoArgs constructs the transcoder argument list for a video
// session. Pure function, no side effects.
func buildVideoArgs(cfg videoArgConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-stats",
	}

	// Decode acceleration hints go before the input.
	if cfg.UseHardware {
		switch cfg.HwAccelType {
		case HwAccelCUDA:
			args = append(args, "-hwaccel", "cuda")
		case HwAccelQSV:
			args = append(args, "-hwaccel", "qsv")
		}
	}

	args = append(args,
		"-copyts",
		"-avoid_negative_ts", "disabled",
		"-start_at_zero",
	)

	if cfg.StartSeconds > 0 {
		args = append(args, "-ss", formatSeconds(cfg.StartSeconds))
	}

	args = append(args, "-i", cfg.Input, "-sn", "-an")

	args = append(args, "-filter_complex", buildVideoFilterGraph(cfg), "-map", "[outv]")

	args = append(args, videoEncoderArgs(cfg)...)

	segStr := formatSeconds(cfg.SegmentSeconds)
	args = append(args,
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", segStr),
	)
	if cfg.GopFrames > 0 {
		args = append(args,
			"-g", strconv.Itoa(cfg.GopFrames),
			"-keyint_min", strconv.Itoa(cfg.GopFrames),
			"-sc_threshold", "0",
		)
	}

	args = append(args, hlsMuxerArgs(cfg.OutputDir, cfg.Extension, cfg.Codec, segStr, cfg.StartSegment)...)
	return args
}

// buildVideoFilterGraph chains scale, pad and (when downconverting HDR
// sources for SDR variants) a tonemap, ending at the [outv] label.
func buildVideoFilterGraph(cfg videoArgConfig) string {
	var filters []string

	if cfg.Width > 0 && cfg.Height > 0 {
		filters = append(filters,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", cfg.Width, cfg.Height),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", cfg.Width, cfg.Height),
		)
	}

	if cfg.TonemapToSDR {
		filters = append(filters,
			"zscale=t=linear:npl=100",
			"tonemap=hable:desat=0",
			"zscale=p=bt709:t=bt709:m=bt709:r=tv",
		)
	}

	if cfg.Codec == "hevc" && cfg.TenBitSource && !cfg.TonemapToSDR {
		filters = append(filters, "format=yuv420p10le")
	} else {
		filters = append(filters, "format=yuv420p")
	}

	return "[0:v:0]" + strings.Join(filters, ",") + "[outv]"
}

func videoEncoderArgs(cfg videoArgConfig) []string {
	encoder := resolveVideoEncoder(cfg.Codec, cfg.UseHardware, cfg.HwAccelType)
	args := []string{"-c:v", encoder}

	switch {
	case strings.HasSuffix(encoder, "_nvenc"):
		args = append(args, "-preset", "p4", "-rc", "vbr")
	case strings.HasSuffix(encoder, "_qsv"):
		args = append(args, "-preset", "faster")
	default:
		preset := cfg.Preset
		if preset == "" {
			preset = "veryfast"
		}
		args = append(args, "-preset", preset)
	}

	if cfg.BitrateKbps > 0 {
		bitrate := strconv.Itoa(cfg.BitrateKbps) + "k"
		maxrate := strconv.Itoa(cfg.BitrateKbps*110/100) + "k"
		bufsize := strconv.Itoa(cfg.BitrateKbps*2) + "k"
		args = append(args, "-b:v", bitrate, "-maxrate", maxrate, "-bufsize", bufsize)
	} else if !cfg.UseHardware {
		crf := cfg.CRF
		if crf <= 0 {
			crf = 23
		}
		args = append(args, "-crf", strconv.Itoa(crf))
	}

	if cfg.Codec == "h264" && !cfg.UseHardware {
		args = append(args, "-profile:v", "high", "-level", "4.1")
	}
	return args
}

func resolveVideoEncoder(codec string, useHardware bool, hwType string) string {
	if useHardware {
		switch hwType {
		case HwAccelCUDA:
			if codec == "hevc" {
				return "hevc_nvenc"
			}
			return "h264_nvenc"
		case HwAccelQSV:
			if codec == "hevc" {
				return "hevc_qsv"
			}
			return "h264_qsv"
		}
	}
	if codec == "hevc" {
		return "libx265"
	}
	return "libx264"
}

// buildAudioArgs constructs the transcoder argument list for an audio
// session. Audio sessions never use hardware, scaling or HDR handling and
// map exactly one source track.
func buildAudioArgs(cfg audioArgConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-stats",
		"-copyts",
		"-avoid_negative_ts", "disabled",
		"-start_at_zero",
	}

	if cfg.StartSeconds > 0 {
		args = append(args, "-ss", formatSeconds(cfg.StartSeconds))
	}

	args = append(args,
		"-i", cfg.Input,
		"-vn", "-sn",
		"-map", fmt.Sprintf("0:a:%d", cfg.TrackIndex),
	)

	if cfg.Codec == "copy" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", cfg.Codec)
		bitrate := cfg.BitrateKbps
		if bitrate <= 0 {
			bitrate = 128
		}
		args = append(args, "-b:a", strconv.Itoa(bitrate)+"k")
		if cfg.Channels > 0 {
			args = append(args, "-ac", strconv.Itoa(cfg.Channels))
		}
		if cfg.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(cfg.SampleRate))
		}
	}

	segStr := formatSeconds(cfg.SegmentSeconds)
	args = append(args, hlsMuxerArgs(cfg.OutputDir, ".ts", "", segStr, cfg.StartSegment)...)
	return args
}

// hlsMuxerArgs emits the shared HLS muxer tail: segment template, the
// ffmpeg-managed playlist, and fMP4 extras for .m4s output.
func hlsMuxerArgs(outputDir, ext, codec, segSeconds string, startSegment int) []string {
	args := []string{
		"-f", "hls",
		"-hls_time", segSeconds,
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-start_number", strconv.Itoa(startSegment),
	}
	if ext == ".m4s" {
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", initFileName,
		)
		if codec == "hevc" {
			args = append(args, "-tag:v", "hvc1")
		}
	}
	args = append(args,
		"-hls_segment_filename", filepath.Join(outputDir, "%03d"+ext),
		filepath.Join(outputDir, ffmpegPlaylistName),
	)
	return args
}

// buildExplicitSegmentArgs produces the one-shot vector for explicit-offset
// mode: a single segment of lengthTicks starting at startTicks, written
// directly to outPath without a streaming session.
func buildExplicitSegmentArgs(input string, variant domain.Variant, startTicks, lengthTicks int64, preset string, crf int, traits sourceTraits, outPath string) []string {
	start := float64(startTicks) / domain.TicksPerSecond
	length := float64(lengthTicks) / domain.TicksPerSecond

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	args = append(args, "-t", formatSeconds(length), "-i", input)

	if variant.IsAudio() {
		bitrate := variant.BitrateKbps
		if bitrate <= 0 {
			bitrate = audioBitrateKbps(variant.Channels, 0)
		}
		args = append(args,
			"-vn", "-sn",
			"-map", fmt.Sprintf("0:a:%d", variant.AudioTrackIndex),
			"-c:a", audioEncoderFor(variant.CodecStrategy),
			"-b:a", strconv.Itoa(bitrate)+"k",
		)
	} else {
		cfg := videoArgConfig{
			Codec:        variant.CodecStrategy,
			Width:        variant.Width,
			Height:       variant.Height,
			BitrateKbps:  variant.BitrateKbps,
			Preset:       preset,
			CRF:          crf,
			TonemapToSDR: traits.HDR && variant.IsSDR,
			TenBitSource: traits.TenBit,
		}
		args = append(args, "-sn", "-an",
			"-filter_complex", buildVideoFilterGraph(cfg),
			"-map", "[outv]",
		)
		args = append(args, videoEncoderArgs(cfg)...)
	}

	if strings.HasSuffix(outPath, ".m4s") {
		args = append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov")
	} else {
		args = append(args, "-f", "mpegts")
	}
	args = append(args, "-y", outPath)
	return args
}

func audioEncoderFor(codec string) string {
	switch strings.ToLower(codec) {
	case "", "aac":
		return "aac"
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "flac":
		return "flac"
	default:
		return "aac"
	}
}

// audioBitrateKbps applies the channel-count policy: 384 kbps beyond
// stereo, the configured stereo bitrate otherwise (128 kbps when unset).
func audioBitrateKbps(channels, stereoKbps int) int {
	if channels > 2 {
		return 384
	}
	if stereoKbps > 0 {
		return stereoKbps
	}
	return 128
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
