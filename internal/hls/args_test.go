package hls

import (
	"strings"
	"testing"

	"jitstream/internal/domain"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag {
			if i+1 >= len(args) {
				t.Fatalf("flag %s has no value", flag)
			}
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestBuildVideoArgsSoftwareH264(t *testing.T) {
	args := buildVideoArgs(videoArgConfig{
		Input:          "/media/movie.mkv",
		StartSeconds:   42.5,
		StartSegment:   7,
		SegmentSeconds: 5.333333,
		GopFrames:      128,
		OutputDir:      "/out/movie/720p",
		Extension:      ".ts",
		Codec:          "h264",
		Width:          1280,
		Height:         720,
		BitrateKbps:    4000,
		Preset:         "veryfast",
	})

	if got := argValue(t, args, "-c:v"); got != "libx264" {
		t.Fatalf("encoder = %s, want libx264", got)
	}
	if got := argValue(t, args, "-ss"); got != "42.500000" {
		t.Fatalf("-ss = %s", got)
	}
	if got := argValue(t, args, "-g"); got != "128" {
		t.Fatalf("-g = %s", got)
	}
	if got := argValue(t, args, "-start_number"); got != "7" {
		t.Fatalf("-start_number = %s", got)
	}
	if got := argValue(t, args, "-force_key_frames"); got != "expr:gte(t,n_forced*5.333333)" {
		t.Fatalf("-force_key_frames = %s", got)
	}
	if got := argValue(t, args, "-hls_segment_filename"); got != "/out/movie/720p/%03d.ts" {
		t.Fatalf("segment template = %s", got)
	}
	if hasArg(args, "-hwaccel") {
		t.Fatal("software config must not carry -hwaccel")
	}
	if !hasArg(args, "-copyts") || !hasArg(args, "-start_at_zero") {
		t.Fatal("timestamp preservation flags missing")
	}
	if args[len(args)-1] != "/out/movie/720p/ffmpeg_playlist.m3u8" {
		t.Fatalf("last arg = %s, want ffmpeg playlist path", args[len(args)-1])
	}

	// -ss must precede -i for input seeking.
	ssIdx, iIdx := -1, -1
	for i, a := range args {
		switch a {
		case "-ss":
			ssIdx = i
		case "-i":
			iIdx = i
		}
	}
	if ssIdx == -1 || iIdx == -1 || ssIdx > iIdx {
		t.Fatalf("-ss (%d) must come before -i (%d)", ssIdx, iIdx)
	}
}

func TestBuildVideoArgsHardwareHEVCFmp4(t *testing.T) {
	args := buildVideoArgs(videoArgConfig{
		Input:          "/media/movie.mkv",
		SegmentSeconds: 6,
		OutputDir:      "/out/movie/2160p",
		Extension:      ".m4s",
		Codec:          "hevc",
		UseHardware:    true,
		HwAccelType:    HwAccelCUDA,
	})

	if got := argValue(t, args, "-c:v"); got != "hevc_nvenc" {
		t.Fatalf("encoder = %s, want hevc_nvenc", got)
	}
	if got := argValue(t, args, "-hwaccel"); got != "cuda" {
		t.Fatalf("-hwaccel = %s", got)
	}
	if got := argValue(t, args, "-hls_segment_type"); got != "fmp4" {
		t.Fatalf("-hls_segment_type = %s", got)
	}
	if got := argValue(t, args, "-hls_fmp4_init_filename"); got != "init.mp4" {
		t.Fatalf("init filename = %s", got)
	}
	if got := argValue(t, args, "-tag:v"); got != "hvc1" {
		t.Fatalf("-tag:v = %s", got)
	}
	if hasArg(args, "-ss") {
		t.Fatal("zero start must omit -ss")
	}
}

func TestBuildVideoFilterGraphTonemap(t *testing.T) {
	graph := buildVideoFilterGraph(videoArgConfig{
		Width:        1920,
		Height:       1080,
		Codec:        "h264",
		TonemapToSDR: true,
	})
	if !strings.HasPrefix(graph, "[0:v:0]") || !strings.HasSuffix(graph, "[outv]") {
		t.Fatalf("graph labels wrong: %s", graph)
	}
	if !strings.Contains(graph, "tonemap=hable") {
		t.Fatalf("expected hable tonemap in %s", graph)
	}
	if !strings.Contains(graph, "scale=1920:1080") {
		t.Fatalf("expected scale in %s", graph)
	}
	if !strings.Contains(graph, "format=yuv420p") {
		t.Fatalf("expected 8-bit output format in %s", graph)
	}
}

func TestBuildVideoFilterGraphHEVC10Bit(t *testing.T) {
	graph := buildVideoFilterGraph(videoArgConfig{Codec: "hevc", TenBitSource: true})
	if !strings.Contains(graph, "format=yuv420p10le") {
		t.Fatalf("expected 10-bit format in %s", graph)
	}
}

func TestBuildAudioArgsTranscode(t *testing.T) {
	args := buildAudioArgs(audioArgConfig{
		Input:          "/media/movie.mkv",
		StartSeconds:   10,
		StartSegment:   2,
		SegmentSeconds: 5.333333,
		OutputDir:      "/out/movie/audio_1_aac",
		TrackIndex:     1,
		Codec:          "aac",
		BitrateKbps:    384,
		Channels:       6,
	})

	if got := argValue(t, args, "-map"); got != "0:a:1" {
		t.Fatalf("-map = %s", got)
	}
	if got := argValue(t, args, "-c:a"); got != "aac" {
		t.Fatalf("-c:a = %s", got)
	}
	if got := argValue(t, args, "-b:a"); got != "384k" {
		t.Fatalf("-b:a = %s", got)
	}
	if !hasArg(args, "-vn") || !hasArg(args, "-sn") {
		t.Fatal("audio args must drop video and subtitles")
	}
	if hasArg(args, "-filter_complex") {
		t.Fatal("audio args must not carry a filter graph")
	}
}

func TestBuildAudioArgsPassthrough(t *testing.T) {
	args := buildAudioArgs(audioArgConfig{
		Input:          "/media/movie.mkv",
		SegmentSeconds: 6,
		OutputDir:      "/out/movie/audio_0_aac",
		Codec:          "copy",
	})
	if got := argValue(t, args, "-c:a"); got != "copy" {
		t.Fatalf("-c:a = %s", got)
	}
	if hasArg(args, "-b:a") {
		t.Fatal("passthrough must not set a bitrate")
	}
}

func TestBuildExplicitSegmentArgs(t *testing.T) {
	variant := domain.Variant{
		Label:         "720p",
		Kind:          domain.VariantVideo,
		Width:         1280,
		Height:        720,
		BitrateKbps:   4000,
		CodecStrategy: "h264",
	}
	args := buildExplicitSegmentArgs("/media/movie.mkv", variant,
		533333300, 53333330, "veryfast", 23, sourceTraits{}, "/out/seg.ts")

	if strings.Contains(argValue(t, args, "-filter_complex"), "tonemap") {
		t.Fatal("SDR source must not be tonemapped")
	}

	if got := argValue(t, args, "-ss"); got != "53.333330" {
		t.Fatalf("-ss = %s", got)
	}
	if got := argValue(t, args, "-t"); got != "5.333333" {
		t.Fatalf("-t = %s", got)
	}
	if got := argValue(t, args, "-f"); got != "mpegts" {
		t.Fatalf("-f = %s", got)
	}
	if args[len(args)-1] != "/out/seg.ts" {
		t.Fatalf("output = %s", args[len(args)-1])
	}
}

func TestBuildExplicitSegmentArgsAudioFmp4(t *testing.T) {
	variant := domain.Variant{
		Label:           domain.AudioLabel(0, "aac"),
		Kind:            domain.VariantAudio,
		AudioTrackIndex: 0,
		CodecStrategy:   "aac",
		Channels:        2,
	}
	args := buildExplicitSegmentArgs("/media/movie.mkv", variant,
		0, 60000000, "", 0, sourceTraits{}, "/out/seg.m4s")

	if hasArg(args, "-ss") {
		t.Fatal("zero start must omit -ss")
	}
	if got := argValue(t, args, "-c:a"); got != "aac" {
		t.Fatalf("-c:a = %s", got)
	}
	if got := argValue(t, args, "-b:a"); got != "128k" {
		t.Fatalf("-b:a = %s", got)
	}
	if got := argValue(t, args, "-f"); got != "mp4" {
		t.Fatalf("-f = %s", got)
	}
}

func TestBuildExplicitSegmentArgsTonemapsHDR(t *testing.T) {
	variant := domain.Variant{
		Label:         "720p",
		Kind:          domain.VariantVideo,
		Width:         1280,
		Height:        720,
		CodecStrategy: "h264",
		IsSDR:         true,
	}
	args := buildExplicitSegmentArgs("/media/movie.mkv", variant,
		0, 60000000, "veryfast", 23, sourceTraits{HDR: true, TenBit: true}, "/out/seg.ts")

	if !strings.Contains(argValue(t, args, "-filter_complex"), "tonemap=hable") {
		t.Fatal("HDR source downconverted to SDR must be tonemapped")
	}
}

func TestAudioBitratePolicy(t *testing.T) {
	if got := audioBitrateKbps(2, 0); got != 128 {
		t.Fatalf("stereo default = %d", got)
	}
	if got := audioBitrateKbps(2, 192); got != 192 {
		t.Fatalf("stereo configured = %d", got)
	}
	if got := audioBitrateKbps(6, 192); got != 384 {
		t.Fatalf("5.1 bitrate = %d", got)
	}
}
