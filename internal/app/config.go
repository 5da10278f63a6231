package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	MongoURI           string // empty or "disabled" runs without persistence
	MongoDatabase      string
	CORSAllowedOrigins []string

	JITEnabled             bool
	SegmentSeconds         float64
	OutputDir              string
	SourceDir              string
	FFMPEGPath             string
	FFProbePath            string
	MaxHwProcesses         int
	HardwareEnabled        bool
	HwAccelType            string
	PreserveSegments       bool
	PreserveFFmpegPlaylist bool
	PauseThreshold         time.Duration
	InactivityThreshold    time.Duration
	ViewerCheckInterval    time.Duration
	WebSupportedCodecs     []string

	EncodingPreset       string
	EncodingCRF          int
	EncodingAudioBitrate int // kbps for stereo tracks
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDatabase:      getEnv("MONGO_DB", "jitstream"),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		JITEnabled:             getEnvBool("JIT_TRANSCODING_ENABLED", true),
		SegmentSeconds:         getEnvFloat("HLS_SEGMENT_TIME", 6),
		OutputDir:              getEnv("HLS_OUTPUT_DIR", "hls"),
		SourceDir:              getEnv("VIDEO_SOURCE_DIR", "media"),
		FFMPEGPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		MaxHwProcesses:         int(getEnvInt64("MAX_HW_PROCESSES", 2)),
		HardwareEnabled:        getEnvBool("HARDWARE_ENCODING_ENABLED", false),
		HwAccelType:            strings.ToLower(getEnv("HWACCEL_TYPE", "cuda")),
		PreserveSegments:       getEnvBool("PRESERVE_SEGMENTS", false),
		PreserveFFmpegPlaylist: getEnvBool("PRESERVE_FFMPEG_PLAYLIST", false),
		PauseThreshold:         getEnvSeconds("TRANSCODING_PAUSE_THRESHOLD", 60*time.Second),
		InactivityThreshold:    getEnvSeconds("VIEWER_INACTIVITY_THRESHOLD", 180*time.Second),
		ViewerCheckInterval:    getEnvSeconds("VIEWER_CHECK_INTERVAL", 10*time.Second),
		WebSupportedCodecs:     getEnvCodecs("WEB_SUPPORTED_CODECS", []string{"aac", "mp3", "flac"}),

		EncodingPreset:       getEnv("ENCODING_PRESET", "veryfast"),
		EncodingCRF:          int(getEnvInt64("ENCODING_CRF", 23)),
		EncodingAudioBitrate: int(getEnvInt64("ENCODING_AUDIO_BITRATE", 128)),
	}
}

// MongoEnabled reports whether a persistence backend is configured.
func (c Config) MongoEnabled() bool {
	uri := strings.TrimSpace(c.MongoURI)
	return uri != "" && !strings.EqualFold(uri, "disabled")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvSeconds reads a whole number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Second
}

func getEnvCodecs(key string, fallback []string) []string {
	out := parseCSV(os.Getenv(key))
	if len(out) == 0 {
		return fallback
	}
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
