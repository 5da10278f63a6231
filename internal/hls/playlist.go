package hls

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"jitstream/internal/domain"
)

const (
	placeholderPlaylistName = "playlist.m3u8"
	ffmpegPlaylistName      = "ffmpeg_playlist.m3u8"
	initFileName            = "init.mp4"
	sessionLockName         = "session.lock"
)

// PlaylistOptions parameterize the per-variant media playlist.
type PlaylistOptions struct {
	// Extension is ".ts" or ".m4s".
	Extension string

	// VideoRange is SDR, HLG or PQ for video variants; empty for audio.
	VideoRange string
}

// PlaylistBuilder writes the placeholder VOD media playlist for each
// (video, variant) pair exactly once and returns the existing file on
// subsequent calls.
type PlaylistBuilder struct {
	baseDir string

	mu      sync.Mutex
	written map[sessionKey]string
}

func NewPlaylistBuilder(baseDir string) *PlaylistBuilder {
	return &PlaylistBuilder{
		baseDir: baseDir,
		written: make(map[sessionKey]string),
	}
}

// OutputDir returns the on-disk directory for a (video, variant) pair.
func (b *PlaylistBuilder) OutputDir(videoID domain.VideoID, label string) string {
	return filepath.Join(b.baseDir, sanitizePathComponent(string(videoID)), label)
}

// Ensure writes the placeholder playlist if it does not exist yet and
// returns its path. Idempotent: repeated calls with the same key return
// the same path without rewriting the file.
func (b *PlaylistBuilder) Ensure(grid *domain.Grid, label string, opts PlaylistOptions) (string, error) {
	key := sessionKey{videoID: grid.VideoID, label: label}

	b.mu.Lock()
	defer b.mu.Unlock()

	if path, ok := b.written[key]; ok {
		return path, nil
	}

	dir := b.OutputDir(grid.VideoID, label)
	path := filepath.Join(dir, placeholderPlaylistName)

	// A playlist surviving from a previous run counts as written.
	if _, err := os.Stat(path); err == nil {
		b.written[key] = path
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create variant dir: %v", domain.ErrIO, err)
	}

	body := renderMediaPlaylist(grid, opts)

	// Write via a temp sibling so concurrent readers never observe a
	// partial playlist.
	tmp, err := os.CreateTemp(dir, placeholderPlaylistName+".*")
	if err != nil {
		return "", fmt.Errorf("%w: create playlist temp: %v", domain.ErrIO, err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: write playlist: %v", domain.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: close playlist: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: publish playlist: %v", domain.ErrIO, err)
	}

	b.written[key] = path
	return path, nil
}

func renderMediaPlaylist(grid *domain.Grid, opts PlaylistOptions) string {
	ext := opts.Extension
	if ext == "" {
		ext = ".ts"
	}

	maxSeg := 0.0
	for _, seg := range grid.Segments {
		if seg.DurationSeconds > maxSeg {
			maxSeg = seg.DurationSeconds
		}
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(maxSeg)))
	if opts.VideoRange != "" {
		fmt.Fprintf(&sb, "#EXT-X-VIDEO-RANGE:%s\n", opts.VideoRange)
	}
	sb.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	sb.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	if ext == ".m4s" {
		fmt.Fprintf(&sb, "#EXT-X-MAP:URI=\"%s\"\n", initFileName)
	}
	for _, seg := range grid.Segments {
		fmt.Fprintf(&sb, "#EXTINF:%.6f,\n", seg.DurationSeconds)
		fmt.Fprintf(&sb, "%03d%s?runtimeTicks=%d&actualSegmentLengthTicks=%d\n",
			seg.Index, ext, seg.StartTicks, seg.DurationTicks)
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	return sb.String()
}

// segmentFileName is the on-disk name of one segment ("000.ts", "001.m4s").
func segmentFileName(index int, ext string) string {
	return fmt.Sprintf("%03d%s", index, ext)
}

// sanitizePathComponent keeps video identifiers from escaping the output
// root.
func sanitizePathComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "\\", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		value = "_"
	}
	return value
}
