package hls

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jitstream/internal/domain"
)

// sourceExtensions are the container formats probed when a video id names a
// file without an extension.
var sourceExtensions = []string{".mkv", ".mp4", ".avi", ".mov", ".m4v", ".webm", ".mp3", ".flac"}

// DirectorySource resolves video identifiers against a flat media library
// directory. The id may name the file directly (with extension) or bare, in
// which case the known container extensions are tried in order.
type DirectorySource struct {
	dir string
}

func NewDirectorySource(dir string) (*DirectorySource, error) {
	base := strings.TrimSpace(dir)
	if base == "" {
		return nil, errors.New("source dir is required")
	}
	base = filepath.Clean(base)
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	return &DirectorySource{dir: base}, nil
}

func (d *DirectorySource) Resolve(videoID domain.VideoID) (string, error) {
	id := strings.TrimSpace(string(videoID))
	if id == "" {
		return "", fmt.Errorf("%w: empty video id", domain.ErrBadRequest)
	}

	joined := filepath.Join(d.dir, filepath.FromSlash(id))
	joined = filepath.Clean(joined)
	if abs, err := filepath.Abs(joined); err == nil {
		joined = abs
	}
	if joined == d.dir || !strings.HasPrefix(joined, d.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: video id escapes source dir", domain.ErrBadRequest)
	}

	if info, err := os.Stat(joined); err == nil && info.Mode().IsRegular() {
		return joined, nil
	}
	for _, ext := range sourceExtensions {
		candidate := joined + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no source file for %q", domain.ErrNotFound, id)
}
