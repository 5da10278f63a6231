// Package ports declares the interfaces the supervisor consumes from the
// outside world, keeping the core free of driver imports.
package ports

import (
	"context"

	"jitstream/internal/domain"
)

// MediaProbe returns stream metadata for a source file.
type MediaProbe interface {
	Probe(ctx context.Context, filePath string) (domain.MediaInfo, error)

	// NearestKeyframe returns the timestamp of the nearest video keyframe
	// at or before target (seconds). Returns 0 when none is found before
	// the target.
	NearestKeyframe(ctx context.Context, filePath string, target float64) (float64, error)
}

// PlaybackHistoryStore persists viewer positions across restarts.
type PlaybackHistoryStore interface {
	Upsert(ctx context.Context, pos domain.PlaybackPosition) error
	Get(ctx context.Context, videoID domain.VideoID, variant string) (domain.PlaybackPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error)
}
