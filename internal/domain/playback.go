package domain

import "time"

// PlaybackPosition records the most recent viewer activity for one
// (video, variant) pair. Flushed periodically to the history store so the
// UI can resume where playback stopped.
type PlaybackPosition struct {
	VideoID         VideoID   `json:"videoId"`
	Variant         string    `json:"variant"`
	Segment         int       `json:"segment"`
	PositionSeconds float64   `json:"positionSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
