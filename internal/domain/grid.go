package domain

import "sort"

// TicksPerSecond is the 100 ns wire clock used for segment offsets and
// durations.
const TicksPerSecond = 10_000_000

// SegmentDescriptor describes one entry of a video's segment grid.
type SegmentDescriptor struct {
	Index           uint32  `json:"index"`
	StartTicks      int64   `json:"startTicks"`
	DurationTicks   int64   `json:"durationTicks"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Grid is the canonical, immutable segment grid for one video. All variants
// of the video share the same grid so that their encoders emit aligned
// segment boundaries.
type Grid struct {
	VideoID              VideoID             `json:"videoId"`
	TargetSegmentSeconds float64             `json:"targetSegmentSeconds"`
	SegmentSeconds       float64             `json:"segmentSeconds"` // base per-segment duration
	GopFrames            uint32              `json:"gopFrames"`
	Segments             []SegmentDescriptor `json:"segments"`
	VideoFPS             float64             `json:"videoFps"`
	AudioSampleRate      int                 `json:"audioSampleRate"`

	// Approximate is set when no GOP/audio-frame aligned duration could be
	// found and the planner fell back to ceil(target*fps) frames.
	Approximate bool `json:"approximate,omitempty"`
}

// DurationSeconds returns the total media duration covered by the grid.
func (g *Grid) DurationSeconds() float64 {
	if len(g.Segments) == 0 {
		return 0
	}
	last := g.Segments[len(g.Segments)-1]
	return float64(last.StartTicks+last.DurationTicks) / TicksPerSecond
}

// SegmentIndexAt returns the index of the segment containing the given
// media timestamp. Timestamps before the grid map to 0; timestamps at or
// past the end map to the last segment.
func (g *Grid) SegmentIndexAt(seconds float64) int {
	if len(g.Segments) == 0 {
		return 0
	}
	ticks := int64(seconds * TicksPerSecond)
	idx := sort.Search(len(g.Segments), func(i int) bool {
		seg := g.Segments[i]
		return seg.StartTicks+seg.DurationTicks > ticks
	})
	if idx >= len(g.Segments) {
		return len(g.Segments) - 1
	}
	return idx
}
