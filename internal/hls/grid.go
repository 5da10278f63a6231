// Package hls implements the just-in-time segment supervisor: the segment
// grid, transcoder session lifecycle, readiness protocol, seek handling and
// viewer-driven reclamation.
package hls

import (
	"fmt"
	"math"
	"sync"

	"jitstream/internal/domain"
)

const (
	defaultAACFrameSize    = 1024
	defaultAudioSampleRate = 48000

	// Grid planning bounds.
	maxContinuedFractionTerms = 20
	maxConvergentDenominator  = 10_000
	maxGopMultiple            = 10
	maxSegmentStretch         = 1.5 // never exceed 1.5x the target duration

	fallbackDurationSeconds = 7_200.0
	maxDurationSeconds      = 86_400.0
)

// GridPlanner computes and caches the canonical segment grid per video.
// Grids are computed once under a per-video lock; concurrent callers for
// the same video observe the same result.
type GridPlanner struct {
	mu       sync.Mutex
	grids    map[domain.VideoID]*domain.Grid
	inflight map[domain.VideoID]*sync.Mutex
}

func NewGridPlanner() *GridPlanner {
	return &GridPlanner{
		grids:    make(map[domain.VideoID]*domain.Grid),
		inflight: make(map[domain.VideoID]*sync.Mutex),
	}
}

// Plan returns the grid for a video, computing it on first use. Pure in its
// inputs: identical metadata and target always produce an identical grid.
func (p *GridPlanner) Plan(videoID domain.VideoID, meta domain.MediaInfo, targetSeconds float64) (*domain.Grid, error) {
	p.mu.Lock()
	if grid, ok := p.grids[videoID]; ok {
		p.mu.Unlock()
		return grid, nil
	}
	lock, ok := p.inflight[videoID]
	if !ok {
		lock = &sync.Mutex{}
		p.inflight[videoID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished while we waited.
	p.mu.Lock()
	if grid, ok := p.grids[videoID]; ok {
		p.mu.Unlock()
		return grid, nil
	}
	p.mu.Unlock()

	grid, err := computeGrid(videoID, meta, targetSeconds)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.grids[videoID] = grid
	delete(p.inflight, videoID)
	p.mu.Unlock()
	return grid, nil
}

// Cached returns the grid if it has already been computed.
func (p *GridPlanner) Cached(videoID domain.VideoID) (*domain.Grid, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grid, ok := p.grids[videoID]
	return grid, ok
}

// Forget drops a cached grid (used when the source file is replaced).
func (p *GridPlanner) Forget(videoID domain.VideoID) {
	p.mu.Lock()
	delete(p.grids, videoID)
	p.mu.Unlock()
}

func computeGrid(videoID domain.VideoID, meta domain.MediaInfo, targetSeconds float64) (*domain.Grid, error) {
	if targetSeconds <= 0 {
		return nil, fmt.Errorf("%w: target segment duration %f", domain.ErrBadRequest, targetSeconds)
	}

	fps := 0.0
	if v, ok := meta.VideoStream(); ok {
		fps = v.FPS
	}
	sampleRate := defaultAudioSampleRate
	if audio := meta.AudioStreams(); len(audio) > 0 && audio[0].SampleRate > 0 {
		sampleRate = audio[0].SampleRate
	}

	if fps <= 0 {
		// Audio-only sources: segments align to whole audio frames near
		// the target.
		return audioOnlyGrid(videoID, meta, targetSeconds, sampleRate)
	}

	gopFrames, segSec, approximate := alignGop(fps, sampleRate, targetSeconds)

	duration := meta.Duration
	if duration <= 0 {
		duration = fallbackDurationSeconds
		approximate = true
	}
	if duration > maxDurationSeconds {
		duration = maxDurationSeconds
	}

	grid := &domain.Grid{
		VideoID:              videoID,
		TargetSegmentSeconds: targetSeconds,
		SegmentSeconds:       segSec,
		GopFrames:            uint32(gopFrames),
		VideoFPS:             fps,
		AudioSampleRate:      sampleRate,
		Approximate:          approximate,
	}
	grid.Segments = buildSegments(duration, segSec)
	return grid, nil
}

// alignGop picks a GOP length (in video frames) whose duration is a whole
// number of AAC frames, as close to targetSeconds as possible without
// exceeding 1.5x it. Falls back to ceil(target*fps) when no aligned pair
// exists within the search bounds.
func alignGop(fps float64, sampleRate int, targetSeconds float64) (gopFrames int, segSec float64, approximate bool) {
	videoFrameDur := 1 / fps
	audioFrameDur := float64(defaultAACFrameSize) / float64(sampleRate)

	// videoFrames/audioFrames must approximate audioFrameDur/videoFrameDur
	// so that videoFrames*videoFrameDur == audioFrames*audioFrameDur.
	ratio := audioFrameDur / videoFrameDur

	bestDiff := math.Inf(1)
	bestGop := 0

	for _, c := range convergents(ratio, maxContinuedFractionTerms, maxConvergentDenominator) {
		videoFrames := c.num
		if videoFrames <= 0 || videoFrames > maxConvergentDenominator {
			continue
		}
		for m := 1; m <= maxGopMultiple; m++ {
			segDur := float64(m*videoFrames) / fps
			if segDur > maxSegmentStretch*targetSeconds {
				break
			}
			if diff := math.Abs(segDur - targetSeconds); diff < bestDiff {
				bestDiff = diff
				bestGop = m * videoFrames
			}
		}
	}

	if bestGop > 0 {
		return bestGop, float64(bestGop) / fps, false
	}
	gop := int(math.Ceil(targetSeconds * fps))
	if gop < 1 {
		gop = 1
	}
	return gop, float64(gop) / fps, true
}

type convergent struct {
	num int // videoFrames
	den int // audioFrames
}

// convergents develops the continued-fraction expansion of x and returns
// its convergents num/den with den bounded.
func convergents(x float64, maxTerms, maxDen int) []convergent {
	var out []convergent

	// Standard recurrence: p_i = a_i*p_{i-1} + p_{i-2}, same for q.
	pPrev, p := 1, 0
	qPrev, q := 0, 1
	rem := x

	for i := 0; i < maxTerms; i++ {
		a := int(math.Floor(rem))
		pNext := a*p + pPrev
		qNext := a*q + qPrev
		if qNext > maxDen || pNext > maxDen {
			break
		}
		pPrev, p = p, pNext
		qPrev, q = q, qNext
		if p > 0 && q > 0 {
			out = append(out, convergent{num: p, den: q})
		}

		frac := rem - math.Floor(rem)
		if frac < 1e-12 {
			break
		}
		rem = 1 / frac
	}
	return out
}

func audioOnlyGrid(videoID domain.VideoID, meta domain.MediaInfo, targetSeconds float64, sampleRate int) (*domain.Grid, error) {
	audioFrameDur := float64(defaultAACFrameSize) / float64(sampleRate)
	frames := math.Round(targetSeconds / audioFrameDur)
	if frames < 1 {
		frames = 1
	}
	segSec := frames * audioFrameDur

	duration := meta.Duration
	approximate := false
	if duration <= 0 {
		duration = fallbackDurationSeconds
		approximate = true
	}
	if duration > maxDurationSeconds {
		duration = maxDurationSeconds
	}

	grid := &domain.Grid{
		VideoID:              videoID,
		TargetSegmentSeconds: targetSeconds,
		SegmentSeconds:       segSec,
		AudioSampleRate:      sampleRate,
		Approximate:          approximate,
	}
	grid.Segments = buildSegments(duration, segSec)
	return grid, nil
}

// buildSegments emits ceil(duration/segSec) descriptors. All segments share
// the same tick duration except the last, which is truncated so the sum
// equals round(duration * 1e7).
func buildSegments(duration, segSec float64) []domain.SegmentDescriptor {
	totalTicks := int64(math.Round(duration * domain.TicksPerSecond))
	segTicks := int64(math.Round(segSec * domain.TicksPerSecond))
	if segTicks <= 0 {
		segTicks = 1
	}

	count := int(math.Ceil(duration / segSec))
	if count < 1 {
		count = 1
	}

	segments := make([]domain.SegmentDescriptor, 0, count)
	var start int64
	for i := 0; i < count; i++ {
		ticks := segTicks
		if i == count-1 {
			ticks = totalTicks - start
			if ticks <= 0 {
				break
			}
		}
		segments = append(segments, domain.SegmentDescriptor{
			Index:           uint32(i),
			StartTicks:      start,
			DurationTicks:   ticks,
			DurationSeconds: float64(ticks) / domain.TicksPerSecond,
		})
		start += ticks
	}
	return segments
}
