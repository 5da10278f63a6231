package hls

import (
	"sync"
	"time"

	"jitstream/internal/domain"
)

// skipAheadLimit is how many consecutive non-sequential requests a viewer
// may make before being flagged as scrubbing rather than watching.
const skipAheadLimit = 3

// viewerActivity is the last observed request for one (video, variant)
// pair.
type viewerActivity struct {
	LastSeen    time.Time
	LastSegment int
	skips       int
}

// SkippedAhead reports whether the viewer has repeatedly jumped forward
// instead of playing sequentially.
func (v viewerActivity) SkippedAhead() bool {
	return v.skips > skipAheadLimit
}

// ViewerTracker records per-variant viewer activity so the sweepers can
// pause or reclaim sessions nobody is watching.
type ViewerTracker struct {
	mu      sync.Mutex
	viewers map[sessionKey]viewerActivity
	now     func() time.Time
}

func NewViewerTracker() *ViewerTracker {
	return &ViewerTracker{
		viewers: make(map[sessionKey]viewerActivity),
		now:     time.Now,
	}
}

// Update records a segment request for the given variant.
func (t *ViewerTracker) Update(videoID domain.VideoID, label string, segment int) {
	key := sessionKey{videoID: videoID, label: label}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.viewers[key]
	if ok && segment > entry.LastSegment+1 {
		entry.skips++
	} else if ok && segment == entry.LastSegment+1 {
		entry.skips = 0
	}
	entry.LastSeen = t.now()
	entry.LastSegment = segment
	t.viewers[key] = entry
}

// IdleFor returns how long the variant has gone without a request. ok is
// false when the variant was never requested.
func (t *ViewerTracker) IdleFor(videoID domain.VideoID, label string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.viewers[sessionKey{videoID: videoID, label: label}]
	if !ok {
		return 0, false
	}
	return t.now().Sub(entry.LastSeen), true
}

// Activity returns the recorded activity for the variant.
func (t *ViewerTracker) Activity(videoID domain.VideoID, label string) (viewerActivity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.viewers[sessionKey{videoID: videoID, label: label}]
	return entry, ok
}

// Snapshot returns a copy of all tracked activity.
func (t *ViewerTracker) Snapshot() map[sessionKey]viewerActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[sessionKey]viewerActivity, len(t.viewers))
	for k, v := range t.viewers {
		out[k] = v
	}
	return out
}

// Remove forgets a variant's activity, typically after its session is
// reclaimed.
func (t *ViewerTracker) Remove(videoID domain.VideoID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.viewers, sessionKey{videoID: videoID, label: label})
}

// Count returns the number of tracked variants.
func (t *ViewerTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.viewers)
}
