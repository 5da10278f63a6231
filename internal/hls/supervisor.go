package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"jitstream/internal/domain"
	"jitstream/internal/domain/ports"
	"jitstream/internal/metrics"
)

// Event is a session lifecycle notification published to subscribers.
type Event struct {
	Type    string    `json:"type"`
	VideoID string    `json:"videoId"`
	Label   string    `json:"label"`
	State   string    `json:"state,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// EventSink receives session lifecycle events. Must not block.
type EventSink func(Event)

// EncodingSettings are the software-encoder knobs adjustable at runtime.
type EncodingSettings struct {
	Preset       string `json:"preset"`
	CRF          int    `json:"crf"`
	AudioBitrate int    `json:"audioBitrateKbps"`
}

// SupervisorConfig is the static configuration of the session supervisor.
type SupervisorConfig struct {
	Enabled                bool
	FFmpegPath             string
	OutputDir              string
	SegmentSeconds         float64
	HardwareEnabled        bool
	HwAccelType            string
	PreserveSegments       bool
	PreserveFFmpegPlaylist bool
	WebSupportedCodecs     []string
	Encoding               EncodingSettings
}

// quality ladder for video variants; rungs above the source height are
// dropped.
var videoLadder = []domain.Variant{
	{Label: "1080p", Kind: domain.VariantVideo, Width: 1920, Height: 1080, BitrateKbps: 8000, CodecStrategy: "h264", IsSDR: true, AudioTrackIndex: -1},
	{Label: "720p", Kind: domain.VariantVideo, Width: 1280, Height: 720, BitrateKbps: 4000, CodecStrategy: "h264", IsSDR: true, AudioTrackIndex: -1},
	{Label: "480p", Kind: domain.VariantVideo, Width: 854, Height: 480, BitrateKbps: 1800, CodecStrategy: "h264", IsSDR: true, AudioTrackIndex: -1},
}

// sessionEntry serializes all mutations for one (video, variant) pair.
type sessionEntry struct {
	mu        sync.Mutex
	session   *session
	restarted bool // a seek restart happened; segments need CC fixing
}

// Supervisor owns the session registry: it resolves variants, plans grids,
// starts and restarts transcoder sessions, and hands segments to the HTTP
// layer once they are stable on disk.
type Supervisor struct {
	cfg SupervisorConfig

	prober   ports.MediaProbe
	resolver SourceResolver
	planner  *GridPlanner
	builder  *PlaylistBuilder
	hwPool   *HwSlotPool
	viewers  *ViewerTracker
	fixer    *ContinuityFixer
	history  ports.PlaybackHistoryStore
	log      *slog.Logger
	sink     EventSink

	mu       sync.Mutex
	sessions map[sessionKey]*sessionEntry
	enabled  bool
	segSec   float64
	encoding EncodingSettings

	infoMu sync.Mutex
	infos  map[domain.VideoID]domain.MediaInfo
}

// SourceResolver maps a video identifier to its on-disk source file.
type SourceResolver interface {
	Resolve(videoID domain.VideoID) (string, error)
}

func NewSupervisor(cfg SupervisorConfig, prober ports.MediaProbe, resolver SourceResolver, planner *GridPlanner, log *slog.Logger) *Supervisor {
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 6
	}
	if cfg.Encoding.Preset == "" {
		cfg.Encoding.Preset = "veryfast"
	}
	if cfg.Encoding.CRF <= 0 {
		cfg.Encoding.CRF = 23
	}
	if cfg.Encoding.AudioBitrate <= 0 {
		cfg.Encoding.AudioBitrate = 128
	}
	if len(cfg.WebSupportedCodecs) == 0 {
		cfg.WebSupportedCodecs = []string{"aac", "mp3", "flac"}
	}
	return &Supervisor{
		cfg:      cfg,
		prober:   prober,
		resolver: resolver,
		planner:  planner,
		builder:  NewPlaylistBuilder(cfg.OutputDir),
		viewers:  NewViewerTracker(),
		fixer:    NewContinuityFixer(),
		log:      log,
		sessions: make(map[sessionKey]*sessionEntry),
		enabled:  cfg.Enabled,
		segSec:   cfg.SegmentSeconds,
		encoding: cfg.Encoding,
		infos:    make(map[domain.VideoID]domain.MediaInfo),
	}
}

// SetHwPool installs the hardware slot pool. Optional; without it all
// sessions encode in software.
func (sv *Supervisor) SetHwPool(pool *HwSlotPool) { sv.hwPool = pool }

// SetEventSink installs a lifecycle event subscriber.
func (sv *Supervisor) SetEventSink(sink EventSink) { sv.sink = sink }

// SetHistoryStore installs the playback history store. Optional; without it
// viewer positions are not persisted.
func (sv *Supervisor) SetHistoryStore(store ports.PlaybackHistoryStore) { sv.history = store }

// FlushViewerHistory persists the latest observed position of every tracked
// viewer. No-op without a store; per-entry failures are logged and skipped.
func (sv *Supervisor) FlushViewerHistory(ctx context.Context) {
	if sv.history == nil {
		return
	}
	for key, activity := range sv.viewers.Snapshot() {
		grid, err := sv.planGrid(ctx, key.videoID)
		if err != nil {
			sv.log.Debug("history flush skipped", "video", key.videoID, "error", err)
			continue
		}
		if activity.LastSegment < 0 || activity.LastSegment >= len(grid.Segments) {
			continue
		}
		pos := domain.PlaybackPosition{
			VideoID:         key.videoID,
			Variant:         key.label,
			Segment:         activity.LastSegment,
			PositionSeconds: float64(grid.Segments[activity.LastSegment].StartTicks) / domain.TicksPerSecond,
			UpdatedAt:       activity.LastSeen.UTC(),
		}
		if err := sv.history.Upsert(ctx, pos); err != nil {
			sv.log.Warn("history flush failed", "video", key.videoID, "label", key.label, "error", err)
		}
	}
}

func (sv *Supervisor) publish(evt Event) {
	evt.At = time.Now()
	if sv.sink != nil {
		sv.sink(evt)
	}
}

// Enabled reports whether segment generation is currently allowed.
func (sv *Supervisor) Enabled() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.enabled
}

// SetEnabled toggles segment generation at runtime.
func (sv *Supervisor) SetEnabled(v bool) {
	sv.mu.Lock()
	sv.enabled = v
	sv.mu.Unlock()
	sv.log.Info("jit transcoding toggled", "enabled", v)
}

// SegmentSeconds returns the current target segment duration.
func (sv *Supervisor) SegmentSeconds() float64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.segSec
}

// SetSegmentSeconds changes the target segment duration for grids planned
// after the call. Existing grids are untouched so running playback stays
// consistent.
func (sv *Supervisor) SetSegmentSeconds(v float64) {
	if v <= 0 {
		return
	}
	sv.mu.Lock()
	sv.segSec = v
	sv.mu.Unlock()
}

// EncodingSettings returns the current software encoder settings.
func (sv *Supervisor) EncodingSettings() EncodingSettings {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.encoding
}

// SetEncodingSettings swaps the software encoder settings. Applies to
// sessions started after the call.
func (sv *Supervisor) SetEncodingSettings(e EncodingSettings) {
	sv.mu.Lock()
	sv.encoding = e
	sv.mu.Unlock()
}

// Settings-engine accessors used by the app-level settings managers.

func (sv *Supervisor) EncodingPreset() string    { return sv.EncodingSettings().Preset }
func (sv *Supervisor) EncodingCRF() int          { return sv.EncodingSettings().CRF }
func (sv *Supervisor) EncodingAudioBitrate() int { return sv.EncodingSettings().AudioBitrate }

func (sv *Supervisor) UpdateEncodingSettings(preset string, crf int, audioBitrate int) {
	sv.SetEncodingSettings(EncodingSettings{Preset: preset, CRF: crf, AudioBitrate: audioBitrate})
}

func (sv *Supervisor) UpdateJITSettings(enabled bool, segmentSeconds float64) {
	sv.SetEnabled(enabled)
	sv.SetSegmentSeconds(segmentSeconds)
}

// mediaInfo probes the source once and caches the result.
func (sv *Supervisor) mediaInfo(ctx context.Context, videoID domain.VideoID) (domain.MediaInfo, string, error) {
	path, err := sv.resolver.Resolve(videoID)
	if err != nil {
		return domain.MediaInfo{}, "", err
	}

	sv.infoMu.Lock()
	info, ok := sv.infos[videoID]
	sv.infoMu.Unlock()
	if ok {
		return info, path, nil
	}

	started := time.Now()
	info, err = sv.prober.Probe(ctx, path)
	metrics.ProbeDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return domain.MediaInfo{}, "", err
	}

	sv.infoMu.Lock()
	sv.infos[videoID] = info
	sv.infoMu.Unlock()
	return info, path, nil
}

// Variants lists the renditions offered for a video: the video quality
// ladder capped at the source height plus one rendition per audio track.
func (sv *Supervisor) Variants(ctx context.Context, videoID domain.VideoID) ([]domain.Variant, error) {
	info, _, err := sv.mediaInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	var variants []domain.Variant

	if vs, ok := info.VideoStream(); ok {
		for _, rung := range videoLadder {
			if rung.Height <= vs.Height {
				variants = append(variants, rung)
			}
		}
		if len(variants) == 0 {
			bottom := videoLadder[len(videoLadder)-1]
			bottom.Width, bottom.Height = vs.Width, vs.Height
			variants = append(variants, bottom)
		}
		// HDR sources keep a native rendition alongside the tonemapped
		// ladder.
		if info.IsHDR() {
			variants = append([]domain.Variant{{
				Label:           "source",
				Kind:            domain.VariantVideo,
				Width:           vs.Width,
				Height:          vs.Height,
				BitrateKbps:     12000,
				CodecStrategy:   "hevc",
				IsSDR:           false,
				AudioTrackIndex: -1,
			}}, variants...)
		}
	}

	stereoKbps := sv.EncodingSettings().AudioBitrate
	for _, as := range info.AudioStreams() {
		codec := sv.audioTargetCodec(as.Codec)
		v := domain.Variant{
			Label:           domain.AudioLabel(as.Index, codec),
			Kind:            domain.VariantAudio,
			CodecStrategy:   codec,
			AudioTrackIndex: as.Index,
			Channels:        as.Channels,
			SampleRate:      as.SampleRate,
			BitrateKbps:     audioBitrateKbps(as.Channels, stereoKbps),
		}
		if strings.EqualFold(codec, as.Codec) {
			v.CodecStrategy = "copy"
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// audioTargetCodec keeps the source codec when browsers can play it,
// otherwise falls back to AAC.
func (sv *Supervisor) audioTargetCodec(source string) string {
	source = strings.ToLower(source)
	for _, c := range sv.cfg.WebSupportedCodecs {
		if strings.EqualFold(c, source) {
			return source
		}
	}
	return "aac"
}

// resolveVariant canonicalizes the label against the video's known
// variants. Case differences are tolerated with a warning.
func (sv *Supervisor) resolveVariant(ctx context.Context, videoID domain.VideoID, label string) (domain.Variant, error) {
	variants, err := sv.Variants(ctx, videoID)
	if err != nil {
		return domain.Variant{}, err
	}
	for _, v := range variants {
		if v.Label == label {
			return v, nil
		}
	}
	for _, v := range variants {
		if strings.EqualFold(v.Label, label) {
			sv.log.Warn("variant label canonicalized", "video", videoID, "requested", label, "canonical", v.Label)
			return v, nil
		}
	}
	return domain.Variant{}, fmt.Errorf("%w: unknown variant %q", domain.ErrNotFound, label)
}

// segmentExtension picks the container per variant: fMP4 for HEVC output,
// MPEG-TS otherwise.
func segmentExtension(v domain.Variant) string {
	if v.CodecStrategy == "hevc" {
		return ".m4s"
	}
	return ".ts"
}

// planGrid plans (or returns the cached) segment grid for a video.
func (sv *Supervisor) planGrid(ctx context.Context, videoID domain.VideoID) (*domain.Grid, error) {
	info, _, err := sv.mediaInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	grid, err := sv.planner.Plan(videoID, info, sv.SegmentSeconds())
	if err != nil {
		return nil, err
	}
	if grid.Approximate {
		metrics.GridPlansTotal.WithLabelValues("approximate").Inc()
	} else {
		metrics.GridPlansTotal.WithLabelValues("aligned").Inc()
	}
	return grid, nil
}

// EnsureVariantPlaylist returns the path of the variant's media playlist,
// writing it on first request.
func (sv *Supervisor) EnsureVariantPlaylist(ctx context.Context, videoID domain.VideoID, label string) (string, error) {
	if !sv.Enabled() {
		return "", domain.ErrDisabled
	}
	variant, err := sv.resolveVariant(ctx, videoID, label)
	if err != nil {
		return "", err
	}
	grid, err := sv.planGrid(ctx, videoID)
	if err != nil {
		return "", err
	}

	opts := PlaylistOptions{Extension: segmentExtension(variant)}
	if !variant.IsAudio() {
		info, _, err := sv.mediaInfo(ctx, videoID)
		if err != nil {
			return "", err
		}
		if variant.IsSDR {
			opts.VideoRange = "SDR"
		} else {
			opts.VideoRange = info.VideoRange()
		}
	}
	return sv.builder.Ensure(grid, variant.Label, opts)
}

// MasterPlaylist renders the top-level playlist referencing every variant.
func (sv *Supervisor) MasterPlaylist(ctx context.Context, videoID domain.VideoID) (string, error) {
	if !sv.Enabled() {
		return "", domain.ErrDisabled
	}
	variants, err := sv.Variants(ctx, videoID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")

	hasAudio := false
	for _, v := range variants {
		if !v.IsAudio() {
			continue
		}
		hasAudio = true
		name := fmt.Sprintf("Audio %d", v.AudioTrackIndex+1)
		def := "NO"
		if v.AudioTrackIndex == 0 {
			def = "YES"
		}
		codec := v.CodecStrategy
		if codec == "copy" {
			_, codec, _ = domain.ParseAudioLabel(v.Label)
		}
		fmt.Fprintf(&sb,
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"audio\",NAME=%q,DEFAULT=%s,AUTOSELECT=YES,URI=\"audio/track_%d_%s/playlist.m3u8\"\n",
			name, def, v.AudioTrackIndex, codec)
	}

	ordered := make([]domain.Variant, 0, len(variants))
	for _, v := range variants {
		if !v.IsAudio() {
			ordered = append(ordered, v)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Height > ordered[j].Height })

	for _, v := range ordered {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d", v.BitrateKbps*1000, v.Width, v.Height)
		if hasAudio {
			sb.WriteString(",AUDIO=\"audio\"")
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%s/playlist.m3u8\n", v.Label)
	}
	return sb.String(), nil
}

func (sv *Supervisor) entry(key sessionKey) *sessionEntry {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	e, ok := sv.sessions[key]
	if !ok {
		e = &sessionEntry{}
		sv.sessions[key] = e
	}
	return e
}

// EnsureSegment guarantees the requested segment exists on disk and
// returns its path. It reuses the live session when possible, restarts on
// detected seeks, and blocks until the segment is stable or the readiness
// deadline passes.
func (sv *Supervisor) EnsureSegment(ctx context.Context, videoID domain.VideoID, label string, segment int) (string, error) {
	if !sv.Enabled() {
		return "", domain.ErrDisabled
	}
	variant, err := sv.resolveVariant(ctx, videoID, label)
	if err != nil {
		return "", err
	}
	grid, err := sv.planGrid(ctx, videoID)
	if err != nil {
		return "", err
	}
	if segment < 0 || segment >= len(grid.Segments) {
		return "", fmt.Errorf("%w: segment %d out of range [0,%d)", domain.ErrNotFound, segment, len(grid.Segments))
	}

	sv.viewers.Update(videoID, variant.Label, segment)

	key := sessionKey{videoID: videoID, label: variant.Label}
	ext := segmentExtension(variant)
	dir := sv.builder.OutputDir(videoID, variant.Label)
	path := filepath.Join(dir, segmentFileName(segment, ext))

	e := sv.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()

	// Segments left on disk by an earlier session are served directly.
	if e.session == nil {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			_ = touchSessionLock(dir)
			metrics.SegmentRequestsTotal.WithLabelValues("cached").Inc()
			return path, nil
		}
	}

	restarted := false
	if e.session != nil {
		switch {
		case e.session.DetectSeek(segment):
			sv.log.Info("seek detected, restarting session",
				"video", videoID, "label", variant.Label, "segment", segment)
			e.session.Stop()
			e.session = nil
			restarted = true
			metrics.SeekRestartsTotal.Inc()
		case e.session.State() == StatePaused, e.session.State() == StateFinished:
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				_ = touchSessionLock(dir)
				metrics.SegmentRequestsTotal.WithLabelValues("cached").Inc()
				return path, nil
			}
			e.session = nil
		}
	}

	if e.session == nil {
		s, err := sv.startSession(ctx, key, grid, variant, segment)
		if err != nil {
			metrics.SegmentRequestsTotal.WithLabelValues("error").Inc()
			return "", err
		}
		e.session = s
		e.restarted = e.restarted || restarted
	}

	err = e.session.WaitForSegment(ctx, segment)
	metrics.SegmentWaitDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			metrics.SegmentTimeoutsTotal.Inc()
		}
		metrics.SegmentRequestsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	if ext == ".ts" {
		if e.restarted {
			sv.fixer.Fix(videoID, variant.Label, path)
			metrics.PostProcessedSegmentsTotal.Inc()
		} else {
			sv.fixer.Observe(videoID, variant.Label, path)
		}
	}
	metrics.SegmentRequestsTotal.WithLabelValues("ok").Inc()
	return path, nil
}

// EnsureInitSegment guarantees the fMP4 init segment exists by driving the
// session to produce segment 0, then returns the init file path.
func (sv *Supervisor) EnsureInitSegment(ctx context.Context, videoID domain.VideoID, label string) (string, error) {
	variant, err := sv.resolveVariant(ctx, videoID, label)
	if err != nil {
		return "", err
	}
	dir := sv.builder.OutputDir(videoID, variant.Label)
	initPath := filepath.Join(dir, initFileName)
	if info, err := os.Stat(initPath); err == nil && info.Size() > 0 {
		return initPath, nil
	}
	if _, err := sv.EnsureSegment(ctx, videoID, label, 0); err != nil {
		return "", err
	}
	if _, err := os.Stat(initPath); err != nil {
		return "", fmt.Errorf("%w: init segment missing", domain.ErrNotFound)
	}
	return initPath, nil
}

// EnsureExplicitSegment transcodes exactly the window named by the ticks
// pair in a one-shot run, bypassing the streaming session. Used when the
// client supplies explicit offsets that do not line up with a live session.
func (sv *Supervisor) EnsureExplicitSegment(ctx context.Context, videoID domain.VideoID, label string, segment int, runtimeTicks, lengthTicks int64) (string, error) {
	if !sv.Enabled() {
		return "", domain.ErrDisabled
	}
	if runtimeTicks < 0 || lengthTicks <= 0 {
		return "", fmt.Errorf("%w: invalid tick window", domain.ErrBadRequest)
	}
	variant, err := sv.resolveVariant(ctx, videoID, label)
	if err != nil {
		return "", err
	}
	info, input, err := sv.mediaInfo(ctx, videoID)
	if err != nil {
		return "", err
	}

	ext := segmentExtension(variant)
	dir := sv.builder.OutputDir(videoID, variant.Label)
	path := filepath.Join(dir, segmentFileName(segment, ext))
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create variant dir: %v", domain.ErrIO, err)
	}

	enc := sv.EncodingSettings()
	args := buildExplicitSegmentArgs(input, variant, runtimeTicks, lengthTicks, enc.Preset, enc.CRF, sourceTraitsOf(info), path)

	runCtx, cancel := context.WithTimeout(ctx, segmentWaitFarTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, sv.cfg.FFmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(path)
		if runCtx.Err() != nil {
			return "", fmt.Errorf("%w: explicit segment %d", domain.ErrTimeout, segment)
		}
		detail := strings.TrimSpace(string(out))
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		return "", fmt.Errorf("%w: %s", domain.ErrTranscodeFailed, detail)
	}
	_ = touchSessionLock(dir)
	return path, nil
}

func (sv *Supervisor) startSession(ctx context.Context, key sessionKey, grid *domain.Grid, variant domain.Variant, segment int) (*session, error) {
	info, input, err := sv.mediaInfo(ctx, key.videoID)
	if err != nil {
		return nil, err
	}
	enc := sv.EncodingSettings()
	cfg := sessionConfig{
		FFmpegPath:       sv.cfg.FFmpegPath,
		InputPath:        input,
		OutputDir:        sv.builder.OutputDir(key.videoID, key.label),
		Extension:        segmentExtension(variant),
		Preset:           enc.Preset,
		CRF:              enc.CRF,
		HardwareEnabled:  sv.cfg.HardwareEnabled,
		HwAccelType:      sv.cfg.HwAccelType,
		PreserveOnStop:   sv.cfg.PreserveSegments,
		PreservePlaylist: sv.cfg.PreserveFFmpegPlaylist,
		Source:           sourceTraitsOf(info),
	}

	s := newSession(key, grid, variant, cfg, sv.prober, sv.hwPool, sv.log)
	if err := s.Start(ctx, segment); err != nil {
		return nil, err
	}

	metrics.SessionStartsTotal.WithLabelValues(string(variant.Kind)).Inc()
	metrics.ActiveSessions.Inc()
	if sv.hwPool != nil {
		metrics.HwSlotsInUse.Set(float64(sv.hwPool.InUse()))
	}
	sv.publish(Event{Type: "session_started", VideoID: string(key.videoID), Label: key.label, State: s.State().String()})

	go sv.watchSession(key, s)
	return s, nil
}

// watchSession publishes the terminal event once the child exits.
func (sv *Supervisor) watchSession(key sessionKey, s *session) {
	<-s.done
	metrics.ActiveSessions.Dec()
	if sv.hwPool != nil {
		metrics.HwSlotsInUse.Set(float64(sv.hwPool.InUse()))
	}
	switch s.State() {
	case StateFailed:
		metrics.SessionFailuresTotal.Inc()
		sv.publish(Event{Type: "session_failed", VideoID: string(key.videoID), Label: key.label, State: "failed", Detail: s.ErrorMessage()})
	case StatePaused:
		sv.publish(Event{Type: "session_paused", VideoID: string(key.videoID), Label: key.label, State: "paused"})
	default:
		sv.publish(Event{Type: "session_stopped", VideoID: string(key.videoID), Label: key.label, State: s.State().String()})
	}
}

// StopSession terminates the session for one variant, if any.
func (sv *Supervisor) StopSession(videoID domain.VideoID, label string) {
	key := sessionKey{videoID: videoID, label: label}
	e := sv.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Stop()
		e.session = nil
	}
}

// StopAll terminates every live session. Called on shutdown.
func (sv *Supervisor) StopAll() {
	sv.mu.Lock()
	entries := make([]*sessionEntry, 0, len(sv.sessions))
	for _, e := range sv.sessions {
		entries = append(entries, e)
	}
	sv.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *sessionEntry) {
			defer wg.Done()
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.session != nil {
				e.session.Stop()
				e.session = nil
			}
		}(e)
	}
	wg.Wait()
}

// PauseIdle suspends running sessions whose viewers have gone quiet for
// longer than threshold. Output stays on disk for cheap resumption.
func (sv *Supervisor) PauseIdle(threshold time.Duration) int {
	paused := 0
	for key, e := range sv.snapshotEntries() {
		e.mu.Lock()
		s := e.session
		if s != nil && s.State() == StateRunning {
			idle, tracked := sv.viewers.IdleFor(key.videoID, key.label)
			if !tracked {
				idle = s.Age()
			}
			if idle >= threshold {
				s.Pause()
				paused++
				metrics.PausedSessionsTotal.Inc()
				sv.log.Info("session paused for inactivity", "video", key.videoID, "label", key.label, "idle", idle)
			}
		}
		e.mu.Unlock()
	}
	return paused
}

// CleanupInactive tears down sessions idle beyond threshold and reclaims
// their intermediate output.
func (sv *Supervisor) CleanupInactive(threshold time.Duration) int {
	cleaned := 0
	for key, e := range sv.snapshotEntries() {
		e.mu.Lock()
		s := e.session
		if s == nil {
			e.mu.Unlock()
			continue
		}
		idle, tracked := sv.viewers.IdleFor(key.videoID, key.label)
		if !tracked {
			if age, ok := sessionLockAge(sv.builder.OutputDir(key.videoID, key.label), time.Now()); ok {
				idle = age
			} else {
				idle = s.Age()
			}
		}
		if idle >= threshold {
			s.Stop()
			e.session = nil
			e.restarted = false
			cleaned++
			metrics.CleanupStopsTotal.Inc()
			sv.viewers.Remove(key.videoID, key.label)
			sv.fixer.Forget(key.videoID, key.label)
			sv.log.Info("session reclaimed for inactivity", "video", key.videoID, "label", key.label, "idle", idle)
		}
		e.mu.Unlock()
	}

	sv.mu.Lock()
	for key, e := range sv.sessions {
		e.mu.Lock()
		empty := e.session == nil
		e.mu.Unlock()
		if empty {
			delete(sv.sessions, key)
		}
	}
	sv.mu.Unlock()
	return cleaned
}

func (sv *Supervisor) snapshotEntries() map[sessionKey]*sessionEntry {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[sessionKey]*sessionEntry, len(sv.sessions))
	for k, e := range sv.sessions {
		out[k] = e
	}
	return out
}

// SessionStatus is one row of the health snapshot.
type SessionStatus struct {
	VideoID       string  `json:"videoId"`
	Label         string  `json:"label"`
	State         string  `json:"state"`
	StartSegment  int     `json:"startSegment"`
	LatestSegment int     `json:"latestSegment"`
	AgeSeconds    float64 `json:"ageSeconds"`
	Error         string  `json:"error,omitempty"`
}

// HealthSnapshot summarizes the supervisor for the health endpoint and the
// event stream.
type HealthSnapshot struct {
	Enabled        bool            `json:"enabled"`
	ActiveSessions int             `json:"activeSessions"`
	HwSlotsInUse   int             `json:"hwSlotsInUse"`
	TrackedViewers int             `json:"trackedViewers"`
	Sessions       []SessionStatus `json:"sessions"`
}

// Health returns the current supervisor snapshot.
func (sv *Supervisor) Health() HealthSnapshot {
	snap := HealthSnapshot{
		Enabled:        sv.Enabled(),
		TrackedViewers: sv.viewers.Count(),
	}
	if sv.hwPool != nil {
		snap.HwSlotsInUse = sv.hwPool.InUse()
	}
	for key, e := range sv.snapshotEntries() {
		e.mu.Lock()
		s := e.session
		e.mu.Unlock()
		if s == nil {
			continue
		}
		state := s.State()
		if state == StateRunning || state == StateStarting {
			snap.ActiveSessions++
		}
		snap.Sessions = append(snap.Sessions, SessionStatus{
			VideoID:       string(key.videoID),
			Label:         key.label,
			State:         state.String(),
			StartSegment:  s.StartSegment(),
			LatestSegment: s.LatestSegment(),
			AgeSeconds:    s.Age().Seconds(),
			Error:         s.ErrorMessage(),
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		if snap.Sessions[i].VideoID != snap.Sessions[j].VideoID {
			return snap.Sessions[i].VideoID < snap.Sessions[j].VideoID
		}
		return snap.Sessions[i].Label < snap.Sessions[j].Label
	})
	return snap
}
