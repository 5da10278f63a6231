package hls

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"jitstream/internal/domain"
	"jitstream/internal/domain/ports"
)

// sessionKey identifies one live session: a video plus a variant label.
type sessionKey struct {
	videoID domain.VideoID
	label   string
}

func (k sessionKey) String() string {
	return string(k.videoID) + "/" + k.label
}

// SessionState is the lifecycle phase of a transcoder session.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateRunning
	StatePaused
	StateFinished
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session timing knobs.
const (
	// seekAheadTolerance is how many segments past the transcoder's head a
	// request may point before it is treated as a seek.
	seekAheadTolerance = 10

	segmentWaitTimeout     = 9 * time.Second
	segmentWaitFarTimeout  = 15 * time.Second
	segmentPollInterval    = 50 * time.Millisecond
	segmentStabilityWindow = 200 * time.Millisecond
	stopGracePeriod        = 5 * time.Second
)

// sourceTraits are the probed input properties that shape the encoder
// arguments: whether the source is HDR (drives tonemapping for SDR
// variants) and whether it carries 10-bit pixels.
type sourceTraits struct {
	HDR    bool
	TenBit bool
}

func sourceTraitsOf(info domain.MediaInfo) sourceTraits {
	traits := sourceTraits{HDR: info.IsHDR()}
	if vs, ok := info.VideoStream(); ok {
		traits.TenBit = vs.Is10Bit()
	}
	return traits
}

// sessionConfig carries everything a session needs from its supervisor.
type sessionConfig struct {
	FFmpegPath       string
	InputPath        string
	OutputDir        string
	Extension        string
	Preset           string
	CRF              int
	HardwareEnabled  bool
	HwAccelType      string
	PreserveOnStop   bool
	PreservePlaylist bool
	Source           sourceTraits
}

// session owns one ffmpeg child process producing segments for a single
// (video, variant) pair.
type session struct {
	key     sessionKey
	grid    *domain.Grid
	variant domain.Variant
	cfg     sessionConfig

	prober ports.MediaProbe
	hwPool *HwSlotPool
	log    *slog.Logger

	mu            sync.Mutex
	state         SessionState
	startSegment  int
	adjustedStart float64 // media time where the encoder actually started
	errorMessage  string
	cmd           *exec.Cmd
	hwLeased      bool
	startedAt     time.Time

	progress *progressTracker
	done     chan struct{}
}

func newSession(key sessionKey, grid *domain.Grid, variant domain.Variant, cfg sessionConfig, prober ports.MediaProbe, hwPool *HwSlotPool, log *slog.Logger) *session {
	return &session{
		key:      key,
		grid:     grid,
		variant:  variant,
		cfg:      cfg,
		prober:   prober,
		hwPool:   hwPool,
		log:      log.With("session", key.String()),
		state:    StateStarting,
		progress: newProgressTracker(),
		done:     make(chan struct{}),
	}
}

// Start launches the transcoder at the sync point nearest to the requested
// segment's start time.
func (s *session) Start(ctx context.Context, requested int) error {
	if requested < 0 || requested >= len(s.grid.Segments) {
		return fmt.Errorf("%w: segment %d out of range", domain.ErrNotFound, requested)
	}

	targetSec := float64(s.grid.Segments[requested].StartTicks) / domain.TicksPerSecond

	start, err := s.nearestSyncPoint(ctx, targetSec)
	if err != nil {
		s.log.Warn("sync point lookup failed, starting at target", "error", err)
		start = targetSec
	}

	startSegment := s.grid.SegmentIndexAt(start)
	if startSegment > requested {
		startSegment = requested
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", domain.ErrIO, err)
	}

	useHardware := false
	if !s.variant.IsAudio() && s.cfg.HardwareEnabled && s.hwPool != nil {
		useHardware = s.hwPool.Acquire()
	}

	args := s.buildArgs(start, startSegment, useHardware)
	cmd := exec.Command(s.cfg.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		if useHardware {
			s.hwPool.Release()
		}
		return fmt.Errorf("%w: stderr pipe: %v", domain.ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		if useHardware {
			s.hwPool.Release()
		}
		return fmt.Errorf("%w: %v", domain.ErrSpawn, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.startSegment = startSegment
	s.adjustedStart = start
	s.hwLeased = useHardware
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := touchSessionLock(s.cfg.OutputDir); err != nil {
		s.log.Warn("session lock touch failed", "error", err)
	}

	s.log.Info("transcoder started",
		"requestedSegment", requested,
		"startSegment", startSegment,
		"startSeconds", start,
		"hardware", useHardware)

	go s.progress.consume(stderr)
	go s.reap(cmd)
	return nil
}

// nearestSyncPoint finds the latest point at or before target where the
// encoder can start cleanly: a keyframe for video, an AAC frame boundary
// for audio.
func (s *session) nearestSyncPoint(ctx context.Context, target float64) (float64, error) {
	if target <= 0 {
		return 0, nil
	}
	if s.variant.IsAudio() {
		sr := s.variant.SampleRate
		if sr <= 0 {
			sr = s.grid.AudioSampleRate
		}
		if sr <= 0 {
			return target, nil
		}
		frames := math.Floor(target * float64(sr) / 1024)
		return frames * 1024 / float64(sr), nil
	}
	kf, err := s.prober.NearestKeyframe(ctx, s.cfg.InputPath, target)
	if err != nil {
		return 0, err
	}
	if kf > target {
		kf = target
	}
	return kf, nil
}

func (s *session) buildArgs(start float64, startSegment int, useHardware bool) []string {
	if s.variant.IsAudio() {
		return buildAudioArgs(audioArgConfig{
			Input:          s.cfg.InputPath,
			StartSeconds:   start,
			StartSegment:   startSegment,
			SegmentSeconds: s.grid.SegmentSeconds,
			OutputDir:      s.cfg.OutputDir,
			TrackIndex:     s.variant.AudioTrackIndex,
			Codec:          s.variant.CodecStrategy,
			BitrateKbps:    s.variant.BitrateKbps,
			Channels:       s.variant.Channels,
			SampleRate:     s.variant.SampleRate,
		})
	}
	return buildVideoArgs(videoArgConfig{
		Input:          s.cfg.InputPath,
		StartSeconds:   start,
		StartSegment:   startSegment,
		SegmentSeconds: s.grid.SegmentSeconds,
		GopFrames:      int(s.grid.GopFrames),
		OutputDir:      s.cfg.OutputDir,
		Extension:      s.cfg.Extension,
		Codec:          s.variant.CodecStrategy,
		Width:          s.variant.Width,
		Height:         s.variant.Height,
		BitrateKbps:    s.variant.BitrateKbps,
		Preset:         s.cfg.Preset,
		CRF:            s.cfg.CRF,
		TonemapToSDR:   s.cfg.Source.HDR && s.variant.IsSDR,
		TenBitSource:   s.cfg.Source.TenBit,
		UseHardware:    useHardware,
		HwAccelType:    s.cfg.HwAccelType,
	})
}

// reap waits for the child and records the terminal state.
func (s *session) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hwLeased {
		s.hwPool.Release()
		s.hwLeased = false
	}

	switch s.state {
	case StatePaused, StateFinished:
		// Deliberate termination; keep the state set by Stop/Pause.
	default:
		if err != nil {
			s.state = StateFailed
			s.errorMessage = s.progress.ErrorSummary()
			s.log.Warn("transcoder exited with error", "error", err, "detail", s.errorMessage)
		} else {
			s.state = StateFinished
			s.log.Info("transcoder finished")
		}
	}
	close(s.done)
}

// State returns the current lifecycle phase.
func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorMessage returns the failure detail for failed sessions.
func (s *session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// StartSegment is the first segment this session produces.
func (s *session) StartSegment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startSegment
}

// LatestSegment estimates the newest fully written segment from the
// transcoder's reported media time. Returns -1 before any progress.
func (s *session) LatestSegment() int {
	s.mu.Lock()
	adjusted := s.adjustedStart
	s.mu.Unlock()

	elapsed := s.progress.ElapsedSeconds()
	if elapsed <= 0 {
		return -1
	}
	// The segment containing the head position is still open; the one
	// before it is complete.
	return s.grid.SegmentIndexAt(adjusted+elapsed) - 1
}

// DetectSeek reports whether the requested segment cannot be served by this
// session without a restart: it lies far ahead of the transcoder's head, or
// behind the session's start with the file absent. Failed sessions always
// require a restart.
func (s *session) DetectSeek(requested int) bool {
	state := s.State()
	if state == StateFailed {
		return true
	}
	if state != StateRunning && state != StateStarting {
		return false
	}

	latest := s.LatestSegment()
	if latest < 0 {
		latest = s.StartSegment() - 1
	}
	if requested > latest+seekAheadTolerance {
		return true
	}
	if requested < s.StartSegment() && !s.segmentExists(requested) {
		return true
	}
	return false
}

func (s *session) segmentExists(index int) bool {
	info, err := os.Stat(filepath.Join(s.cfg.OutputDir, segmentFileName(index, s.cfg.Extension)))
	return err == nil && info.Size() > 0
}

// WaitForSegment blocks until the requested segment exists on disk with a
// stable size, or the deadline passes. The deadline stretches when the
// request is far ahead of the transcoder's current head.
func (s *session) WaitForSegment(ctx context.Context, requested int) error {
	if requested < 0 || requested >= len(s.grid.Segments) {
		return fmt.Errorf("%w: segment %d out of range", domain.ErrNotFound, requested)
	}

	timeout := segmentWaitTimeout
	if latest := s.LatestSegment(); latest >= 0 && requested > latest+seekAheadTolerance {
		timeout = segmentWaitFarTimeout
	}
	deadline := time.Now().Add(timeout)

	path := filepath.Join(s.cfg.OutputDir, segmentFileName(requested, s.cfg.Extension))

	var lastSize int64 = -1
	var stableSince time.Time

	ticker := time.NewTicker(segmentPollInterval)
	defer ticker.Stop()

	for {
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			// The muxer has moved on once the next segment appears, so the
			// requested one is complete. The final segment has no successor
			// and relies on process exit or size stability.
			if s.segmentExists(requested+1) || s.processExited() {
				s.afterServe()
				return nil
			}
			if info.Size() == lastSize {
				if !stableSince.IsZero() && time.Since(stableSince) >= segmentStabilityWindow {
					s.afterServe()
					return nil
				}
				if stableSince.IsZero() {
					stableSince = time.Now()
				}
			} else {
				lastSize = info.Size()
				stableSince = time.Time{}
			}
		} else {
			lastSize = -1
			stableSince = time.Time{}
		}

		if state := s.State(); state == StateFailed {
			msg := s.ErrorMessage()
			if msg == "" {
				msg = "transcoder exited"
			}
			return fmt.Errorf("%w: %s", domain.ErrTranscodeFailed, msg)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: segment %d not ready after %s", domain.ErrTimeout, requested, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *session) processExited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) afterServe() {
	if err := touchSessionLock(s.cfg.OutputDir); err != nil {
		s.log.Debug("session lock touch failed", "error", err)
	}
}

// Stop terminates the child and removes intermediate output. The
// placeholder playlist is never deleted.
func (s *session) Stop() {
	s.terminate(StateFinished)
	if !s.cfg.PreserveOnStop {
		s.removeSegments()
	}
	if !s.cfg.PreservePlaylist {
		_ = os.Remove(filepath.Join(s.cfg.OutputDir, ffmpegPlaylistName))
	}
}

// Pause terminates the child but keeps all output so a resumed session can
// continue from the already transcoded segments.
func (s *session) Pause() {
	s.terminate(StatePaused)
}

func (s *session) terminate(next SessionState) {
	s.mu.Lock()
	cmd := s.cmd
	alreadyDone := s.state == StateFinished || s.state == StateFailed || s.state == StatePaused
	if !alreadyDone {
		s.state = next
	}
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || alreadyDone {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-s.done:
	case <-time.After(stopGracePeriod):
		s.log.Warn("transcoder ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-s.done
	}
}

func (s *session) removeSegments() {
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m4s") || name == initFileName {
			_ = os.Remove(filepath.Join(s.cfg.OutputDir, name))
		}
	}
}

// Age returns how long the session has existed.
func (s *session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
