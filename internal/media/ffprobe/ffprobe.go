// Package ffprobe shells out to ffprobe to read stream metadata from
// source files.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"jitstream/internal/domain"
)

type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

const maxProbeTimeout = 30 * time.Second

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}

	out, err := p.run(ctx, []string{
		"-v", "quiet",
		"-probesize", "100M",
		"-analyzeduration", "100M",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	})
	if err != nil {
		return domain.MediaInfo{}, err
	}

	info, err := parseProbeOutput(out)
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	return info, nil
}

// NearestKeyframe scans the keyframes in a window before target and returns
// the timestamp of the last one at or before it. A miss returns 0, which
// restarts encoding from the file start.
func (p *Prober) NearestKeyframe(ctx context.Context, filePath string, target float64) (float64, error) {
	if target <= 0 {
		return 0, nil
	}
	windowStart := target - 30
	if windowStart < 0 {
		windowStart = 0
	}
	out, err := p.run(ctx, []string{
		"-v", "quiet",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pts_time",
		"-of", "csv=p=0",
		"-read_intervals", fmt.Sprintf("%.3f%%%.3f", windowStart, target+0.5),
		filePath,
	})
	if err != nil {
		return 0, err
	}

	best := 0.0
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ",")
		if line == "" {
			continue
		}
		ts, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		if ts <= target && ts > best {
			best = ts
		}
	}
	return best, nil
}

func (p *Prober) run(ctx context.Context, args []string) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// ffprobe exits non-zero for damaged files but may still emit
		// usable JSON on stdout. Keep the output if we have any.
		if stdout.Len() == 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return nil, fmt.Errorf("ffprobe failed: %w", err)
			}
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, msg)
		}
	}
	return stdout.Bytes(), nil
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Profile        string            `json:"profile"`
	Level          int               `json:"level"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	PixFmt         string            `json:"pix_fmt"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	AvgFrameRate   string            `json:"avg_frame_rate"`
	RFrameRate     string            `json:"r_frame_rate"`
	Channels       int               `json:"channels"`
	SampleRate     string            `json:"sample_rate"`
	Duration       string            `json:"duration"`
	Tags           map[string]string `json:"tags"`
	Disposition    struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	streams := make([]domain.MediaStream, 0, len(payload.Streams))
	videoIndex := 0
	audioIndex := 0
	subtitleIndex := 0

	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			streams = append(streams, domain.MediaStream{
				Index:          videoIndex,
				Type:           "video",
				Codec:          stream.CodecName,
				Profile:        stream.Profile,
				Level:          stream.Level,
				Width:          stream.Width,
				Height:         stream.Height,
				FPS:            parseFrameRate(stream.AvgFrameRate, stream.RFrameRate),
				PixFmt:         stream.PixFmt,
				ColorTransfer:  stream.ColorTransfer,
				ColorPrimaries: stream.ColorPrimaries,
				Duration:       parseFloatField(stream.Duration),
				Language:       strings.TrimSpace(getTag(stream.Tags, "language")),
				Title:          strings.TrimSpace(getTag(stream.Tags, "title")),
				Default:        stream.Disposition.Default == 1,
			})
			videoIndex++
		case "audio":
			streams = append(streams, domain.MediaStream{
				Index:      audioIndex,
				Type:       "audio",
				Codec:      stream.CodecName,
				Profile:    stream.Profile,
				Channels:   stream.Channels,
				SampleRate: parseIntField(stream.SampleRate),
				Duration:   parseFloatField(stream.Duration),
				Language:   strings.TrimSpace(getTag(stream.Tags, "language")),
				Title:      strings.TrimSpace(getTag(stream.Tags, "title")),
				Default:    stream.Disposition.Default == 1,
			})
			audioIndex++
		case "subtitle":
			streams = append(streams, domain.MediaStream{
				Index:    subtitleIndex,
				Type:     "subtitle",
				Codec:    stream.CodecName,
				Language: strings.TrimSpace(getTag(stream.Tags, "language")),
				Title:    strings.TrimSpace(getTag(stream.Tags, "title")),
				Default:  stream.Disposition.Default == 1,
			})
			subtitleIndex++
		}
	}

	info := domain.MediaInfo{
		Streams:   streams,
		Duration:  parseFloatField(payload.Format.Duration),
		StartTime: parseFloatField(payload.Format.StartTime),
	}

	// Some containers (e.g. raw streams) omit the format duration; fall
	// back to the longest per-stream duration.
	if info.Duration <= 0 {
		for _, s := range streams {
			if s.Duration > info.Duration {
				info.Duration = s.Duration
			}
		}
	}
	return info, nil
}

// parseFrameRate parses ffprobe's "num/den" frame rate, preferring the
// average rate and falling back to the raw rate.
func parseFrameRate(avg, raw string) float64 {
	if fps := parseRational(avg); fps > 0 {
		return fps
	}
	return parseRational(raw)
}

func parseRational(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseFloatField(value string) float64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func parseIntField(value string) int {
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	return ""
}
