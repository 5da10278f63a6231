package hls

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const stderrRingSize = 64 * 1024

// progressTracker consumes a transcoder's stderr line stream, keeping a
// bounded tail for diagnostics, the most recent time= offset, and any lines
// that look like errors.
type progressTracker struct {
	mu         sync.Mutex
	ring       []byte
	elapsedSec float64
	errorLines []string
}

var (
	timeRe  = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})\.(\d+)`)
	errorRe = regexp.MustCompile(`(?i)\b(Error|Invalid|Failed|Cannot|Unsupported)\b`)
)

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

// consume reads r to EOF. ffmpeg emits progress with \r, so split on both
// CR and LF.
func (p *progressTracker) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 256*1024)
	sc.Split(scanCRLFLines)
	for sc.Scan() {
		p.observeLine(sc.Text())
	}
}

func (p *progressTracker) observeLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.ring = append(p.ring, line...)
	p.ring = append(p.ring, '\n')
	if over := len(p.ring) - stderrRingSize; over > 0 {
		p.ring = p.ring[over:]
	}

	if sec, ok := parseProgressTime(line); ok {
		p.elapsedSec = sec
	}
	if errorRe.MatchString(line) && len(p.errorLines) < 32 {
		p.errorLines = append(p.errorLines, line)
	}
}

// ElapsedSeconds returns the most recent media time reported by the
// transcoder, relative to its own output clock.
func (p *progressTracker) ElapsedSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsedSec
}

// ErrorSummary joins the collected error-looking lines, or returns the
// stderr tail when none matched.
func (p *progressTracker) ErrorSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errorLines) > 0 {
		return strings.Join(p.errorLines, "; ")
	}
	tail := p.ring
	if len(tail) > 512 {
		tail = tail[len(tail)-512:]
	}
	return strings.TrimSpace(string(tail))
}

// Tail returns the retained stderr tail.
func (p *progressTracker) Tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.ring)
}

// parseProgressTime extracts the time=HH:MM:SS.mmm offset from a progress
// line and converts it to seconds.
func parseProgressTime(line string) (float64, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	frac, _ := strconv.ParseFloat("0."+m[4], 64)
	return float64(hours*3600+minutes*60+seconds) + frac, true
}

// scanCRLFLines is a bufio.SplitFunc treating both \r and \n as line
// terminators.
func scanCRLFLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
