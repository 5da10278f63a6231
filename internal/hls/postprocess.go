package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"jitstream/internal/domain"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	patPID       = 0
)

// ContinuityFixer rewrites MPEG-TS continuity counters so segments emitted
// by a restarted encoder splice cleanly after segments from the previous
// one. Without this, players see a counter discontinuity at every seek
// restart boundary. fMP4 segments never need it.
//
// Per-PID counters from the last served segment are remembered per session;
// a fixed segment has its counters rebased so each PID continues from the
// remembered value.
type ContinuityFixer struct {
	mu   sync.Mutex
	last map[sessionKey]map[uint16]byte
}

func NewContinuityFixer() *ContinuityFixer {
	return &ContinuityFixer{last: make(map[sessionKey]map[uint16]byte)}
}

// Observe records the trailing continuity counters of a segment that was
// served as-is.
func (f *ContinuityFixer) Observe(videoID domain.VideoID, label, path string) {
	counters, err := readTrailingCounters(path)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.last[sessionKey{videoID: videoID, label: label}] = counters
	f.mu.Unlock()
}

// Fix rebases the segment's continuity counters onto the remembered state
// and records the rewritten trailing counters. Errors are swallowed: a
// segment with a counter glitch still plays, a missing segment does not.
func (f *ContinuityFixer) Fix(videoID domain.VideoID, label, path string) {
	key := sessionKey{videoID: videoID, label: label}

	f.mu.Lock()
	prev := f.last[key]
	f.mu.Unlock()

	if len(prev) == 0 {
		f.Observe(videoID, label, path)
		return
	}
	if err := rewriteContinuity(path, prev); err != nil {
		return
	}
	f.Observe(videoID, label, path)
}

// Forget drops the remembered state for a session, typically after its
// output directory is reclaimed.
func (f *ContinuityFixer) Forget(videoID domain.VideoID, label string) {
	f.mu.Lock()
	delete(f.last, sessionKey{videoID: videoID, label: label})
	f.mu.Unlock()
}

func tsPacketPID(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

func tsPacketHasPayload(pkt []byte) bool {
	return pkt[3]&0x10 != 0
}

func tsPacketCC(pkt []byte) byte {
	return pkt[3] & 0x0F
}

func setTSPacketCC(pkt []byte, cc byte) {
	pkt[3] = pkt[3]&0xF0 | cc&0x0F
}

// parsePMTPID extracts the first program's PMT PID from a PAT packet.
func parsePMTPID(pkt []byte) (uint16, bool) {
	if !tsPacketHasPayload(pkt) {
		return 0, false
	}
	offset := 4
	// Skip the adaptation field when present.
	if pkt[3]&0x20 != 0 {
		offset += 1 + int(pkt[4])
	}
	if offset >= tsPacketSize {
		return 0, false
	}
	// Pointer field precedes the table on payload-start packets.
	if pkt[1]&0x40 != 0 {
		offset += 1 + int(pkt[offset])
	}
	// table_id(1) + section fields(7) = 8 bytes before the program loop.
	loop := offset + 8
	for loop+4 <= tsPacketSize-4 {
		program := uint16(pkt[loop])<<8 | uint16(pkt[loop+1])
		pid := uint16(pkt[loop+2]&0x1F)<<8 | uint16(pkt[loop+3])
		if program != 0 {
			return pid, true
		}
		loop += 4
	}
	return 0, false
}

// readTrailingCounters returns the last continuity counter seen for each
// elementary PID in the segment. PAT and PMT packets are excluded; their
// counters restart per segment and players tolerate that.
func readTrailingCounters(path string) (map[uint16]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%tsPacketSize != 0 {
		return nil, fmt.Errorf("not a packet-aligned transport stream: %d bytes", len(data))
	}

	pmtPID := uint16(0xFFFF)
	counters := make(map[uint16]byte)
	for off := 0; off+tsPacketSize <= len(data); off += tsPacketSize {
		pkt := data[off : off+tsPacketSize]
		if pkt[0] != tsSyncByte {
			return nil, fmt.Errorf("lost sync at offset %d", off)
		}
		pid := tsPacketPID(pkt)
		if pid == patPID {
			if p, ok := parsePMTPID(pkt); ok {
				pmtPID = p
			}
			continue
		}
		if pid == pmtPID || !tsPacketHasPayload(pkt) {
			continue
		}
		counters[pid] = tsPacketCC(pkt)
	}
	return counters, nil
}

// rewriteContinuity rebases every elementary PID's counters so they follow
// the previous segment's trailing values: the first payload packet of a PID
// becomes prev+1, later packets keep their relative spacing. The rewrite is
// atomic via a temp sibling.
func rewriteContinuity(path string, prev map[uint16]byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%tsPacketSize != 0 {
		return fmt.Errorf("not a packet-aligned transport stream: %d bytes", len(data))
	}

	pmtPID := uint16(0xFFFF)
	firstCC := make(map[uint16]byte)
	changed := false

	for off := 0; off+tsPacketSize <= len(data); off += tsPacketSize {
		pkt := data[off : off+tsPacketSize]
		if pkt[0] != tsSyncByte {
			return fmt.Errorf("lost sync at offset %d", off)
		}
		pid := tsPacketPID(pkt)
		if pid == patPID {
			if p, ok := parsePMTPID(pkt); ok {
				pmtPID = p
			}
			continue
		}
		if pid == pmtPID || !tsPacketHasPayload(pkt) {
			continue
		}
		base, known := prev[pid]
		if !known {
			continue
		}
		first, seen := firstCC[pid]
		if !seen {
			first = tsPacketCC(pkt)
			firstCC[pid] = first
		}
		cc := (base + 1 + (tsPacketCC(pkt) - first)) & 0x0F
		if cc != tsPacketCC(pkt) {
			setTSPacketCC(pkt, cc)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
