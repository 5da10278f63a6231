package hls

import (
	"os"
	"path/filepath"
	"testing"
)

const testPMTPID = 0x1000

// buildPAT builds a minimal single-program PAT packet pointing at
// testPMTPID.
func buildPAT(cc byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = 0x40 // payload_unit_start, PID 0
	pkt[2] = 0x00
	pkt[3] = 0x10 | cc&0x0F // payload only
	pkt[4] = 0x00           // pointer field
	// table_id + section fields
	pkt[5] = 0x00
	pkt[6] = 0xB0
	pkt[7] = 0x0D
	pkt[8], pkt[9] = 0x00, 0x01 // transport_stream_id
	pkt[10] = 0xC1
	pkt[11], pkt[12] = 0x00, 0x00
	// program loop: program 1 -> PMT PID
	pkt[13], pkt[14] = 0x00, 0x01
	pkt[15] = 0xE0 | byte(testPMTPID>>8)
	pkt[16] = byte(testPMTPID & 0xFF)
	for i := 17; i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func buildPacket(pid uint16, cc byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = byte(pid >> 8)
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 | cc&0x0F
	for i := 4; i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func writeTS(t *testing.T, dir, name string, packets ...[]byte) string {
	t.Helper()
	var data []byte
	for _, p := range packets {
		data = append(data, p...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readCC(t *testing.T, path string, packetIndex int) byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data[packetIndex*tsPacketSize+3] & 0x0F
}

func TestParsePMTPID(t *testing.T) {
	pid, ok := parsePMTPID(buildPAT(0))
	if !ok || pid != testPMTPID {
		t.Fatalf("pmt pid = %#x ok = %v, want %#x", pid, ok, testPMTPID)
	}
}

func TestReadTrailingCounters(t *testing.T) {
	dir := t.TempDir()
	const videoPID = 0x100
	path := writeTS(t, dir, "000.ts",
		buildPAT(0),
		buildPacket(videoPID, 3),
		buildPacket(videoPID, 4),
		buildPacket(testPMTPID, 9), // PMT excluded
		buildPacket(videoPID, 5),
	)

	counters, err := readTrailingCounters(path)
	if err != nil {
		t.Fatal(err)
	}
	if counters[videoPID] != 5 {
		t.Fatalf("video cc = %d, want 5", counters[videoPID])
	}
	if _, ok := counters[testPMTPID]; ok {
		t.Fatal("PMT PID must be excluded")
	}
	if _, ok := counters[patPID]; ok {
		t.Fatal("PAT PID must be excluded")
	}
}

func TestFixRebasesCounters(t *testing.T) {
	dir := t.TempDir()
	const videoPID = 0x100
	fixer := NewContinuityFixer()

	// Previous session's segment ends with cc=5.
	first := writeTS(t, dir, "004.ts",
		buildPAT(0),
		buildPacket(videoPID, 3),
		buildPacket(videoPID, 4),
		buildPacket(videoPID, 5),
	)
	fixer.Observe("vid", "720p", first)

	// Restarted encoder writes the next segment starting at cc=0.
	second := writeTS(t, dir, "005.ts",
		buildPAT(0),
		buildPacket(videoPID, 0),
		buildPacket(videoPID, 1),
		buildPacket(videoPID, 2),
	)
	fixer.Fix("vid", "720p", second)

	// Packet 1 is the first video packet; it must continue at prev+1=6.
	for i, want := range []byte{6, 7, 8} {
		if got := readCC(t, second, i+1); got != want {
			t.Fatalf("packet %d cc = %d, want %d", i+1, got, want)
		}
	}
}

func TestFixWrapsAt16(t *testing.T) {
	dir := t.TempDir()
	const videoPID = 0x100
	fixer := NewContinuityFixer()

	first := writeTS(t, dir, "000.ts",
		buildPAT(0),
		buildPacket(videoPID, 15),
	)
	fixer.Observe("vid", "720p", first)

	second := writeTS(t, dir, "001.ts",
		buildPAT(0),
		buildPacket(videoPID, 0),
		buildPacket(videoPID, 1),
	)
	fixer.Fix("vid", "720p", second)

	if got := readCC(t, second, 1); got != 0 {
		t.Fatalf("cc after 15 = %d, want wrap to 0", got)
	}
	if got := readCC(t, second, 2); got != 1 {
		t.Fatalf("second packet cc = %d, want 1", got)
	}
}

func TestFixWithoutPriorStateOnlyObserves(t *testing.T) {
	dir := t.TempDir()
	const videoPID = 0x100
	fixer := NewContinuityFixer()

	path := writeTS(t, dir, "000.ts",
		buildPAT(0),
		buildPacket(videoPID, 7),
	)
	fixer.Fix("vid", "720p", path)

	if got := readCC(t, path, 1); got != 7 {
		t.Fatalf("cc = %d, first segment must not be rewritten", got)
	}

	// The observed state now feeds the next fix.
	next := writeTS(t, dir, "001.ts",
		buildPAT(0),
		buildPacket(videoPID, 0),
	)
	fixer.Fix("vid", "720p", next)
	if got := readCC(t, next, 1); got != 8 {
		t.Fatalf("cc = %d, want 8", got)
	}
}

func TestFixSwallowsMissingFile(t *testing.T) {
	fixer := NewContinuityFixer()
	fixer.Fix("vid", "720p", "/does/not/exist.ts")
}

func TestFixLeavesUnknownPIDs(t *testing.T) {
	dir := t.TempDir()
	fixer := NewContinuityFixer()

	first := writeTS(t, dir, "000.ts", buildPAT(0), buildPacket(0x100, 5))
	fixer.Observe("vid", "720p", first)

	// Audio PID 0x101 has no remembered counter.
	second := writeTS(t, dir, "001.ts",
		buildPAT(0),
		buildPacket(0x100, 0),
		buildPacket(0x101, 9),
	)
	fixer.Fix("vid", "720p", second)

	if got := readCC(t, second, 1); got != 6 {
		t.Fatalf("known pid cc = %d, want 6", got)
	}
	if got := readCC(t, second, 2); got != 9 {
		t.Fatalf("unknown pid cc = %d, must be untouched", got)
	}
}

func TestRewriteRejectsMisalignedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ts")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rewriteContinuity(path, map[uint16]byte{0x100: 1}); err == nil {
		t.Fatal("misaligned file must be rejected")
	}
}
