package domain

import "testing"

func TestAudioLabelRoundTrip(t *testing.T) {
	label := AudioLabel(2, "AAC")
	if label != "audio_2_aac" {
		t.Fatalf("AudioLabel = %q", label)
	}
	idx, codec, ok := ParseAudioLabel(label)
	if !ok || idx != 2 || codec != "aac" {
		t.Errorf("ParseAudioLabel = %d, %q, %v", idx, codec, ok)
	}
}

func TestParseAudioLabelRejects(t *testing.T) {
	for _, label := range []string{"720p", "audio_", "audio_x_aac", "audio_-1_aac", "audio_0_", "track_0_aac"} {
		if IsAudioLabel(label) {
			t.Errorf("IsAudioLabel(%q) = true", label)
		}
	}
}

func TestParseAudioLabelCodecWithUnderscore(t *testing.T) {
	idx, codec, ok := ParseAudioLabel("audio_1_e_ac3")
	if !ok || idx != 1 || codec != "e_ac3" {
		t.Errorf("ParseAudioLabel = %d, %q, %v", idx, codec, ok)
	}
}

func TestGridSegmentIndexAt(t *testing.T) {
	g := &Grid{Segments: []SegmentDescriptor{
		{Index: 0, StartTicks: 0, DurationTicks: 6 * TicksPerSecond},
		{Index: 1, StartTicks: 6 * TicksPerSecond, DurationTicks: 6 * TicksPerSecond},
		{Index: 2, StartTicks: 12 * TicksPerSecond, DurationTicks: 4 * TicksPerSecond},
	}}

	cases := []struct {
		seconds float64
		want    int
	}{
		{-1, 0},
		{0, 0},
		{5.999, 0},
		{6, 1},
		{11.5, 1},
		{12, 2},
		{15.9, 2},
		{100, 2},
	}
	for _, tc := range cases {
		if got := g.SegmentIndexAt(tc.seconds); got != tc.want {
			t.Errorf("SegmentIndexAt(%v) = %d, want %d", tc.seconds, got, tc.want)
		}
	}

	if got := g.DurationSeconds(); got != 16 {
		t.Errorf("DurationSeconds = %v, want 16", got)
	}
}

func TestGridEmpty(t *testing.T) {
	g := &Grid{}
	if g.DurationSeconds() != 0 {
		t.Error("empty grid duration should be 0")
	}
	if g.SegmentIndexAt(3) != 0 {
		t.Error("empty grid index should be 0")
	}
}
