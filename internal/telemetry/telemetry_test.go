package telemetry

import "testing"

func TestSampleRateParsing(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"", defaultSampleRate},
		{"0.5", 0.5},
		{"1", 1},
		{"0", 0},
		{"1.5", 1},
		{"-0.2", 0},
		{"garbage", defaultSampleRate},
	}
	for _, tc := range cases {
		t.Setenv("OTEL_TRACE_SAMPLE_RATE", tc.raw)
		if got := sampleRate(); got != tc.want {
			t.Errorf("sampleRate with %q = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestTrimScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318":  "collector:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
	}
	for raw, want := range cases {
		if got := trimScheme(raw); got != want {
			t.Errorf("trimScheme(%q) = %q, want %q", raw, got, want)
		}
	}
}
