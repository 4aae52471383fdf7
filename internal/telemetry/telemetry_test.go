package telemetry

import (
	"context"
	"testing"
)

func TestParseSampleRate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", defaultSampleRate},
		{"  ", defaultSampleRate},
		{"0", 0},
		{"1", 1},
		{"0.25", 0.25},
		{"1.5", defaultSampleRate},
		{"-0.1", defaultSampleRate},
		{"often", defaultSampleRate},
	}
	for _, tt := range tests {
		if got := parseSampleRate(tt.raw); got != tt.want {
			t.Errorf("parseSampleRate(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestTrimScheme(t *testing.T) {
	for in, want := range map[string]string{
		"http://collector:4318":  "collector:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
	} {
		if got := trimScheme(in); got != want {
			t.Errorf("trimScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "seekstream", nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
