package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{p: 0, want: time.Millisecond},
		{p: percentileP50, want: 50 * time.Millisecond},
		{p: percentileP95, want: 95 * time.Millisecond},
		{p: percentileP99, want: 99 * time.Millisecond},
		{p: 1, want: 100 * time.Millisecond},
	}
	for _, test := range tests {
		if got := percentile(samples, test.p); got != test.want {
			t.Fatalf("percentile(%v) = %s, want %s", test.p, got, test.want)
		}
	}
	if got := percentile(nil, percentileP50); got != 0 {
		t.Fatalf("percentile of empty = %s", got)
	}
}

func TestBatchStatsSnapshot(t *testing.T) {
	var stats batchStats
	for _, d := range []time.Duration{3 * time.Millisecond, time.Millisecond, 0, 2 * time.Millisecond} {
		stats.Add(d)
	}

	snap := stats.Snapshot()
	if snap.Count != 3 {
		t.Fatalf("count = %d, want 3 (zero durations are ignored)", snap.Count)
	}
	if snap.Max != 3*time.Millisecond || snap.Mean != 2*time.Millisecond || snap.P50 != 2*time.Millisecond {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestBenchMetricsCancelsAtTarget(t *testing.T) {
	canceled := 0
	metrics := &benchMetrics{target: 5, cancel: func() { canceled++ }}

	metrics.AddForwarded(3)
	if canceled != 0 {
		t.Fatalf("canceled before target")
	}
	metrics.AddForwarded(0)
	metrics.AddForwarded(2)
	if canceled != 1 {
		t.Fatalf("cancel calls = %d, want 1", canceled)
	}
	metrics.AddFailures(2)
	if metrics.Processed() != 5 || metrics.Failures() != 2 {
		t.Fatalf("processed=%d failures=%d", metrics.Processed(), metrics.Failures())
	}
}

func TestBuildPayloadSize(t *testing.T) {
	payload := buildPayload(512)
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) >= 512 || len(data) < 300 {
		t.Fatalf("payload is %d bytes before staging fields, want a little under 512", len(data))
	}
	if payload["class"] != "BenchJob" {
		t.Fatalf("class = %v", payload["class"])
	}

	small := buildPayload(0)
	if args := small["args"].([]any); args[0] != "" {
		t.Fatalf("expected empty arg for tiny payload, got %v", args)
	}
}

func TestPrintBenchResult(t *testing.T) {
	res := benchResult{Records: 10, Processed: 10, Workers: 2, MaxSlots: 5, BatchSize: 500, Forwarder: "discard"}

	var text bytes.Buffer
	if err := printBenchResult(&text, res, false); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.HasPrefix(text.String(), "RESULT records=10 ") || !strings.Contains(text.String(), "forwarder=discard") {
		t.Fatalf("unexpected text: %s", text.String())
	}

	var out bytes.Buffer
	if err := printBenchResult(&out, res, true); err != nil {
		t.Fatalf("print json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["processed"] != float64(10) || decoded["forwarder"] != "discard" {
		t.Fatalf("unexpected json: %v", decoded)
	}
}
