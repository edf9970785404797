package ai

import "testing"

func TestMetricsRecorder(t *testing.T) {
	var r MetricsRecorder
	r.Record(ModelMetrics{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, DurationMs: 1000})
	r.Record(ModelMetrics{InputTokens: 30, TotalTokens: 30, DurationMs: 200})

	got := r.GetMetrics()
	if got.Requests != 2 || got.TotalTokens != 180 || got.DurationMs != 1200 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	if got.TokenPerSecond != 150 {
		t.Errorf("TokenPerSecond = %v, want 150", got.TokenPerSecond)
	}

	r.ResetMetrics()
	if r.GetMetrics() != (ModelMetrics{}) {
		t.Fatalf("metrics not reset: %+v", r.GetMetrics())
	}
}
