package metrics

import (
	"strings"
	"testing"
)

func TestRenderIncludesCountersAndHistograms(t *testing.T) {
	IncWebhookReceived()
	IncLedgerRefundFailed()
	ObserveMergeDurationMs(12)

	out := Render()
	for _, want := range []string{
		"# TYPE webhook_received_total counter",
		"ledger_refund_failed_total ",
		"timeline_merge_duration_ms_bucket{le=\"25\"}",
		"timeline_merge_duration_ms_count ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{1, 10})
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	snap := h.Snapshot()
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}
	if snap.counts[0] != 1 || snap.counts[1] != 1 {
		t.Fatalf("unexpected bucket counts %v", snap.counts)
	}
}
