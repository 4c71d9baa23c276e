package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	webhookReceivedTotal   atomic.Uint64
	webhookDuplicateTotal  atomic.Uint64
	webhookRejectedTotal   atomic.Uint64
	timelineConflictsTotal atomic.Uint64
	ledgerDebitsTotal      atomic.Uint64
	ledgerDebitDenied      atomic.Uint64
	ledgerRefundsTotal     atomic.Uint64
	ledgerRefundFailed     atomic.Uint64
	analysisCommittedTotal atomic.Uint64
	analysisRefundedTotal  atomic.Uint64

	mergeDuration    = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000})
	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncWebhookReceived counts authenticated webhook deliveries.
func IncWebhookReceived() { webhookReceivedTotal.Add(1) }

// IncWebhookDuplicate counts deliveries absorbed by the idempotency gate.
func IncWebhookDuplicate() { webhookDuplicateTotal.Add(1) }

// IncWebhookRejected counts deliveries rejected before dispatch.
func IncWebhookRejected() { webhookRejectedTotal.Add(1) }

// AddTimelineConflicts counts conflicts recorded by merges.
func AddTimelineConflicts(n int) {
	if n > 0 {
		timelineConflictsTotal.Add(uint64(n))
	}
}

func IncLedgerDebit()        { ledgerDebitsTotal.Add(1) }
func IncLedgerDebitDenied()  { ledgerDebitDenied.Add(1) }
func IncLedgerRefund()       { ledgerRefundsTotal.Add(1) }
func IncLedgerRefundFailed() { ledgerRefundFailed.Add(1) }

func IncAnalysisCommitted() { analysisCommittedTotal.Add(1) }
func IncAnalysisRefunded()  { analysisRefundedTotal.Add(1) }

// ObserveMergeDurationMs records a timeline merge duration in milliseconds.
func ObserveMergeDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	mergeDuration.Observe(value)
}

// ObserveAnalysisDurationMs records an AI call duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "webhook_received_total", "Authenticated webhook deliveries", webhookReceivedTotal.Load())
	writeCounter(&buf, "webhook_duplicate_total", "Webhook deliveries absorbed as duplicates", webhookDuplicateTotal.Load())
	writeCounter(&buf, "webhook_rejected_total", "Webhook deliveries rejected", webhookRejectedTotal.Load())
	writeCounter(&buf, "timeline_conflicts_total", "Timeline conflicts recorded", timelineConflictsTotal.Load())
	writeCounter(&buf, "ledger_debits_total", "Successful ledger debits", ledgerDebitsTotal.Load())
	writeCounter(&buf, "ledger_debit_denied_total", "Debits denied for insufficient credits", ledgerDebitDenied.Load())
	writeCounter(&buf, "ledger_refunds_total", "Successful ledger refunds", ledgerRefundsTotal.Load())
	writeCounter(&buf, "ledger_refund_failed_total", "Failed ledger refunds", ledgerRefundFailed.Load())
	writeCounter(&buf, "analysis_committed_total", "Analyses committed", analysisCommittedTotal.Load())
	writeCounter(&buf, "analysis_refunded_total", "Analyses refunded after failure", analysisRefundedTotal.Load())
	writeHistogram(&buf, "timeline_merge_duration_ms", "Timeline merge duration in milliseconds", mergeDuration.Snapshot())
	writeHistogram(&buf, "analysis_duration_ms", "AI analysis call duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
