package analysis

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"caseflow-backend/internal/llm"
	"caseflow-backend/internal/shared/telemetry"
)

const (
	llmRetryBaseDelay = 300 * time.Millisecond
	// llmAttempts counts the first call and its one retry.
	llmAttempts = 2
)

type retryingAnalyzer struct {
	base  llm.Analyzer
	runID string
	delay time.Duration
}

func newRetryingAnalyzer(base llm.Analyzer, runID string, delay time.Duration) llm.Analyzer {
	if base == nil {
		return nil
	}
	return retryingAnalyzer{base: base, runID: runID, delay: delay}
}

// Analyze retries once on transient failures. A cancelled or expired ctx is
// returned as is so the caller compensates straight away.
func (r retryingAnalyzer) Analyze(ctx context.Context, input llm.AnalyzeInput) (llm.AnalysisOutput, error) {
	out, err := r.base.Analyze(ctx, input)
	if err == nil || ctx.Err() != nil || !shouldRetryLLM(err) {
		return out, err
	}

	telemetry.Warn("analysis.llm_retry", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"run_id":     r.runID,
		"attempt":    1,
		"error":      sanitizeError(err),
	})
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return llm.AnalysisOutput{}, ctx.Err()
	}
	return r.base.Analyze(ctx, input)
}

func shouldRetryLLM(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "http status 5") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") {
		return true
	}
	return false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
