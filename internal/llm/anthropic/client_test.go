package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow-backend/internal/llm"
)

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  12,
			"output_tokens": 7,
		},
	}
}

func newTestClient(t *testing.T, replies ...string) (*Client, *int32) {
	t.Helper()
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		_, _ = io.ReadAll(r.Body)
		n := atomic.AddInt32(&calls, 1)
		reply := replies[len(replies)-1]
		if int(n) <= len(replies) {
			reply = replies[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(reply))
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{
		APIKey:  "test-key",
		Model:   "claude-sonnet-4-5-20250929",
		Timeout: 5 * time.Second,
	}, option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	require.NoError(t, err)
	return c, &calls
}

func TestNewClientRequiresKeyAndModel(t *testing.T) {
	_, err := NewClient(Config{Model: "m"})
	require.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"})
	require.Error(t, err)
}

func TestAnalyzeReturnsJSONResult(t *testing.T) {
	c, calls := newTestClient(t, "```json\n{\"summary\":\"ok\"}\n```")

	out, err := c.Analyze(context.Background(), llm.AnalyzeInput{CaseID: "c-1", AnalysisType: "full"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(out.Result))
	assert.Equal(t, int64(12), out.InputTokens)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestAnalyzeRepairsInvalidJSONOnce(t *testing.T) {
	c, calls := newTestClient(t, "summary: not json", `{"summary":"fixed"}`)

	out, err := c.Analyze(context.Background(), llm.AnalyzeInput{CaseID: "c-1", AnalysisType: "report"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"fixed"}`, string(out.Result))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestAnalyzeFailsWhenRepairFails(t *testing.T) {
	c, _ := newTestClient(t, "nope", "still nope")

	_, err := c.Analyze(context.Background(), llm.AnalyzeInput{CaseID: "c-1"})
	require.Error(t, err)
}

func TestNormalizeParsesResult(t *testing.T) {
	c, _ := newTestClient(t, `{"eventType":"hearing","description":"Audiência de conciliação realizada","confidence":0.82}`)

	out, err := c.Normalize(context.Background(), llm.NormalizeInput{
		EventDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Description: "audiencia conc. realizada",
	})
	require.NoError(t, err)
	assert.Equal(t, "hearing", out.EventType)
	assert.InDelta(t, 0.82, out.Confidence, 0.0001)
}

func TestNormalizeRejectsIncompleteResult(t *testing.T) {
	c, _ := newTestClient(t, `{"eventType":"","description":""}`)

	_, err := c.Normalize(context.Background(), llm.NormalizeInput{Description: "x"})
	require.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(extractJSON("Here you go: {\"a\":1} thanks")))
	assert.Equal(t, `{"a":1}`, string(extractJSON("```json\n{\"a\":1}\n```")))
}
