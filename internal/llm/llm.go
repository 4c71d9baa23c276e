package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Analyzer runs a paid case analysis.
type Analyzer interface {
	Analyze(ctx context.Context, input AnalyzeInput) (AnalysisOutput, error)
}

// Normalizer classifies and rewrites a single low-confidence timeline event.
type Normalizer interface {
	Normalize(ctx context.Context, input NormalizeInput) (Normalization, error)
}

// AnalyzeInput is the case context assembled for an analysis.
type AnalyzeInput struct {
	CaseID        string
	AnalysisType  string
	CaseType      string
	LawsuitNumber string
	Court         string
	Title         string
	Subject       string
	Timeline      []TimelineEvent
	PromptVersion string
}

// TimelineEvent is a timeline entry as presented to the model.
type TimelineEvent struct {
	Date        time.Time `json:"date"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	HasConflict bool      `json:"hasConflict,omitempty"`
}

// AnalysisOutput is the model's JSON result plus usage.
type AnalysisOutput struct {
	Result       json.RawMessage
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// NormalizeInput is one timeline event to normalize.
type NormalizeInput struct {
	EventDate   time.Time
	EventType   string
	Description string
}

// Normalization is the model's canonical reading of an event.
type Normalization struct {
	EventType   string  `json:"eventType"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient stands in when no AI provider is configured.
type PlaceholderClient struct{}

// Analyze returns ErrNotImplemented.
func (PlaceholderClient) Analyze(ctx context.Context, input AnalyzeInput) (AnalysisOutput, error) {
	_ = ctx
	_ = input
	return AnalysisOutput{}, ErrNotImplemented
}

// Normalize returns ErrNotImplemented.
func (PlaceholderClient) Normalize(ctx context.Context, input NormalizeInput) (Normalization, error) {
	_ = ctx
	_ = input
	return Normalization{}, ErrNotImplemented
}
