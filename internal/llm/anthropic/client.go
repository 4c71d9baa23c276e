package anthropic

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"caseflow-backend/internal/llm"
	"caseflow-backend/internal/shared/telemetry"
)

// Client implements llm.Analyzer and llm.Normalizer on the Anthropic Messages API.
type Client struct {
	client          sdk.Client
	model           string
	normalizerModel string
	maxTokens       int64
}

// Config holds the settings NewClient needs.
type Config struct {
	APIKey          string
	Model           string
	NormalizerModel string
	MaxTokens       int64
	Timeout         time.Duration
}

// NewClient constructs a Client. Extra request options are appended after the
// configured ones.
func NewClient(cfg Config, opts ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("anthropic: ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("anthropic: llm.model is required")
	}
	if cfg.NormalizerModel == "" {
		cfg.NormalizerModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)
	return &Client{
		client:          sdk.NewClient(reqOpts...),
		model:           cfg.Model,
		normalizerModel: cfg.NormalizerModel,
		maxTokens:       cfg.MaxTokens,
	}, nil
}

// Analyze asks the model for a case analysis and returns its JSON result.
// Output that is not valid JSON gets one repair attempt.
func (c *Client) Analyze(ctx context.Context, input llm.AnalyzeInput) (llm.AnalysisOutput, error) {
	system, known := llm.AnalysisPrompt(input.PromptVersion)
	if !known {
		telemetry.Warn("llm.prompt_version_unknown", map[string]any{"prompt_version": input.PromptVersion})
	}
	payload, err := json.Marshal(analysisPayload(input))
	if err != nil {
		return llm.AnalysisOutput{}, eris.Wrap(err, "anthropic: encode analysis input")
	}

	text, out, err := c.complete(ctx, c.model, system, string(payload), "analysis")
	if err != nil {
		return llm.AnalysisOutput{}, err
	}
	if result := extractJSON(text); json.Valid(result) {
		out.Result = result
		return out, nil
	}
	telemetry.Warn("llm.invalid_json", map[string]any{"case_id": input.CaseID, "model": c.model})
	return c.fixJSON(ctx, text)
}

// Normalize asks the normalizer model for a canonical type and description.
func (c *Client) Normalize(ctx context.Context, input llm.NormalizeInput) (llm.Normalization, error) {
	payload, err := json.Marshal(map[string]string{
		"eventDate":   input.EventDate.Format(time.DateOnly),
		"eventType":   input.EventType,
		"description": input.Description,
	})
	if err != nil {
		return llm.Normalization{}, eris.Wrap(err, "anthropic: encode normalize input")
	}
	text, _, err := c.complete(ctx, c.normalizerModel, llm.NormalizePrompt(), string(payload), "normalize")
	if err != nil {
		return llm.Normalization{}, err
	}
	var out llm.Normalization
	if err := json.Unmarshal(extractJSON(text), &out); err != nil {
		return llm.Normalization{}, eris.Wrap(err, "anthropic: parse normalization")
	}
	if strings.TrimSpace(out.EventType) == "" || strings.TrimSpace(out.Description) == "" {
		return llm.Normalization{}, eris.New("anthropic: normalization missing fields")
	}
	return out, nil
}

func (c *Client) fixJSON(ctx context.Context, raw string) (llm.AnalysisOutput, error) {
	text, out, err := c.complete(ctx, c.model, llm.FixJSONPrompt(), raw, "fix_json")
	if err != nil {
		return llm.AnalysisOutput{}, err
	}
	result := extractJSON(text)
	if !json.Valid(result) {
		return llm.AnalysisOutput{}, eris.New("anthropic: invalid JSON after repair")
	}
	out.Result = result
	return out, nil
}

func (c *Client) complete(ctx context.Context, model, system, user, phase string) (string, llm.AnalysisOutput, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   c.maxTokens,
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return "", llm.AnalysisOutput{}, eris.Wrapf(err, "anthropic: create message (%s)", phase)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := llm.AnalysisOutput{
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	telemetry.Info("llm.usage", map[string]any{
		"model":         out.Model,
		"phase":         phase,
		"input_tokens":  out.InputTokens,
		"output_tokens": out.OutputTokens,
		"stop_reason":   string(msg.StopReason),
	})
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", llm.AnalysisOutput{}, eris.Errorf("anthropic: empty response (%s)", phase)
	}
	return text, out, nil
}

type analysisRequest struct {
	CaseID        string              `json:"caseId"`
	AnalysisType  string              `json:"analysisType"`
	CaseType      string              `json:"caseType,omitempty"`
	LawsuitNumber string              `json:"lawsuitNumber,omitempty"`
	Court         string              `json:"court,omitempty"`
	Title         string              `json:"title,omitempty"`
	Subject       string              `json:"subject,omitempty"`
	Timeline      []llm.TimelineEvent `json:"timeline"`
}

func analysisPayload(in llm.AnalyzeInput) analysisRequest {
	timeline := in.Timeline
	if timeline == nil {
		timeline = []llm.TimelineEvent{}
	}
	return analysisRequest{
		CaseID:        in.CaseID,
		AnalysisType:  in.AnalysisType,
		CaseType:      in.CaseType,
		LawsuitNumber: in.LawsuitNumber,
		Court:         in.Court,
		Title:         in.Title,
		Subject:       in.Subject,
		Timeline:      timeline,
	}
}

// extractJSON strips markdown code fences and any prose around the outermost object.
func extractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return []byte(strings.TrimSpace(text))
	}
	return []byte(text[start : end+1])
}
