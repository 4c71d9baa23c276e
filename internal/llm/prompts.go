package llm

import _ "embed"

var (
	//go:embed prompts/analysis_v1.txt
	analysisPromptV1 string
	//go:embed prompts/normalize_v1.txt
	normalizePromptV1 string
	//go:embed prompts/fix_json.txt
	fixJSONPrompt string
)

// DefaultPromptVersion is used when AnalyzeInput.PromptVersion is empty.
const DefaultPromptVersion = "v1"

// AnalysisPrompt returns the analysis system prompt and whether the version was recognized.
func AnalysisPrompt(version string) (string, bool) {
	switch version {
	case "v1", "":
		return analysisPromptV1, true
	default:
		return analysisPromptV1, false
	}
}

// NormalizePrompt returns the system prompt for event normalization.
func NormalizePrompt() string {
	return normalizePromptV1
}

// FixJSONPrompt returns the system prompt used to repair malformed JSON output.
func FixJSONPrompt() string {
	return fixJSONPrompt
}
