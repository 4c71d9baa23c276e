package ingestion

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"caseflow-backend/internal/shared/util"
)

//go:embed rules/classification.yaml
var defaultRulesYAML []byte

// ClassificationRules map lawsuit text to a case type.
type ClassificationRules struct {
	DefaultType  string        `yaml:"default_type"`
	KeywordRules []KeywordRule `yaml:"keyword_rules"`
	CourtRules   []CourtRule   `yaml:"court_rules"`
}

// KeywordRule assigns Type when any keyword appears in the lawsuit content.
type KeywordRule struct {
	Type     string   `yaml:"type"`
	Keywords []string `yaml:"keywords"`
}

// CourtRule assigns Type when the court name contains any pattern.
type CourtRule struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

// Classifier picks a case type: content keywords first, then the court,
// then the default.
type Classifier struct {
	rules ClassificationRules
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte) (ClassificationRules, error) {
	var rules ClassificationRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ClassificationRules{}, fmt.Errorf("parse classification rules: %w", err)
	}
	if strings.TrimSpace(rules.DefaultType) == "" {
		return ClassificationRules{}, fmt.Errorf("parse classification rules: default_type is required")
	}
	return rules, nil
}

// NewClassifier builds a Classifier from rules.
func NewClassifier(rules ClassificationRules) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultClassifier uses the embedded rule set.
func DefaultClassifier() *Classifier {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(err)
	}
	return NewClassifier(rules)
}

// Classify returns the case type for l. A nil lawsuit gets the default.
func (c *Classifier) Classify(l *Lawsuit) string {
	if l == nil {
		return c.rules.DefaultType
	}
	content := normalizeText(strings.Join(append([]string{l.Subject, l.Title}, l.Classes...), " "))
	for _, rule := range c.rules.KeywordRules {
		for _, kw := range rule.Keywords {
			if containsPhrase(content, kw) {
				return rule.Type
			}
		}
	}
	court := normalizeText(l.Court)
	for _, rule := range c.rules.CourtRules {
		for _, p := range rule.Patterns {
			if containsPhrase(court, p) {
				return rule.Type
			}
		}
	}
	return c.rules.DefaultType
}

// normalizeText folds accents and case and collapses punctuation so
// phrases match on word boundaries: " reclamacao trabalhista ". Letters and
// digits are split apart, so court codes such as "TRF3" read as "trf 3".
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(util.FoldAccents(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		words = append(words, splitDigits(f)...)
	}
	return " " + strings.Join(words, " ") + " "
}

// splitDigits breaks a token wherever it switches between letters and digits.
func splitDigits(field string) []string {
	var out []string
	start := 0
	prevDigit := false
	for i, r := range field {
		digit := unicode.IsDigit(r)
		if i > 0 && digit != prevDigit {
			out = append(out, field[start:i])
			start = i
		}
		prevDigit = digit
	}
	return append(out, field[start:])
}

func containsPhrase(normalized, phrase string) bool {
	p := normalizeText(phrase)
	return p != "" && strings.Contains(normalized, p)
}
