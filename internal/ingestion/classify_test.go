package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierKeywordThenCourtThenDefault(t *testing.T) {
	c := DefaultClassifier()

	assert.Equal(t, "labor", c.Classify(&Lawsuit{Classes: []string{"Reclamação Trabalhista"}, Court: "TJSP"}))
	assert.Equal(t, "tax", c.Classify(&Lawsuit{Subject: "Execução Fiscal de ICMS", Court: "TRT-2"}))
	assert.Equal(t, "labor", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TRT-2"}))
	assert.Equal(t, "federal", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TRF3"}))
	assert.Equal(t, "civil", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TJSP"}))
	assert.Equal(t, "civil", c.Classify(nil))
}

func TestClassifierMatchesCourtCodesWithNumbers(t *testing.T) {
	c := DefaultClassifier()

	assert.Equal(t, "labor", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TRT2"}))
	assert.Equal(t, "labor", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TRT da 15ª Região"}))
	assert.Equal(t, "federal", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "trf1"}))
	assert.Equal(t, "electoral", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "TSE1"}))
	// A court name that merely starts with the same letters is not a code.
	assert.Equal(t, "civil", c.Classify(&Lawsuit{Subject: "Cobrança", Court: "Tribunal de Justiça"}))
}

func TestSplitDigits(t *testing.T) {
	assert.Equal(t, []string{"trf", "3"}, splitDigits("trf3"))
	assert.Equal(t, []string{"15", "a"}, splitDigits("15a"))
	assert.Equal(t, []string{"tjsp"}, splitDigits("tjsp"))
}

func TestClassifierMatchesWholeWords(t *testing.T) {
	c := DefaultClassifier()
	// "iss" must not match inside "comissão".
	assert.Equal(t, "civil", c.Classify(&Lawsuit{Subject: "Comissão de corretagem", Court: "TJMG"}))
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte("default_type: other\ncourt_rules:\n  - type: family\n    patterns: [vara de familia]\n"))
	require.NoError(t, err)
	c := NewClassifier(rules)
	assert.Equal(t, "family", c.Classify(&Lawsuit{Court: "2ª Vara de Família"}))

	_, err = ParseRules([]byte("keyword_rules: []\n"))
	assert.Error(t, err)
	_, err = ParseRules([]byte(":::"))
	assert.Error(t, err)
}
