package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTextSimilarityFoldsAccentsAndStopWords(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("Audiência de Instrução realizada", "audiencia instrucao REALIZADA"))
	assert.Equal(t, 0.0, textSimilarity("Sentença publicada", "Juntada de procuração"))
	assert.InDelta(t, 0.25, textSimilarity(
		"Audiência de conciliação realizada, acordo homologado",
		"Audiência de conciliação redesignada pelo juízo"), 0.0001)
}

func TestDateProximityDecaysLinearly(t *testing.T) {
	base := day(2024, 3, 1)
	assert.Equal(t, 1.0, dateProximity(base, base))
	assert.InDelta(t, 0.5, dateProximity(base, base.AddDate(0, 0, 15)), 0.0001)
	assert.Equal(t, 0.0, dateProximity(base, base.AddDate(0, 0, 45)))
}

func TestJudge(t *testing.T) {
	base := day(2024, 3, 1)
	existing := Entry{EventDate: base, EventType: "hearing", Description: "Audiência de instrução realizada", Source: SourceOfficialFeed}

	cases := []struct {
		name      string
		candidate SourceEvent
		kind      matchKind
		conflict  ConflictKind
		severity  Severity
	}{
		{
			name:      "same event within tolerance",
			candidate: SourceEvent{EventDate: base.AddDate(0, 0, 1), EventType: "hearing", Description: "audiencia instrucao realizada"},
			kind:      matchDuplicate,
		},
		{
			name:      "unknown type agrees",
			candidate: SourceEvent{EventDate: base, Description: "audiencia de instrucao realizada"},
			kind:      matchDuplicate,
		},
		{
			name:      "date drift",
			candidate: SourceEvent{EventDate: base.AddDate(0, 0, 5), EventType: "hearing", Description: "audiencia de instrucao realizada"},
			kind:      matchConflict,
			conflict:  ConflictDate,
			severity:  SeverityMedium,
		},
		{
			name:      "type mismatch",
			candidate: SourceEvent{EventDate: base, EventType: "decision", Description: "audiencia de instrucao realizada"},
			kind:      matchConflict,
			conflict:  ConflictType,
			severity:  SeverityHigh,
		},
		{
			name:      "weak overlap same day",
			candidate: SourceEvent{EventDate: base, Description: "Petição juntada após audiência"},
			kind:      matchRelated,
		},
		{
			name:      "unrelated",
			candidate: SourceEvent{EventDate: base.AddDate(0, 2, 0), Description: "Sentença publicada"},
			kind:      matchNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := judge(existing, tc.candidate)
			assert.Equal(t, tc.kind, j.kind)
			if tc.kind == matchConflict {
				assert.Equal(t, tc.conflict, j.conflict)
				assert.Equal(t, tc.severity, j.severity)
			}
		})
	}
}
