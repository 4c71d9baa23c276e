package cases

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnboardingAdvanceIsForwardOnly(t *testing.T) {
	statuses := []OnboardingStatus{OnboardingNone, OnboardingEnriched, OnboardingAnalyzed}
	for _, from := range statuses {
		for _, to := range statuses {
			next, err := from.Advance(to)
			if to.Rank() < from.Rank() {
				require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
				assert.Equal(t, from, next)
				continue
			}
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, next)
		}
	}
}

func TestOnboardingAdvanceRejectsUnknown(t *testing.T) {
	_, err := OnboardingNone.Advance(OnboardingStatus("archived"))
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestCanRequestAnalysis(t *testing.T) {
	assert.False(t, OnboardingNone.CanRequestAnalysis())
	assert.True(t, OnboardingEnriched.CanRequestAnalysis())
	assert.True(t, OnboardingAnalyzed.CanRequestAnalysis())
}

func TestApplyEnrichmentNeverRegresses(t *testing.T) {
	c := Case{OnboardingStatus: OnboardingAnalyzed, LifecycleStatus: LifecycleActive, Version: 3}
	applyEnrichment(&c, Enrichment{RequestID: "req-2", CaseType: "labor"}, time.Now())

	assert.Equal(t, OnboardingAnalyzed, c.OnboardingStatus)
	assert.Equal(t, "labor", c.Type)
	assert.Equal(t, []string{"req-2"}, c.ProcessedRequestIDs)
	assert.Equal(t, int64(4), c.Version)
}

func TestApplyEnrichmentAppendsRequestOnce(t *testing.T) {
	c := Case{OnboardingStatus: OnboardingNone}
	applyEnrichment(&c, Enrichment{RequestID: "req-1"}, time.Now())
	applyEnrichment(&c, Enrichment{RequestID: "req-1"}, time.Now())

	assert.Equal(t, []string{"req-1"}, c.ProcessedRequestIDs)
	assert.Equal(t, OnboardingEnriched, c.OnboardingStatus)
	assert.Equal(t, LifecycleActive, c.LifecycleStatus)
}

func TestMergeMetadataKeepsExistingWhenIncomingEmpty(t *testing.T) {
	got := mergeMetadata(
		Metadata{LawsuitNumber: "0001", Court: "TRT-2"},
		Metadata{Court: "", Subject: "overtime"},
	)
	assert.Equal(t, Metadata{LawsuitNumber: "0001", Court: "TRT-2", Subject: "overtime"}, got)
}
