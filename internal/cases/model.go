package cases

import (
	"slices"
	"time"
)

// OnboardingStatus tracks how complete a case's data is.
type OnboardingStatus string

const (
	OnboardingNone     OnboardingStatus = "none"
	OnboardingEnriched OnboardingStatus = "enriched"
	OnboardingAnalyzed OnboardingStatus = "analyzed"
)

// Rank orders statuses; transitions may only move to a higher rank.
func (s OnboardingStatus) Rank() int {
	switch s {
	case OnboardingNone:
		return 0
	case OnboardingEnriched:
		return 1
	case OnboardingAnalyzed:
		return 2
	default:
		return -1
	}
}

func (s OnboardingStatus) Valid() bool { return s.Rank() >= 0 }

// CanRequestAnalysis reports whether a paid analysis may start.
func (s OnboardingStatus) CanRequestAnalysis() bool {
	return s == OnboardingEnriched || s == OnboardingAnalyzed
}

// Advance returns the status after moving from s to to. Moving to the
// current status is a no-op; moving backwards fails with ErrInvalidTransition.
func (s OnboardingStatus) Advance(to OnboardingStatus) (OnboardingStatus, error) {
	if !to.Valid() || !s.Valid() {
		return s, ErrInvalidStatus
	}
	if to.Rank() < s.Rank() {
		return s, ErrInvalidTransition
	}
	return to, nil
}

// AtLeast returns the higher-ranked of s and floor. Used where a transition
// must never regress, e.g. an enrichment arriving after analysis.
func (s OnboardingStatus) AtLeast(floor OnboardingStatus) OnboardingStatus {
	if s.Rank() >= floor.Rank() {
		return s
	}
	return floor
}

// LifecycleStatus tracks whether the case is being worked.
type LifecycleStatus string

const (
	LifecycleUnassigned LifecycleStatus = "unassigned"
	LifecycleActive     LifecycleStatus = "active"
)

// Metadata describes the lawsuit a case tracks.
type Metadata struct {
	LawsuitNumber string `json:"lawsuitNumber"`
	Court         string `json:"court"`
	Title         string `json:"title"`
	Subject       string `json:"subject"`
}

// Case is a legal matter tracked by the platform.
type Case struct {
	ID                  string           `json:"id"`
	WorkspaceID         string           `json:"workspaceId"`
	OnboardingStatus    OnboardingStatus `json:"onboardingStatus"`
	LifecycleStatus     LifecycleStatus  `json:"lifecycleStatus"`
	ProcessedRequestIDs []string         `json:"processedRequestIds"`
	Type                string           `json:"type"`
	Metadata            Metadata         `json:"metadata"`
	Version             int64            `json:"version"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// HasProcessed reports whether a final delivery for requestID was applied.
func (c Case) HasProcessed(requestID string) bool {
	return slices.Contains(c.ProcessedRequestIDs, requestID)
}

// DeliveryPhase separates the cached partial response from the final one so
// each may be processed once per request.
type DeliveryPhase string

const (
	PhaseCached DeliveryPhase = "cached"
	PhaseFinal  DeliveryPhase = "final"
)

const (
	ClaimProcessing = "processing"
	ClaimCompleted  = "completed"
)

// DeliveryClaim is the insert-if-absent idempotency record for a webhook
// delivery phase.
type DeliveryClaim struct {
	CaseID      string        `json:"caseId"`
	RequestID   string        `json:"requestId"`
	Phase       DeliveryPhase `json:"phase"`
	Status      string        `json:"status"`
	ClaimedAt   time.Time     `json:"claimedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Enrichment is the final state transition applied after a non-cached
// provider response has been merged.
type Enrichment struct {
	RequestID string
	CaseType  string
	Metadata  *Metadata
}

// applyEnrichment mutates c in place; shared by the memory and Postgres repos.
func applyEnrichment(c *Case, e Enrichment, now time.Time) {
	c.OnboardingStatus = c.OnboardingStatus.AtLeast(OnboardingEnriched)
	c.LifecycleStatus = LifecycleActive
	if e.CaseType != "" {
		c.Type = e.CaseType
	}
	if e.Metadata != nil {
		c.Metadata = mergeMetadata(c.Metadata, *e.Metadata)
	}
	if e.RequestID != "" && !c.HasProcessed(e.RequestID) {
		c.ProcessedRequestIDs = append(c.ProcessedRequestIDs, e.RequestID)
	}
	c.Version++
	c.UpdatedAt = now
}

func mergeMetadata(cur, incoming Metadata) Metadata {
	if incoming.LawsuitNumber != "" {
		cur.LawsuitNumber = incoming.LawsuitNumber
	}
	if incoming.Court != "" {
		cur.Court = incoming.Court
	}
	if incoming.Title != "" {
		cur.Title = incoming.Title
	}
	if incoming.Subject != "" {
		cur.Subject = incoming.Subject
	}
	return cur
}
