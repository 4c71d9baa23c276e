package cases

import (
	"context"
	"time"
)

// Repo defines persistence operations for cases and their delivery claims.
type Repo interface {
	Create(ctx context.Context, c Case) error
	GetByID(ctx context.Context, caseID string) (Case, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]Case, error)

	// ClaimDelivery inserts a processing claim if none exists. An existing
	// processing claim older than staleAfter is taken over. It reports
	// whether the caller now owns the claim.
	ClaimDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase, staleAfter time.Duration) (bool, error)
	CompleteDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error
	ReleaseDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error

	// ApplyEnrichment advances onboarding to at least enriched, activates the
	// case, records the request id and completes the final claim in one
	// atomic step.
	ApplyEnrichment(ctx context.Context, caseID string, e Enrichment) (Case, error)
	AdvanceOnboarding(ctx context.Context, caseID string, to OnboardingStatus) (Case, error)
}
