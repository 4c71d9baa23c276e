package ingestion

import "context"

// Repo persists provider requests.
type Repo interface {
	// Create inserts r; an existing request id is left untouched.
	Create(ctx context.Context, r Request) error
	Get(ctx context.Context, requestID string) (Request, error)
	ListByCase(ctx context.Context, caseID string) ([]Request, error)
	// SetStatus moves a non-terminal request to status and returns the
	// stored row. Terminal requests are returned unchanged.
	SetStatus(ctx context.Context, requestID string, status Status, errorCode, errorMessage string) (Request, error)
}
