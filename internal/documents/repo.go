package documents

import "context"

// Repo defines persistence operations for case documents.
type Repo interface {
	// Create inserts doc. A document with the same case and external id is
	// not duplicated: the stored one is returned with created=false.
	Create(ctx context.Context, doc Document) (stored Document, created bool, err error)
	GetByID(ctx context.Context, caseID, documentID string) (Document, error)
	GetByExternalID(ctx context.Context, caseID, externalID string) (Document, error)
	ListByCase(ctx context.Context, caseID string, limit, offset int) ([]Document, error)
	Delete(ctx context.Context, caseID, documentID string) error
}
