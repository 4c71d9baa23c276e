package documents

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string][]Document // caseId -> documents
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string][]Document),
	}
}

// Create stores a document unless one with the same external id exists.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ExternalID != "" {
		for _, existing := range r.data[doc.CaseID] {
			if existing.ExternalID == doc.ExternalID {
				return existing, false, nil
			}
		}
	}
	r.data[doc.CaseID] = append(r.data[doc.CaseID], doc)
	return doc, true, nil
}

// GetByID returns a case document by id.
func (r *MemoryRepo) GetByID(ctx context.Context, caseID, documentID string) (Document, error) {
	return r.find(ctx, caseID, func(d Document) bool { return d.ID == documentID })
}

// GetByExternalID returns a case document by its provider id.
func (r *MemoryRepo) GetByExternalID(ctx context.Context, caseID, externalID string) (Document, error) {
	if externalID == "" {
		return Document{}, ErrNotFound
	}
	return r.find(ctx, caseID, func(d Document) bool { return d.ExternalID == externalID })
}

func (r *MemoryRepo) find(ctx context.Context, caseID string, match func(Document) bool) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.data[caseID] {
		if match(d) {
			return d, nil
		}
	}
	return Document{}, ErrNotFound
}

// ListByCase returns a case's documents, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByCase(ctx context.Context, caseID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	docs := make([]Document, len(r.data[caseID]))
	copy(docs, r.data[caseID])
	r.mu.RUnlock()

	if offset >= len(docs) {
		return []Document{}, nil
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// Delete removes a case document.
func (r *MemoryRepo) Delete(ctx context.Context, caseID, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.data[caseID]
	for i := range docs {
		if docs[i].ID == documentID {
			r.data[caseID] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

var _ Repo = (*MemoryRepo)(nil)
