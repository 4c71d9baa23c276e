package ingestion

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Request
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Request),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[req.RequestID]; ok {
		return nil
	}
	r.data[req.RequestID] = req
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, requestID string) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.data[requestID]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

func (r *MemoryRepo) ListByCase(ctx context.Context, caseID string) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Request, 0)
	for _, req := range r.data {
		if req.CaseID == caseID {
			out = append(out, req)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, requestID string, status Status, errorCode, errorMessage string) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.data[requestID]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return req, nil
	}
	req.Status = status
	req.ErrorCode = errorCode
	req.ErrorMessage = errorMessage
	req.UpdatedAt = r.now()
	r.data[requestID] = req
	return req, nil
}

var _ Repo = (*MemoryRepo)(nil)
