package cases

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type claimKey struct {
	caseID    string
	requestID string
	phase     DeliveryPhase
}

// MemoryRepo stores cases in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Case
	claims map[claimKey]DeliveryClaim
	now    func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Case),
		claims: make(map[claimKey]DeliveryClaim),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new case.
func (r *MemoryRepo) Create(ctx context.Context, c Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = cloneCase(c)
	return nil
}

// GetByID returns a case by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, caseID string) (Case, error) {
	if err := ctx.Err(); err != nil {
		return Case{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[caseID]
	if !ok {
		return Case{}, ErrNotFound
	}
	return cloneCase(c), nil
}

// ListByWorkspace returns a workspace's cases, newest first.
func (r *MemoryRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Case
	for _, c := range r.byID {
		if c.WorkspaceID == workspaceID {
			out = append(out, cloneCase(c))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []Case{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

// ClaimDelivery implements Repo.
func (r *MemoryRepo) ClaimDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase, staleAfter time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[caseID]; !ok {
		return false, ErrNotFound
	}
	now := r.now()
	key := claimKey{caseID: caseID, requestID: requestID, phase: phase}
	existing, ok := r.claims[key]
	if ok {
		if existing.Status == ClaimCompleted {
			return false, nil
		}
		if staleAfter <= 0 || now.Sub(existing.ClaimedAt) < staleAfter {
			return false, nil
		}
	}
	r.claims[key] = DeliveryClaim{
		CaseID:    caseID,
		RequestID: requestID,
		Phase:     phase,
		Status:    ClaimProcessing,
		ClaimedAt: now,
	}
	return true, nil
}

// CompleteDelivery marks a claim completed.
func (r *MemoryRepo) CompleteDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completeLocked(claimKey{caseID: caseID, requestID: requestID, phase: phase})
}

func (r *MemoryRepo) completeLocked(key claimKey) error {
	claim, ok := r.claims[key]
	if !ok {
		return ErrClaimNotFound
	}
	now := r.now()
	claim.Status = ClaimCompleted
	claim.CompletedAt = &now
	r.claims[key] = claim
	return nil
}

// ReleaseDelivery drops a processing claim so a retry can take it.
func (r *MemoryRepo) ReleaseDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := claimKey{caseID: caseID, requestID: requestID, phase: phase}
	if claim, ok := r.claims[key]; ok && claim.Status == ClaimProcessing {
		delete(r.claims, key)
	}
	return nil
}

// ApplyEnrichment implements Repo.
func (r *MemoryRepo) ApplyEnrichment(ctx context.Context, caseID string, e Enrichment) (Case, error) {
	if err := ctx.Err(); err != nil {
		return Case{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[caseID]
	if !ok {
		return Case{}, ErrNotFound
	}
	c = cloneCase(c)
	applyEnrichment(&c, e, r.now())
	if e.RequestID != "" {
		key := claimKey{caseID: caseID, requestID: e.RequestID, phase: PhaseFinal}
		if _, ok := r.claims[key]; ok {
			if err := r.completeLocked(key); err != nil {
				return Case{}, err
			}
		}
	}
	r.byID[caseID] = c
	return cloneCase(c), nil
}

// AdvanceOnboarding implements Repo.
func (r *MemoryRepo) AdvanceOnboarding(ctx context.Context, caseID string, to OnboardingStatus) (Case, error) {
	if err := ctx.Err(); err != nil {
		return Case{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[caseID]
	if !ok {
		return Case{}, ErrNotFound
	}
	next, err := c.OnboardingStatus.Advance(to)
	if err != nil {
		return Case{}, err
	}
	if next != c.OnboardingStatus {
		c = cloneCase(c)
		c.OnboardingStatus = next
		c.Version++
		c.UpdatedAt = r.now()
		r.byID[caseID] = c
	}
	return cloneCase(c), nil
}

func cloneCase(c Case) Case {
	c.ProcessedRequestIDs = slices.Clone(c.ProcessedRequestIDs)
	return c
}
