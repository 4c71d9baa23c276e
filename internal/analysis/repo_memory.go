package analysis

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores runs and versions in memory.
type MemoryRepo struct {
	mu       sync.RWMutex
	runs     map[string]Run
	versions map[string][]Version
}

// NewMemoryRepo constructs an in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		runs:     make(map[string]Run),
		versions: make(map[string][]Version),
	}
}

func (r *MemoryRepo) CreateRun(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRepo) UpdateRun(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRepo) GetRun(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (r *MemoryRepo) FindRunByDebit(ctx context.Context, debitID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, run := range r.runs {
		if slices.Contains(run.DebitTransactionIDs, debitID) {
			return cloneRun(run), nil
		}
	}
	return Run{}, ErrRunNotFound
}

func (r *MemoryRepo) ListRunsByState(ctx context.Context, states []State, updatedBefore time.Time) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Run, 0)
	for _, run := range r.runs {
		if slices.Contains(states, run.State) && run.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) CreateVersion(ctx context.Context, v Version) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.versions[v.CaseID]
	v.Version = len(list) + 1
	v.DebitTransactionIDs = slices.Clone(v.DebitTransactionIDs)
	r.versions[v.CaseID] = append(list, v)
	return v, nil
}

func (r *MemoryRepo) ListVersions(ctx context.Context, caseID string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.versions[caseID]
	out := make([]Version, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (r *MemoryRepo) CommittedDebits(ctx context.Context, debitIDs []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool)
	for _, list := range r.versions {
		for _, v := range list {
			for _, id := range v.DebitTransactionIDs {
				if slices.Contains(debitIDs, id) {
					out[id] = true
				}
			}
		}
	}
	return out, nil
}

func cloneRun(run Run) Run {
	run.DebitTransactionIDs = slices.Clone(run.DebitTransactionIDs)
	run.RefundTransactionIDs = slices.Clone(run.RefundTransactionIDs)
	return run
}

var _ Repo = (*MemoryRepo)(nil)
