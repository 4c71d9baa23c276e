package ledger

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"caseflow-backend/internal/shared/util"
)

type memoryStore struct {
	workspaces util.KeyedMutex

	mu       sync.RWMutex
	txs      map[string]Transaction
	order    []string
	refunded map[string]string
	audit    []AuditEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		txs:      make(map[string]Transaction),
		refunded: make(map[string]string),
	}
}

func (s *memoryStore) Debit(ctx context.Context, req debitRequest) (DebitResult, error) {
	if err := ctx.Err(); err != nil {
		return DebitResult{}, err
	}
	unlock := s.workspaces.Lock(req.WorkspaceID)
	defer unlock()

	available, err := s.Balance(ctx, req.WorkspaceID)
	if err != nil {
		return DebitResult{}, err
	}
	if !available.Covers(req.Amount) {
		return DebitResult{Success: false, Available: available, Required: req.Amount}, nil
	}

	txs := splitDebit(req)
	s.mu.Lock()
	for _, t := range txs {
		s.putLocked(t)
	}
	s.mu.Unlock()

	return DebitResult{
		Success:        true,
		TransactionIDs: transactionIDs(txs),
		Available: Balance{
			ReportCredits: available.ReportCredits - req.Amount.ReportCredits,
			FullCredits:   available.FullCredits - req.Amount.FullCredits,
		},
		Required: req.Amount,
	}, nil
}

func (s *memoryStore) Refund(ctx context.Context, req refundRequest) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	debits, err := s.loadDebits(req.DebitIDs)
	if err != nil {
		return nil, err
	}
	unlock := s.workspaces.Lock(debits[0].WorkspaceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range debits {
		if _, done := s.refunded[d.ID]; done {
			return nil, ErrAlreadyRefunded
		}
	}
	out := make([]Transaction, 0, len(debits))
	for _, d := range debits {
		credit := compensate(d, req)
		s.putLocked(credit)
		s.refunded[d.ID] = credit.ID
		out = append(out, credit)
	}
	return out, nil
}

func (s *memoryStore) loadDebits(ids []string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t, ok := s.txs[id]
		if !ok || t.Kind != KindDebit {
			return nil, ErrInvalidRefund
		}
		if len(out) > 0 && out[0].WorkspaceID != t.WorkspaceID {
			return nil, ErrMixedWorkspaces
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, ErrInvalidRefund
	}
	return out, nil
}

func (s *memoryStore) Insert(ctx context.Context, t Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.workspaces.Lock(t.WorkspaceID)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(t)
	return nil
}

func (s *memoryStore) putLocked(t Transaction) {
	t.RelatedTransactionIDs = slices.Clone(t.RelatedTransactionIDs)
	s.txs[t.ID] = t
	s.order = append(s.order, t.ID)
}

func (s *memoryStore) Balance(ctx context.Context, workspaceID string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b Balance
	for _, id := range s.order {
		t := s.txs[id]
		if t.WorkspaceID != workspaceID {
			continue
		}
		switch t.Kind {
		case KindCredit:
			b.ReportCredits += t.ReportCredits
			b.FullCredits += t.FullCredits
		case KindDebit:
			b.ReportCredits -= t.ReportCredits
			b.FullCredits -= t.FullCredits
		}
	}
	return b, nil
}

func (s *memoryStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrInvalidRefund
	}
	return t, nil
}

func (s *memoryStore) ListTransactions(ctx context.Context, workspaceID string, limit int) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Transaction{}
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txs[s.order[i]]
		if t.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) ListUnrefundedDebits(ctx context.Context, createdBefore time.Time) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, id := range s.order {
		t := s.txs[id]
		if t.Kind != KindDebit || !t.CreatedAt.Before(createdBefore) {
			continue
		}
		if _, done := s.refunded[id]; done {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) RecordAudit(ctx context.Context, ev AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, ev)
	return nil
}
