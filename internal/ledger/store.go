package ledger

import (
	"context"
	"time"
)

// debitRequest is a validated debit ready for the store.
type debitRequest struct {
	WorkspaceID string
	Amount      Balance
	Reason      string
	Metadata    Metadata
	Now         time.Time
	NewID       func() string
}

// refundRequest is a validated refund ready for the store.
type refundRequest struct {
	DebitIDs []string
	Reason   string
	Metadata Metadata
	Now      time.Time
	NewID    func() string
}

type store interface {
	// Debit checks the derived balance and writes one transaction per
	// non-zero category, serialized per workspace.
	Debit(ctx context.Context, req debitRequest) (DebitResult, error)
	// Refund writes one compensating credit per debit id and marks each
	// debit refunded, atomically.
	Refund(ctx context.Context, req refundRequest) ([]Transaction, error)
	Insert(ctx context.Context, tx Transaction) error
	Balance(ctx context.Context, workspaceID string) (Balance, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, workspaceID string, limit int) ([]Transaction, error)
	ListUnrefundedDebits(ctx context.Context, createdBefore time.Time) ([]Transaction, error)
	RecordAudit(ctx context.Context, ev AuditEvent) error
}

// splitDebit builds the per-category debit transactions for req.
func splitDebit(req debitRequest) []Transaction {
	var out []Transaction
	if req.Amount.ReportCredits > 0 {
		out = append(out, Transaction{
			ID:            req.NewID(),
			WorkspaceID:   req.WorkspaceID,
			Kind:          KindDebit,
			ReportCredits: req.Amount.ReportCredits,
			Reason:        req.Reason,
			Metadata:      req.Metadata,
			CreatedAt:     req.Now,
		})
	}
	if req.Amount.FullCredits > 0 {
		out = append(out, Transaction{
			ID:          req.NewID(),
			WorkspaceID: req.WorkspaceID,
			Kind:        KindDebit,
			FullCredits: req.Amount.FullCredits,
			Reason:      req.Reason,
			Metadata:    req.Metadata,
			CreatedAt:   req.Now,
		})
	}
	return out
}

// compensate builds the credit that reverses debit.
func compensate(debit Transaction, req refundRequest) Transaction {
	return Transaction{
		ID:                    req.NewID(),
		WorkspaceID:           debit.WorkspaceID,
		Kind:                  KindCredit,
		ReportCredits:         debit.ReportCredits,
		FullCredits:           debit.FullCredits,
		Reason:                req.Reason,
		RelatedTransactionIDs: []string{debit.ID},
		Metadata:              req.Metadata,
		CreatedAt:             req.Now,
	}
}

func transactionIDs(txs []Transaction) []string {
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
	}
	return ids
}
