package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/telemetry"
)

// Service is the single source of truth for credit balances.
type Service struct {
	store store
	now   func() time.Time
	newID func() string
}

// NewService constructs a Service with in-memory store.
func NewService() *Service {
	return newService(newMemoryStore())
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return newService(pgStore)
}

func newService(st store) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Debit removes credits from a workspace. Insufficient credits is reported
// through DebitResult.Success, not as an error.
func (s *Service) Debit(ctx context.Context, workspaceID string, reportCredits, fullCredits int, reason string, meta Metadata, opts Options) (DebitResult, error) {
	amount := Balance{ReportCredits: reportCredits, FullCredits: fullCredits}
	if workspaceID == "" || reportCredits < 0 || fullCredits < 0 {
		return DebitResult{Required: amount, Error: ErrInvalidAmount.Error()}, ErrInvalidAmount
	}

	if opts.Bypass {
		if err := s.audit(ctx, workspaceID, AuditBypassDebit, amount, reason, opts.Actor); err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Success: true, Bypassed: true, TransactionIDs: []string{}, Required: amount}, nil
	}

	if amount.IsZero() {
		available, err := s.store.Balance(ctx, workspaceID)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Success: true, TransactionIDs: []string{}, Available: available}, nil
	}

	res, err := s.store.Debit(ctx, debitRequest{
		WorkspaceID: workspaceID,
		Amount:      amount,
		Reason:      reason,
		Metadata:    meta,
		Now:         s.now(),
		NewID:       s.newID,
	})
	if err != nil {
		telemetry.Error("ledger.debit_failed", map[string]any{
			"workspace_id": workspaceID,
			"error":        err,
		})
		return DebitResult{}, err
	}
	if !res.Success {
		metrics.IncLedgerDebitDenied()
		res.Error = "insufficient credits"
		telemetry.Info("ledger.debit_denied", map[string]any{
			"workspace_id":     workspaceID,
			"required_report":  amount.ReportCredits,
			"required_full":    amount.FullCredits,
			"available_report": res.Available.ReportCredits,
			"available_full":   res.Available.FullCredits,
		})
		return res, nil
	}
	metrics.IncLedgerDebit()
	telemetry.Info("ledger.debit", map[string]any{
		"workspace_id":    workspaceID,
		"report_credits":  amount.ReportCredits,
		"full_credits":    amount.FullCredits,
		"transaction_ids": res.TransactionIDs,
		"reason":          reason,
	})
	return res, nil
}

// Refund writes one compensating credit per debit. A debit can be refunded
// at most once.
func (s *Service) Refund(ctx context.Context, debitIDs []string, reason string, meta Metadata, opts Options) (RefundResult, error) {
	if opts.Bypass {
		return s.bypassRefund(ctx, debitIDs, reason, opts)
	}
	if len(debitIDs) == 0 {
		return RefundResult{Error: ErrInvalidRefund.Error()}, ErrInvalidRefund
	}

	credits, err := s.store.Refund(ctx, refundRequest{
		DebitIDs: debitIDs,
		Reason:   reason,
		Metadata: meta,
		Now:      s.now(),
		NewID:    s.newID,
	})
	if err != nil {
		metrics.IncLedgerRefundFailed()
		telemetry.Warn("ledger.refund_failed", map[string]any{
			"debit_ids": debitIDs,
			"error":     err,
		})
		return RefundResult{Error: err.Error()}, err
	}
	metrics.IncLedgerRefund()
	ids := transactionIDs(credits)
	telemetry.Info("ledger.refund", map[string]any{
		"workspace_id":    credits[0].WorkspaceID,
		"debit_ids":       debitIDs,
		"transaction_ids": ids,
		"reason":          reason,
	})
	return RefundResult{Success: true, NewTransactionIDs: ids}, nil
}

// bypassRefund only audits. Bypassed debits write no transactions, so the
// workspace comes from opts or, failing that, from the first debit id.
func (s *Service) bypassRefund(ctx context.Context, debitIDs []string, reason string, opts Options) (RefundResult, error) {
	workspaceID := opts.WorkspaceID
	if workspaceID == "" && len(debitIDs) > 0 {
		if t, err := s.store.GetTransaction(ctx, debitIDs[0]); err == nil {
			workspaceID = t.WorkspaceID
		}
	}
	if workspaceID == "" {
		return RefundResult{Error: ErrInvalidRefund.Error()}, ErrInvalidRefund
	}
	if err := s.audit(ctx, workspaceID, AuditBypassRefund, Balance{}, reason, opts.Actor); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{Success: true, Bypassed: true, NewTransactionIDs: []string{}}, nil
}

// Grant adds purchased or administratively issued credits.
func (s *Service) Grant(ctx context.Context, workspaceID string, reportCredits, fullCredits int, source, externalRef string) (Transaction, error) {
	if workspaceID == "" || reportCredits < 0 || fullCredits < 0 || reportCredits+fullCredits == 0 {
		return Transaction{}, ErrInvalidAmount
	}
	t := Transaction{
		ID:                    s.newID(),
		WorkspaceID:           workspaceID,
		Kind:                  KindCredit,
		ReportCredits:         reportCredits,
		FullCredits:           fullCredits,
		Reason:                "grant",
		RelatedTransactionIDs: []string{},
		Metadata:              GrantMetadata{Source: source, ExternalRef: externalRef},
		CreatedAt:             s.now(),
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return Transaction{}, err
	}
	telemetry.Info("ledger.grant", map[string]any{
		"workspace_id":   workspaceID,
		"report_credits": reportCredits,
		"full_credits":   fullCredits,
		"source":         source,
	})
	return t, nil
}

// Balance returns the spendable credits derived from the transaction log.
func (s *Service) Balance(ctx context.Context, workspaceID string) (Balance, error) {
	return s.store.Balance(ctx, workspaceID)
}

// ListTransactions returns the newest transactions first.
func (s *Service) ListTransactions(ctx context.Context, workspaceID string, limit int) ([]Transaction, error) {
	return s.store.ListTransactions(ctx, workspaceID, limit)
}

// ListUnrefundedDebits returns debits created before the cutoff that have
// no compensating refund.
func (s *Service) ListUnrefundedDebits(ctx context.Context, createdBefore time.Time) ([]Transaction, error) {
	return s.store.ListUnrefundedDebits(ctx, createdBefore)
}

func (s *Service) audit(ctx context.Context, workspaceID string, action AuditAction, amount Balance, reason, actor string) error {
	ev := AuditEvent{
		ID:            s.newID(),
		WorkspaceID:   workspaceID,
		Action:        action,
		ReportCredits: amount.ReportCredits,
		FullCredits:   amount.FullCredits,
		Reason:        reason,
		Actor:         actor,
		CreatedAt:     s.now(),
	}
	if err := s.store.RecordAudit(ctx, ev); err != nil {
		return err
	}
	telemetry.Warn("ledger.bypass", map[string]any{
		"workspace_id": workspaceID,
		"action":       string(action),
		"actor":        actor,
		"reason":       reason,
	})
	return nil
}

// IsRefundRejection reports whether err is a refund the ledger refused
// rather than an infrastructure failure.
func IsRefundRejection(err error) bool {
	return errors.Is(err, ErrInvalidRefund) || errors.Is(err, ErrAlreadyRefunded) || errors.Is(err, ErrMixedWorkspaces)
}
