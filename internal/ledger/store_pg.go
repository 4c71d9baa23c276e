package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"caseflow-backend/internal/shared/storage/db"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(database *sql.DB) *pgStore {
	return &pgStore{DB: database}
}

const transactionColumns = `id, workspace_id, kind, report_credits, full_credits, reason,
       related_transaction_ids, metadata, created_at`

const balanceQuery = `
SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN report_credits ELSE -report_credits END), 0),
       COALESCE(SUM(CASE WHEN kind = 'credit' THEN full_credits ELSE -full_credits END), 0)
FROM credit_transactions
WHERE workspace_id = $1`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *pgStore) Debit(ctx context.Context, req debitRequest) (DebitResult, error) {
	var res DebitResult
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "ledger", req.WorkspaceID); err != nil {
			return err
		}
		available, err := balanceOf(ctx, tx, req.WorkspaceID)
		if err != nil {
			return err
		}
		if !available.Covers(req.Amount) {
			res = DebitResult{Success: false, Available: available, Required: req.Amount}
			return nil
		}
		txs := splitDebit(req)
		for _, t := range txs {
			if err := insertTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		res = DebitResult{
			Success:        true,
			TransactionIDs: transactionIDs(txs),
			Available: Balance{
				ReportCredits: available.ReportCredits - req.Amount.ReportCredits,
				FullCredits:   available.FullCredits - req.Amount.FullCredits,
			},
			Required: req.Amount,
		}
		return nil
	})
	if err != nil {
		return DebitResult{}, err
	}
	return res, nil
}

func (s *pgStore) Refund(ctx context.Context, req refundRequest) ([]Transaction, error) {
	var out []Transaction
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT `+transactionColumns+`
FROM credit_transactions
WHERE id = ANY($1)
ORDER BY created_at, id
FOR UPDATE`, pq.Array(req.DebitIDs))
		if err != nil {
			return err
		}
		debits, err := scanTransactions(rows)
		if err != nil {
			return err
		}
		if len(debits) == 0 || len(debits) != countDistinct(req.DebitIDs) {
			return ErrInvalidRefund
		}
		for _, d := range debits {
			if d.Kind != KindDebit {
				return ErrInvalidRefund
			}
			if d.WorkspaceID != debits[0].WorkspaceID {
				return ErrMixedWorkspaces
			}
		}

		var already int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM refund_markers WHERE debit_transaction_id = ANY($1)`, pq.Array(req.DebitIDs)).Scan(&already); err != nil {
			return err
		}
		if already > 0 {
			return ErrAlreadyRefunded
		}

		out = make([]Transaction, 0, len(debits))
		for _, d := range debits {
			credit := compensate(d, req)
			if err := insertTransaction(ctx, tx, credit); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO refund_markers (debit_transaction_id, refund_transaction_id, created_at)
VALUES ($1, $2, $3)`, d.ID, credit.ID, req.Now); err != nil {
				return err
			}
			out = append(out, credit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *pgStore) Insert(ctx context.Context, t Transaction) error {
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "ledger", t.WorkspaceID); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, t)
	})
}

func (s *pgStore) Balance(ctx context.Context, workspaceID string) (Balance, error) {
	return balanceOf(ctx, s.DB, workspaceID)
}

func (s *pgStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+transactionColumns+`
FROM credit_transactions
WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrInvalidRefund
	}
	return t, err
}

func (s *pgStore) ListTransactions(ctx context.Context, workspaceID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+transactionColumns+`
FROM credit_transactions
WHERE workspace_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	out, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Transaction{}
	}
	return out, nil
}

func (s *pgStore) ListUnrefundedDebits(ctx context.Context, createdBefore time.Time) ([]Transaction, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.workspace_id, t.kind, t.report_credits, t.full_credits, t.reason,
       t.related_transaction_ids, t.metadata, t.created_at
FROM credit_transactions t
LEFT JOIN refund_markers m ON m.debit_transaction_id = t.id
WHERE t.kind = 'debit' AND m.debit_transaction_id IS NULL AND t.created_at < $1
ORDER BY t.created_at`, createdBefore)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (s *pgStore) RecordAudit(ctx context.Context, ev AuditEvent) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ledger_audit_events (id, workspace_id, action, report_credits, full_credits, reason, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.WorkspaceID, string(ev.Action), ev.ReportCredits, ev.FullCredits, ev.Reason, ev.Actor, ev.CreatedAt)
	return err
}

func balanceOf(ctx context.Context, q queryer, workspaceID string) (Balance, error) {
	var b Balance
	if err := q.QueryRowContext(ctx, balanceQuery, workspaceID).Scan(&b.ReportCredits, &b.FullCredits); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func insertTransaction(ctx context.Context, e execer, t Transaction) error {
	meta, err := EncodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	related := t.RelatedTransactionIDs
	if related == nil {
		related = []string{}
	}
	_, err = e.ExecContext(ctx, `
INSERT INTO credit_transactions (`+transactionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.WorkspaceID, string(t.Kind), t.ReportCredits, t.FullCredits, t.Reason,
		pq.Array(related), nullJSON(meta), t.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var kind string
	var meta []byte
	if err := row.Scan(
		&t.ID,
		&t.WorkspaceID,
		&kind,
		&t.ReportCredits,
		&t.FullCredits,
		&t.Reason,
		pq.Array(&t.RelatedTransactionIDs),
		&meta,
		&t.CreatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	decoded, err := DecodeMetadata(meta)
	if err != nil {
		return Transaction{}, err
	}
	t.Metadata = decoded
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
