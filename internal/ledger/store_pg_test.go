package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transactionRowColumns = []string{
	"id", "workspace_id", "kind", "report_credits", "full_credits", "reason",
	"related_transaction_ids", "metadata", "created_at",
}

func newMockStore(t *testing.T) (*pgStore, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewPGStore(database), mock
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i]
		i++
		return id
	}
}

func TestPGDebitLocksWorkspaceAndInsertsPerCategory(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("ledger:ws-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"report", "full"}).AddRow(2, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("tx-1", "ws-1", "debit", 1, 0, "analysis", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("tx-2", "ws-1", "debit", 0, 1, "analysis", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := st.Debit(context.Background(), debitRequest{
		WorkspaceID: "ws-1",
		Amount:      Balance{ReportCredits: 1, FullCredits: 1},
		Reason:      "analysis",
		Metadata:    AnalysisMetadata{CaseID: "c-1", AnalysisType: "full", RunID: "r-1"},
		Now:         now,
		NewID:       fixedIDs("tx-1", "tx-2"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"tx-1", "tx-2"}, res.TransactionIDs)
	assert.Equal(t, Balance{ReportCredits: 1}, res.Available)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDebitInsufficientCommitsNothing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"report", "full"}).AddRow(0, 0))
	mock.ExpectCommit()

	res, err := st.Debit(context.Background(), debitRequest{
		WorkspaceID: "ws-1",
		Amount:      Balance{FullCredits: 1},
		Now:         time.Now(),
		NewID:       fixedIDs(),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, Balance{FullCredits: 1}, res.Required)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRefundRejectsAlreadyRefundedDebit(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM credit_transactions WHERE id = ANY\(\$1\) (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow("tx-1", "ws-1", "debit", 0, 1, "analysis", "{}", nil, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM refund_markers`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := st.Refund(context.Background(), refundRequest{DebitIDs: []string{"tx-1"}, Now: now, NewID: fixedIDs("tx-9")})
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRefundWritesCreditAndMarker(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM credit_transactions WHERE id = ANY\(\$1\) (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow("tx-1", "ws-1", "debit", 0, 1, "analysis", "{}", []byte(`{"kind":"analysis","data":{"caseId":"c-1","analysisType":"full","runId":"r-1"}}`), now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM refund_markers`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("tx-9", "ws-1", "credit", 0, 1, "ai failure", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refund_markers").
		WithArgs("tx-1", "tx-9", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := st.Refund(context.Background(), refundRequest{
		DebitIDs: []string{"tx-1"},
		Reason:   "ai failure",
		Metadata: RefundMetadata{Cause: "ai_error"},
		Now:      now,
		NewID:    fixedIDs("tx-9"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"tx-1"}, out[0].RelatedTransactionIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRefundRejectsUnknownDebit(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM credit_transactions WHERE id = ANY`).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns))
	mock.ExpectRollback()

	_, err := st.Refund(context.Background(), refundRequest{DebitIDs: []string{"nope"}, Now: time.Now(), NewID: fixedIDs()})
	require.ErrorIs(t, err, ErrInvalidRefund)
	require.NoError(t, mock.ExpectationsWereMet())
}
