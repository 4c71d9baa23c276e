package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grant(t *testing.T, svc *Service, ws string, report, full int) {
	t.Helper()
	_, err := svc.Grant(context.Background(), ws, report, full, "test", "")
	require.NoError(t, err)
}

func TestDebitWritesOnePerCategory(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 3, 2)

	res, err := svc.Debit(ctx, "ws-1", 1, 1, "analysis", AnalysisMetadata{CaseID: "c-1", AnalysisType: "full", RunID: "r-1"}, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Len(t, res.TransactionIDs, 2)
	assert.Equal(t, Balance{ReportCredits: 2, FullCredits: 1}, res.Available)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, Balance{ReportCredits: 2, FullCredits: 1}, bal)
}

func TestDebitInsufficientIsResultNotError(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 0, 1)

	res, err := svc.Debit(ctx, "ws-1", 0, 2, "analysis", nil, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.TransactionIDs)
	assert.Equal(t, Balance{FullCredits: 2}, res.Required)
	assert.Equal(t, Balance{FullCredits: 1}, res.Available)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, Balance{FullCredits: 1}, bal)
}

func TestDebitRejectsNegativeAmounts(t *testing.T) {
	svc := NewService()
	_, err := svc.Debit(context.Background(), "ws-1", -1, 0, "x", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebitZeroAmountWritesNothing(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	res, err := svc.Debit(ctx, "ws-1", 0, 0, "noop", nil, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.TransactionIDs)

	list, err := svc.ListTransactions(ctx, "ws-1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 0, 1)

	var wg sync.WaitGroup
	results := make(chan DebitResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Debit(ctx, "ws-1", 0, 1, "analysis", nil, Options{})
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for res := range results {
		if res.Success {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, Balance{}, bal)
}

func TestRefundRestoresBalanceAndLinksDebit(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 1, 2)

	res, err := svc.Debit(ctx, "ws-1", 1, 1, "analysis", nil, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)

	refund, err := svc.Refund(ctx, res.TransactionIDs, "ai failure", RefundMetadata{Cause: "ai_error", RunID: "r-1"}, Options{})
	require.NoError(t, err)
	require.True(t, refund.Success)
	assert.Len(t, refund.NewTransactionIDs, 2)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, Balance{ReportCredits: 1, FullCredits: 2}, bal)

	list, err := svc.ListTransactions(ctx, "ws-1", 0)
	require.NoError(t, err)
	linked := 0
	for _, tx := range list {
		if tx.Kind == KindCredit && len(tx.RelatedTransactionIDs) == 1 {
			assert.Contains(t, res.TransactionIDs, tx.RelatedTransactionIDs[0])
			assert.Equal(t, RefundMetadata{Cause: "ai_error", RunID: "r-1"}, tx.Metadata)
			linked++
		}
	}
	assert.Equal(t, 2, linked)
}

func TestRefundIsDeduplicatedByDebit(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 0, 1)

	res, err := svc.Debit(ctx, "ws-1", 0, 1, "analysis", nil, Options{})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, res.TransactionIDs, "first", RefundMetadata{Cause: "ai_error"}, Options{})
	require.NoError(t, err)
	second, err := svc.Refund(ctx, res.TransactionIDs, "second", RefundMetadata{Cause: "ai_error"}, Options{})
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.False(t, second.Success)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, Balance{FullCredits: 1}, bal)
}

func TestRefundRejectsCreditsAndUnknownIDs(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	granted, err := svc.Grant(ctx, "ws-1", 1, 0, "test", "")
	require.NoError(t, err)

	_, err = svc.Refund(ctx, []string{granted.ID}, "x", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidRefund)
	_, err = svc.Refund(ctx, []string{"missing"}, "x", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidRefund)
	_, err = svc.Refund(ctx, nil, "x", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidRefund)
}

func TestRefundRejectsMixedWorkspaces(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 1, 0)
	grant(t, svc, "ws-2", 1, 0)
	a, err := svc.Debit(ctx, "ws-1", 1, 0, "x", nil, Options{})
	require.NoError(t, err)
	b, err := svc.Debit(ctx, "ws-2", 1, 0, "x", nil, Options{})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, append(a.TransactionIDs, b.TransactionIDs...), "x", nil, Options{})
	require.ErrorIs(t, err, ErrMixedWorkspaces)
}

func TestBypassLeavesBalanceAndAudits(t *testing.T) {
	st := newMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	res, err := svc.Debit(ctx, "ws-1", 0, 5, "support", nil, Options{Bypass: true, Actor: "admin@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Bypassed)

	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	require.Len(t, st.audit, 1)
	assert.Equal(t, AuditBypassDebit, st.audit[0].Action)
	assert.Equal(t, "admin@example.com", st.audit[0].Actor)
	assert.Equal(t, 5, st.audit[0].FullCredits)
}

func TestBypassRefundAuditsWithoutDebits(t *testing.T) {
	st := newMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	res, err := svc.Refund(ctx, nil, "analysis_failed", RefundMetadata{Cause: "analysis_failed", RunID: "run-1"},
		Options{Bypass: true, Actor: "unlimited_workspace", WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Bypassed)
	assert.Empty(t, res.NewTransactionIDs)

	require.Len(t, st.audit, 1)
	assert.Equal(t, AuditBypassRefund, st.audit[0].Action)
	assert.Equal(t, "ws-1", st.audit[0].WorkspaceID)
	assert.Equal(t, "unlimited_workspace", st.audit[0].Actor)

	_, err = svc.Refund(ctx, nil, "x", nil, Options{Bypass: true})
	require.ErrorIs(t, err, ErrInvalidRefund)
	assert.Len(t, st.audit, 1)
}

func TestBalanceEqualsCreditsMinusDebits(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 4, 4)

	var debits []string
	for i := 0; i < 3; i++ {
		res, err := svc.Debit(ctx, "ws-1", 1, 1, "x", nil, Options{})
		require.NoError(t, err)
		debits = append(debits, res.TransactionIDs...)
	}
	_, err := svc.Refund(ctx, debits[:2], "partial", RefundMetadata{Cause: "manual"}, Options{})
	require.NoError(t, err)

	list, err := svc.ListTransactions(ctx, "ws-1", 0)
	require.NoError(t, err)
	var sum Balance
	for _, tx := range list {
		sign := 1
		if tx.Kind == KindDebit {
			sign = -1
		}
		sum.ReportCredits += sign * tx.ReportCredits
		sum.FullCredits += sign * tx.FullCredits
	}
	bal, err := svc.Balance(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, sum, bal)
	assert.Equal(t, Balance{ReportCredits: 2, FullCredits: 2}, bal)
}

func TestListUnrefundedDebits(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	grant(t, svc, "ws-1", 0, 2)
	a, err := svc.Debit(ctx, "ws-1", 0, 1, "x", nil, Options{})
	require.NoError(t, err)
	b, err := svc.Debit(ctx, "ws-1", 0, 1, "x", nil, Options{})
	require.NoError(t, err)
	_, err = svc.Refund(ctx, a.TransactionIDs, "x", nil, Options{})
	require.NoError(t, err)

	orphans, err := svc.ListUnrefundedDebits(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, b.TransactionIDs[0], orphans[0].ID)

	none, err := svc.ListUnrefundedDebits(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMetadataEnvelopeRoundTrip(t *testing.T) {
	raw, err := EncodeMetadata(AnalysisMetadata{CaseID: "c-1", AnalysisType: "full", RunID: "r-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"analysis","data":{"caseId":"c-1","analysisType":"full","runId":"r-1"}}`, string(raw))

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, AnalysisMetadata{CaseID: "c-1", AnalysisType: "full", RunID: "r-1"}, decoded)

	_, err = DecodeMetadata([]byte(`{"kind":"bogus","data":{}}`))
	require.Error(t, err)
}
