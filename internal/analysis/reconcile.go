package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caseflow-backend/internal/ledger"
	"caseflow-backend/internal/queue"
	"caseflow-backend/internal/shared/telemetry"
)

// DebitLedger is the ledger as the reconciler needs it.
type DebitLedger interface {
	Ledger
	ListUnrefundedDebits(ctx context.Context, createdBefore time.Time) ([]ledger.Transaction, error)
}

// Orphan actions.
const (
	ActionReported        = "reported"
	ActionRefunded        = "refunded"
	ActionRefundFailed    = "refund_failed"
	ActionAlreadyRefunded = "already_refunded"
)

// Orphan is an analysis debit with neither a committed version nor a refund.
type Orphan struct {
	DebitID       string    `json:"debitId"`
	WorkspaceID   string    `json:"workspaceId"`
	CaseID        string    `json:"caseId"`
	RunID         string    `json:"runId"`
	RunState      State     `json:"runState,omitempty"`
	ReportCredits int       `json:"reportCredits"`
	FullCredits   int       `json:"fullCredits"`
	CreatedAt     time.Time `json:"createdAt"`
	Action        string    `json:"action"`
	Error         string    `json:"error,omitempty"`
}

// Report summarizes a reconciliation pass.
type Report struct {
	Scanned int      `json:"scanned"`
	Orphans []Orphan `json:"orphans"`
	// AbandonedRuns are runs stuck in validating that never took a debit.
	AbandonedRuns []string `json:"abandonedRuns"`
	// InFlight are debits whose run may still be waiting on the model.
	InFlight []string `json:"inFlight"`
}

// Reconciler finds analysis debits the gate never settled, e.g. after a
// process crash between debit and commit.
type Reconciler struct {
	Ledger      DebitLedger
	Repo        Repo
	Queue       queue.Client
	GraceWindow time.Duration
	// InFlightWindow leaves debited and calling_ai runs alone until they
	// have been idle this long. See MaxModelCall.
	InFlightWindow time.Duration

	now func() time.Time
}

// MaxModelCall bounds how long a run can sit in calling_ai when each model
// attempt is cut off at timeout.
func MaxModelCall(timeout time.Duration) time.Duration {
	return llmAttempts*timeout + llmRetryBaseDelay
}

// NewReconciler constructs a Reconciler.
func NewReconciler(l DebitLedger, repo Repo, q queue.Client, grace time.Duration) *Reconciler {
	return &Reconciler{
		Ledger:      l,
		Repo:        repo,
		Queue:       q,
		GraceWindow: grace,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run scans debits older than the grace window. With refund set, orphans
// are refunded; otherwise they are reported and escalated.
func (r *Reconciler) Run(ctx context.Context, refund bool) (Report, error) {
	cutoff := r.now().Add(-r.GraceWindow)
	debits, err := r.Ledger.ListUnrefundedDebits(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("list debits: %w", err)
	}

	var candidates []ledger.Transaction
	var ids []string
	debitedRuns := make(map[string]bool)
	for _, d := range debits {
		meta, ok := d.Metadata.(ledger.AnalysisMetadata)
		if !ok {
			continue
		}
		candidates = append(candidates, d)
		ids = append(ids, d.ID)
		debitedRuns[meta.RunID] = true
	}
	report := Report{Scanned: len(candidates), Orphans: []Orphan{}, AbandonedRuns: []string{}, InFlight: []string{}}
	if err := r.settleAbandoned(ctx, cutoff, debitedRuns, refund, &report); err != nil {
		return report, err
	}
	if len(candidates) == 0 {
		return report, nil
	}

	committed, err := r.Repo.CommittedDebits(ctx, ids)
	if err != nil {
		return Report{}, fmt.Errorf("committed debits: %w", err)
	}

	for _, d := range candidates {
		if committed[d.ID] {
			continue
		}
		meta := d.Metadata.(ledger.AnalysisMetadata)
		orphan := Orphan{
			DebitID:       d.ID,
			WorkspaceID:   d.WorkspaceID,
			CaseID:        meta.CaseID,
			RunID:         meta.RunID,
			ReportCredits: d.ReportCredits,
			FullCredits:   d.FullCredits,
			CreatedAt:     d.CreatedAt,
		}
		run, runErr := r.Repo.FindRunByDebit(ctx, d.ID)
		if runErr == nil {
			orphan.RunState = run.State
			if run.State == StateCommitted {
				continue
			}
			if r.inFlight(run) {
				report.InFlight = append(report.InFlight, d.ID)
				telemetry.Info("reconcile.run_in_flight", map[string]any{
					"debit_id":  d.ID,
					"run_id":    run.ID,
					"run_state": string(run.State),
				})
				continue
			}
		} else if !errors.Is(runErr, ErrRunNotFound) {
			return report, fmt.Errorf("find run: %w", runErr)
		}

		if refund {
			r.refund(ctx, &orphan, run, runErr == nil)
		} else {
			orphan.Action = ActionReported
			r.escalate(ctx, orphan, queue.KindOrphanedDebit, "orphaned debit")
		}
		telemetry.Warn("reconcile.orphaned_debit", map[string]any{
			"debit_id":     orphan.DebitID,
			"workspace_id": orphan.WorkspaceID,
			"case_id":      orphan.CaseID,
			"run_id":       orphan.RunID,
			"run_state":    string(orphan.RunState),
			"action":       orphan.Action,
		})
		report.Orphans = append(report.Orphans, orphan)
	}

	telemetry.Info("reconcile.complete", map[string]any{
		"scanned": report.Scanned,
		"orphans": len(report.Orphans),
		"refund":  refund,
	})
	return report, nil
}

func (r *Reconciler) inFlight(run Run) bool {
	if run.State != StateDebited && run.State != StateCallingAI {
		return false
	}
	return r.now().Sub(run.UpdatedAt) < r.InFlightWindow
}

// settleAbandoned rejects runs that died before their debit. Runs holding a
// debit are left to the debit scan.
func (r *Reconciler) settleAbandoned(ctx context.Context, cutoff time.Time, debitedRuns map[string]bool, settle bool, report *Report) error {
	runs, err := r.Repo.ListRunsByState(ctx, []State{StateValidating}, cutoff)
	if err != nil {
		return fmt.Errorf("list stale runs: %w", err)
	}
	for _, run := range runs {
		if len(run.DebitTransactionIDs) > 0 || debitedRuns[run.ID] {
			continue
		}
		report.AbandonedRuns = append(report.AbandonedRuns, run.ID)
		if !settle {
			continue
		}
		run.State = StateRejected
		run.ErrorMessage = "abandoned before debit"
		run.UpdatedAt = r.now()
		if err := r.Repo.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("reject stale run: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) refund(ctx context.Context, orphan *Orphan, run Run, haveRun bool) {
	res, err := r.Ledger.Refund(ctx, []string{orphan.DebitID}, "reconcile:orphaned_debit",
		ledger.RefundMetadata{Cause: "orphaned_debit", RunID: orphan.RunID}, ledger.Options{})
	switch {
	case errors.Is(err, ledger.ErrAlreadyRefunded):
		orphan.Action = ActionAlreadyRefunded
		return
	case err != nil:
		orphan.Action = ActionRefundFailed
		orphan.Error = sanitizeError(err)
		r.escalate(ctx, *orphan, queue.KindCreditsLost, orphan.Error)
		return
	}
	orphan.Action = ActionRefunded
	if !haveRun {
		return
	}
	run.RefundTransactionIDs = append(run.RefundTransactionIDs, res.NewTransactionIDs...)
	run.State = StateRefunded
	run.UpdatedAt = r.now()
	if err := r.Repo.UpdateRun(ctx, run); err != nil {
		telemetry.Error("reconcile.run_update_failed", map[string]any{
			"run_id": run.ID,
			"error":  err,
		})
	}
}

func (r *Reconciler) escalate(ctx context.Context, orphan Orphan, kind queue.Kind, reason string) {
	if r.Queue == nil {
		return
	}
	err := r.Queue.Send(ctx, queue.Message{
		Kind:                kind,
		WorkspaceID:         orphan.WorkspaceID,
		CaseID:              orphan.CaseID,
		RunID:               orphan.RunID,
		DebitTransactionIDs: []string{orphan.DebitID},
		Reason:              reason,
		EnqueuedAt:          r.now().Format(time.RFC3339),
	})
	if err != nil {
		telemetry.Critical("reconcile.escalation_failed", map[string]any{
			"debit_id": orphan.DebitID,
			"error":    err,
		})
	}
}
