package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/ledger"
	"caseflow-backend/internal/llm"
	"caseflow-backend/internal/queue"
	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/telemetry"
	"caseflow-backend/internal/timeline"
)

const (
	defaultRefundAttempts = 3
	unlimitedActor        = "unlimited_workspace"
)

// CaseStore is the lifecycle side of the gate.
type CaseStore interface {
	Get(ctx context.Context, caseID string) (cases.Case, error)
	MarkAnalyzed(ctx context.Context, caseID string) (cases.Case, error)
}

// Ledger charges and reverses analysis credits.
type Ledger interface {
	Debit(ctx context.Context, workspaceID string, reportCredits, fullCredits int, reason string, meta ledger.Metadata, opts ledger.Options) (ledger.DebitResult, error)
	Refund(ctx context.Context, debitIDs []string, reason string, meta ledger.Metadata, opts ledger.Options) (ledger.RefundResult, error)
}

// TimelineReader supplies the canonical timeline sent to the model.
type TimelineReader interface {
	List(ctx context.Context, caseID string) ([]timeline.Entry, error)
}

// Deps are the collaborators of the gate. Queue may be nil, in which case
// escalations are only logged.
type Deps struct {
	Repo      Repo
	Cases     CaseStore
	Ledger    Ledger
	Timeline  TimelineReader
	Analyzer  llm.Analyzer
	Queue     queue.Client
	Costs     CostTable
	Unlimited []string
}

// Service runs the debit-before-work analysis gate.
type Service struct {
	Deps

	unlimited      map[string]bool
	now            func() time.Time
	newID          func() string
	retryDelay     time.Duration
	refundAttempts int
}

// Outcome is a committed analysis.
type Outcome struct {
	Run     Run     `json:"run"`
	Version Version `json:"analysis"`
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	if deps.Costs == nil {
		deps.Costs = DefaultCosts()
	}
	unlimited := make(map[string]bool, len(deps.Unlimited))
	for _, ws := range deps.Unlimited {
		unlimited[ws] = true
	}
	return &Service{
		Deps:           deps,
		unlimited:      unlimited,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		retryDelay:     llmRetryBaseDelay,
		refundAttempts: defaultRefundAttempts,
	}
}

// Request runs one paid analysis of a case. Once the debit succeeds, every
// exit other than a committed Version refunds it, including panics and
// cancellation of ctx.
func (s *Service) Request(ctx context.Context, caseID string, t Type) (out Outcome, err error) {
	if t == "" {
		t = TypeFull
	}
	cost, ok := s.Costs.For(t)
	if !ok {
		return Outcome{}, ErrInvalidType
	}
	cs, err := s.Cases.Get(ctx, caseID)
	if err != nil {
		return Outcome{}, err
	}
	if !cs.OnboardingStatus.CanRequestAnalysis() {
		telemetry.Info("analysis.rejected", map[string]any{
			"request_id":        requestIDFromContext(ctx),
			"case_id":           caseID,
			"onboarding_status": string(cs.OnboardingStatus),
		})
		return Outcome{}, ErrCaseNotReady
	}

	now := s.now()
	run := Run{
		ID:           s.newID(),
		CaseID:       cs.ID,
		WorkspaceID:  cs.WorkspaceID,
		AnalysisType: t,
		State:        StateValidating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.CreateRun(ctx, run); err != nil {
		return Outcome{}, fmt.Errorf("create run: %w", err)
	}

	opts := ledger.Options{}
	if s.unlimited[cs.WorkspaceID] {
		opts = ledger.Options{Bypass: true, Actor: unlimitedActor}
	}
	meta := ledger.AnalysisMetadata{CaseID: cs.ID, AnalysisType: string(t), RunID: run.ID}
	debit, err := s.Ledger.Debit(ctx, cs.WorkspaceID, cost.ReportCredits, cost.FullCredits, "analysis:"+string(t), meta, opts)
	if err != nil {
		s.reject(ctx, &run, err.Error())
		return Outcome{Run: run}, fmt.Errorf("debit: %w", err)
	}
	if !debit.Success {
		s.reject(ctx, &run, "insufficient credits")
		return Outcome{Run: run}, &InsufficientCreditsError{Required: debit.Required, Available: debit.Available}
	}
	run.DebitTransactionIDs = debit.TransactionIDs

	committed := false
	defer func() {
		if committed {
			return
		}
		cause := err
		if r := recover(); r != nil {
			cause = fmt.Errorf("panic: %v", r)
			telemetry.Error("analysis.panic", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"run_id":     run.ID,
				"panic":      fmt.Sprint(r),
				"stack":      string(debug.Stack()),
			})
		}
		if cause == nil {
			cause = errors.New("analysis ended without a result")
		}
		err = s.compensate(ctx, &run, cause)
		out = Outcome{Run: run}
	}()

	if err = s.persist(ctx, &run, StateDebited); err != nil {
		return Outcome{}, err
	}
	var input llm.AnalyzeInput
	if input, err = s.buildInput(ctx, cs, t); err != nil {
		return Outcome{}, err
	}
	if err = s.persist(ctx, &run, StateCallingAI); err != nil {
		return Outcome{}, err
	}

	if s.Analyzer == nil {
		err = errors.New("no analyzer configured")
		return Outcome{}, err
	}
	started := s.now()
	var result llm.AnalysisOutput
	result, err = newRetryingAnalyzer(s.Analyzer, run.ID, s.retryDelay).Analyze(ctx, input)
	metrics.ObserveAnalysisDurationMs(metrics.SinceMillis(started))
	if err != nil {
		err = fmt.Errorf("ai call: %w", err)
		return Outcome{}, err
	}

	var version Version
	version, err = s.Repo.CreateVersion(ctx, Version{
		ID:                  s.newID(),
		CaseID:              cs.ID,
		Status:              VersionStatusCompleted,
		AnalysisType:        t,
		CostEstimate:        cost,
		DebitTransactionIDs: run.DebitTransactionIDs,
		RunID:               run.ID,
		Result:              result.Result,
		CreatedAt:           s.now(),
	})
	if err != nil {
		err = fmt.Errorf("persist version: %w", err)
		return Outcome{}, err
	}
	committed = true

	// The version is the commit point; what follows must not undo it.
	detached := context.WithoutCancel(ctx)
	run.VersionID = version.ID
	_ = s.persist(detached, &run, StateCommitted)
	if _, markErr := s.Cases.MarkAnalyzed(detached, cs.ID); markErr != nil {
		telemetry.Error("analysis.mark_analyzed_failed", map[string]any{
			"case_id": cs.ID,
			"run_id":  run.ID,
			"error":   markErr,
		})
	}
	metrics.IncAnalysisCommitted()
	telemetry.Info("analysis.committed", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"case_id":       cs.ID,
		"workspace_id":  cs.WorkspaceID,
		"run_id":        run.ID,
		"version":       version.Version,
		"analysis_type": string(t),
		"model":         result.Model,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
		"bypassed":      debit.Bypassed,
	})
	return Outcome{Run: run, Version: version}, nil
}

func (s *Service) buildInput(ctx context.Context, cs cases.Case, t Type) (llm.AnalyzeInput, error) {
	input := llm.AnalyzeInput{
		CaseID:        cs.ID,
		AnalysisType:  string(t),
		CaseType:      cs.Type,
		LawsuitNumber: cs.Metadata.LawsuitNumber,
		Court:         cs.Metadata.Court,
		Title:         cs.Metadata.Title,
		Subject:       cs.Metadata.Subject,
	}
	if s.Timeline == nil {
		return input, nil
	}
	entries, err := s.Timeline.List(ctx, cs.ID)
	if err != nil {
		return llm.AnalyzeInput{}, fmt.Errorf("load timeline: %w", err)
	}
	input.Timeline = make([]llm.TimelineEvent, 0, len(entries))
	for _, e := range entries {
		input.Timeline = append(input.Timeline, llm.TimelineEvent{
			Date:        e.EventDate,
			EventType:   e.EventType,
			Description: e.Description,
			Source:      string(e.Source),
			HasConflict: e.HasConflict,
		})
	}
	return input, nil
}

// compensate reverses the run's debit after a failure. It ignores
// cancellation of ctx.
func (s *Service) compensate(ctx context.Context, run *Run, cause error) error {
	ctx = context.WithoutCancel(ctx)
	run.ErrorMessage = sanitizeError(cause)
	_ = s.persist(ctx, run, StateRefundPending)

	if len(run.DebitTransactionIDs) == 0 {
		if s.unlimited[run.WorkspaceID] {
			s.auditBypassRefund(ctx, *run)
		}
		_ = s.persist(ctx, run, StateRefunded)
		return fmt.Errorf("%w: %w", ErrAnalysisFailed, cause)
	}

	res, err := s.refund(ctx, *run)
	if err != nil {
		_ = s.persist(ctx, run, StateRefundFailed)
		s.escalate(ctx, *run, cause, err)
		return fmt.Errorf("%w: %w", ErrCreditsLost, cause)
	}
	run.RefundTransactionIDs = res.NewTransactionIDs
	_ = s.persist(ctx, run, StateRefunded)
	metrics.IncAnalysisRefunded()
	telemetry.Warn("analysis.refunded", map[string]any{
		"request_id":             requestIDFromContext(ctx),
		"case_id":                run.CaseID,
		"workspace_id":           run.WorkspaceID,
		"run_id":                 run.ID,
		"debit_transaction_ids":  run.DebitTransactionIDs,
		"refund_transaction_ids": res.NewTransactionIDs,
		"cause":                  run.ErrorMessage,
	})
	return fmt.Errorf("%w: %w", ErrAnalysisFailed, cause)
}

// auditBypassRefund records the reversal of a bypassed debit. No credits
// moved, so a failure is logged and nothing is escalated.
func (s *Service) auditBypassRefund(ctx context.Context, run Run) {
	meta := ledger.RefundMetadata{Cause: "analysis_failed", RunID: run.ID}
	opts := ledger.Options{Bypass: true, Actor: unlimitedActor, WorkspaceID: run.WorkspaceID}
	if _, err := s.Ledger.Refund(ctx, nil, "analysis_failed", meta, opts); err != nil {
		telemetry.Error("analysis.bypass_refund_audit_failed", map[string]any{
			"case_id":      run.CaseID,
			"workspace_id": run.WorkspaceID,
			"run_id":       run.ID,
			"error":        err,
		})
	}
}

// refund retries infrastructure failures. A debit someone else already
// refunded counts as done.
func (s *Service) refund(ctx context.Context, run Run) (ledger.RefundResult, error) {
	meta := ledger.RefundMetadata{Cause: "analysis_failed", RunID: run.ID}
	var lastErr error
	for attempt := 1; attempt <= s.refundAttempts; attempt++ {
		res, err := s.Ledger.Refund(ctx, run.DebitTransactionIDs, "analysis_failed", meta, ledger.Options{})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ledger.ErrAlreadyRefunded) {
			return ledger.RefundResult{Success: true, NewTransactionIDs: []string{}}, nil
		}
		lastErr = err
		if ledger.IsRefundRejection(err) {
			break
		}
		if attempt < s.refundAttempts {
			time.Sleep(s.retryDelay * time.Duration(attempt))
		}
	}
	return ledger.RefundResult{}, lastErr
}

func (s *Service) escalate(ctx context.Context, run Run, cause, refundErr error) {
	fields := map[string]any{
		"request_id":            requestIDFromContext(ctx),
		"case_id":               run.CaseID,
		"workspace_id":          run.WorkspaceID,
		"run_id":                run.ID,
		"debit_transaction_ids": run.DebitTransactionIDs,
		"cause":                 sanitizeError(cause),
		"refund_error":          sanitizeError(refundErr),
	}
	telemetry.Critical("analysis.credits_lost", fields)
	if s.Queue == nil {
		return
	}
	msg := queue.Message{
		Kind:                queue.KindCreditsLost,
		WorkspaceID:         run.WorkspaceID,
		CaseID:              run.CaseID,
		RunID:               run.ID,
		RequestID:           requestIDFromContext(ctx),
		DebitTransactionIDs: run.DebitTransactionIDs,
		Reason:              sanitizeError(refundErr),
		EnqueuedAt:          s.now().Format(time.RFC3339),
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		fields["error"] = err
		telemetry.Critical("analysis.escalation_failed", fields)
	}
}

func (s *Service) reject(ctx context.Context, run *Run, reason string) {
	run.ErrorMessage = reason
	_ = s.persist(ctx, run, StateRejected)
}

func (s *Service) persist(ctx context.Context, run *Run, state State) error {
	from := run.State
	run.State = state
	run.UpdatedAt = s.now()
	if err := s.Repo.UpdateRun(ctx, *run); err != nil {
		telemetry.Error("analysis.run_update_failed", map[string]any{
			"run_id": run.ID,
			"state":  string(state),
			"error":  err,
		})
		return fmt.Errorf("update run: %w", err)
	}
	telemetry.Info("analysis.state", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"run_id":     run.ID,
		"case_id":    run.CaseID,
		"transition": string(from) + "->" + string(state),
	})
	return nil
}

// List returns a case's committed analyses, newest first.
func (s *Service) List(ctx context.Context, caseID string) ([]Version, error) {
	return s.Repo.ListVersions(ctx, caseID)
}

// GetRun returns a run of the case.
func (s *Service) GetRun(ctx context.Context, caseID, runID string) (Run, error) {
	run, err := s.Repo.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if run.CaseID != caseID {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}
