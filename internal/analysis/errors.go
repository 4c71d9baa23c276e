package analysis

import (
	"errors"
	"fmt"

	"caseflow-backend/internal/ledger"
)

var (
	ErrCaseNotReady        = errors.New("case is not ready for analysis")
	ErrInvalidType         = errors.New("unknown analysis type")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAnalysisFailed      = errors.New("analysis failed")
	ErrCreditsLost         = errors.New("analysis failed and credits could not be refunded")
	ErrRunNotFound         = errors.New("analysis run not found")
)

// InsufficientCreditsError carries the shortfall of a refused debit.
type InsufficientCreditsError struct {
	Required  ledger.Balance
	Available ledger.Balance
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d report/%d full, available %d report/%d full",
		e.Required.ReportCredits, e.Required.FullCredits, e.Available.ReportCredits, e.Available.FullCredits)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
