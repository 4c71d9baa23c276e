package ledger

import "errors"

var (
	ErrInvalidAmount   = errors.New("credit amounts must be non-negative")
	ErrInvalidRefund   = errors.New("refund must reference existing debit transactions")
	ErrAlreadyRefunded = errors.New("debit transaction already refunded")
	ErrMixedWorkspaces = errors.New("refund spans multiple workspaces")
)
