package analysis

import (
	"encoding/json"
	"time"

	"caseflow-backend/internal/ledger"
)

// Type is the kind of analysis a user asks for.
type Type string

const (
	TypeFull   Type = "full"
	TypeReport Type = "report"
)

// State is a step of the debit-before-work state machine.
type State string

const (
	StateValidating    State = "validating"
	StateDebited       State = "debited"
	StateCallingAI     State = "calling_ai"
	StateCommitted     State = "committed"
	StateRefundPending State = "refund_pending"
	StateRefunded      State = "refunded"
	StateRefundFailed  State = "refund_failed"
	StateRejected      State = "rejected"
)

// Run is the durable record of one analysis request. Every debit it holds
// ends up referenced by a Version or refunded.
type Run struct {
	ID                   string    `json:"id"`
	CaseID               string    `json:"caseId"`
	WorkspaceID          string    `json:"workspaceId"`
	AnalysisType         Type      `json:"analysisType"`
	State                State     `json:"state"`
	DebitTransactionIDs  []string  `json:"debitTransactionIds"`
	RefundTransactionIDs []string  `json:"refundTransactionIds"`
	VersionID            string    `json:"versionId,omitempty"`
	ErrorMessage         string    `json:"errorMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

const VersionStatusCompleted = "completed"

// Version is a committed analysis result. Version numbers grow per case.
type Version struct {
	ID                  string          `json:"id"`
	CaseID              string          `json:"caseId"`
	Version             int             `json:"version"`
	Status              string          `json:"status"`
	AnalysisType        Type            `json:"analysisType"`
	CostEstimate        ledger.Balance  `json:"costEstimate"`
	DebitTransactionIDs []string        `json:"debitTransactionIds"`
	RunID               string          `json:"runId"`
	Result              json.RawMessage `json:"result"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// CostTable prices each analysis type.
type CostTable map[Type]ledger.Balance

// DefaultCosts charges one credit of the matching category.
func DefaultCosts() CostTable {
	return CostTable{
		TypeFull:   {FullCredits: 1},
		TypeReport: {ReportCredits: 1},
	}
}

// For returns the price of t.
func (c CostTable) For(t Type) (ledger.Balance, bool) {
	cost, ok := c[t]
	return cost, ok
}
