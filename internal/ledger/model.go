package ledger

import (
	"encoding/json"
	"time"
)

// Kind distinguishes debits from credits. Refunds and grants are credits.
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
)

// Balance is the spendable amount per credit category.
type Balance struct {
	ReportCredits int `json:"reportCredits"`
	FullCredits   int `json:"fullCredits"`
}

// Covers reports whether b can pay for req in both categories.
func (b Balance) Covers(req Balance) bool {
	return b.ReportCredits >= req.ReportCredits && b.FullCredits >= req.FullCredits
}

func (b Balance) IsZero() bool { return b.ReportCredits == 0 && b.FullCredits == 0 }

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID                    string    `json:"id"`
	WorkspaceID           string    `json:"workspaceId"`
	Kind                  Kind      `json:"kind"`
	ReportCredits         int       `json:"reportCredits"`
	FullCredits           int       `json:"fullCredits"`
	Reason                string    `json:"reason"`
	RelatedTransactionIDs []string  `json:"relatedTransactionIds"`
	Metadata              Metadata  `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
}

// MarshalJSON adds the tagged metadata envelope.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type alias Transaction
	meta, err := EncodeMetadata(t.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}{alias: alias(t), Metadata: meta})
}

// AuditAction names an administrative bypass.
type AuditAction string

const (
	AuditBypassDebit  AuditAction = "bypass_debit"
	AuditBypassRefund AuditAction = "bypass_refund"
)

// AuditEvent records a bypassed debit or refund. Bypass never touches the
// balance, so this is the only trace it leaves.
type AuditEvent struct {
	ID            string      `json:"id"`
	WorkspaceID   string      `json:"workspaceId"`
	Action        AuditAction `json:"action"`
	ReportCredits int         `json:"reportCredits"`
	FullCredits   int         `json:"fullCredits"`
	Reason        string      `json:"reason"`
	Actor         string      `json:"actor"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Options alter a debit or refund.
type Options struct {
	Bypass bool
	Actor  string
	// WorkspaceID names the workspace of a bypassed refund, which has no
	// debits to look it up from.
	WorkspaceID string
}

// DebitResult reports a debit attempt. Insufficient credits is a normal
// outcome: Success is false and Available/Required describe the shortfall.
type DebitResult struct {
	Success        bool     `json:"success"`
	Bypassed       bool     `json:"bypassed,omitempty"`
	TransactionIDs []string `json:"transactionIds"`
	Available      Balance  `json:"available"`
	Required       Balance  `json:"required"`
	Error          string   `json:"error,omitempty"`
}

// RefundResult reports a refund attempt.
type RefundResult struct {
	Success           bool     `json:"success"`
	Bypassed          bool     `json:"bypassed,omitempty"`
	NewTransactionIDs []string `json:"newTransactionIds"`
	Error             string   `json:"error,omitempty"`
}
