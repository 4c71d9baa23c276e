package queue

import (
	"encoding/json"
	"errors"
)

// Kind names why a message was raised.
type Kind string

const (
	// KindCreditsLost is a refund that failed after a failed analysis.
	KindCreditsLost Kind = "credits_lost"
	// KindOrphanedDebit is a debit the reconciler found with neither a
	// committed analysis nor a refund.
	KindOrphanedDebit Kind = "orphaned_debit"
)

const messageVersion = 1

// Message is an escalation for manual or automated credit reconciliation.
type Message struct {
	Kind                Kind     `json:"kind"`
	WorkspaceID         string   `json:"workspaceId"`
	CaseID              string   `json:"caseId,omitempty"`
	RunID               string   `json:"runId,omitempty"`
	RequestID           string   `json:"requestId,omitempty"`
	DebitTransactionIDs []string `json:"debitTransactionIds"`
	Reason              string   `json:"reason"`
	EnqueuedAt          string   `json:"enqueuedAt"`
	Version             int      `json:"version"`
}

var ErrInvalidMessage = errors.New("invalid queue message")

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = messageVersion
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message. Messages without a
// known kind or without debits are rejected.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, errors.Join(ErrInvalidMessage, err)
	}
	switch msg.Kind {
	case KindCreditsLost, KindOrphanedDebit:
	default:
		return Message{}, ErrInvalidMessage
	}
	if len(msg.DebitTransactionIDs) == 0 {
		return Message{}, ErrInvalidMessage
	}
	return msg, nil
}
