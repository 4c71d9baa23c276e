package ingestion

import "time"

// Status is the lifecycle of a provider request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s may no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request tracks one provider lookup; its id is the webhook reference_id.
type Request struct {
	RequestID    string    `json:"requestId"`
	CaseID       string    `json:"caseId"`
	Status       Status    `json:"status"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Outcome is what a delivery did.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeCached    Outcome = "cached"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result summarizes a handled delivery.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	CaseID      string  `json:"caseId,omitempty"`
	RequestID   string  `json:"requestId"`
	Staged      int     `json:"staged"`
	Attachments int     `json:"attachments"`
	Conflicts   int     `json:"conflicts"`
	CaseType    string  `json:"caseType,omitempty"`
}
