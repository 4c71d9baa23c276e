package queue

import (
	"context"
	"sync"

	"caseflow-backend/internal/shared/telemetry"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// LogClient stands in when no queue is configured: every message becomes a
// critical log line and is kept in memory for inspection.
type LogClient struct {
	mu   sync.Mutex
	sent []Message
}

// NewLogClient constructs a LogClient.
func NewLogClient() *LogClient {
	return &LogClient{}
}

func (c *LogClient) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	telemetry.Critical("queue.escalation", map[string]any{
		"kind":                  string(msg.Kind),
		"workspace_id":          msg.WorkspaceID,
		"case_id":               msg.CaseID,
		"run_id":                msg.RunID,
		"debit_transaction_ids": msg.DebitTransactionIDs,
		"reason":                msg.Reason,
	})
	return nil
}

// Sent returns a copy of the messages sent so far.
func (c *LogClient) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

var _ Client = (*LogClient)(nil)
