package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func TestDecodeMessageRejectsUnknownKind(t *testing.T) {
	payload := []byte(`{"kind":"something","workspaceId":"ws-1","debitTransactionIds":["d1"]}`)
	if _, err := DecodeMessage(payload); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	payload = []byte(`{"kind":"credits_lost","workspaceId":"ws-1","debitTransactionIds":[]}`)
	if _, err := DecodeMessage(payload); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage without debits, got %v", err)
	}
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSClientSendsVersionedMessage(t *testing.T) {
	api := &fakeSQS{}
	client := NewSQSClientWithAPI(api, "https://sqs.example/queue")

	err := client.Send(context.Background(), Message{
		Kind:                KindCreditsLost,
		WorkspaceID:         "ws-1",
		RunID:               "run-1",
		DebitTransactionIDs: []string{"d1"},
		Reason:              "refund failed",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("expected one message, got %d", len(api.inputs))
	}
	in := api.inputs[0]
	if *in.QueueUrl != "https://sqs.example/queue" {
		t.Fatalf("unexpected queue url %q", *in.QueueUrl)
	}
	msg, err := DecodeMessage([]byte(*in.MessageBody))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Version != 1 || msg.EnqueuedAt == "" || msg.RunID != "run-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := *in.MessageAttributes["kind"].StringValue; got != "credits_lost" {
		t.Fatalf("unexpected kind attribute %q", got)
	}
}

func TestLogClientKeepsMessages(t *testing.T) {
	c := NewLogClient()
	_ = c.Send(context.Background(), Message{Kind: KindOrphanedDebit, DebitTransactionIDs: []string{"d1"}})
	if got := c.Sent(); len(got) != 1 || got[0].Kind != KindOrphanedDebit {
		t.Fatalf("unexpected sent messages %+v", got)
	}
}
