package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/push"
)

type fakeSQS struct {
	sent     []string
	sendErr  error
	inbox    []types.Message
	deleted  []string
	released map[string]int32
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String(fmt.Sprintf("m-%d", len(f.sent)))}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	n := min(int(in.MaxNumberOfMessages), len(f.inbox))
	out := f.inbox[:n]
	f.inbox = f.inbox[n:]
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.released == nil {
		f.released = make(map[string]int32)
	}
	f.released[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func failures(n int) []push.Result {
	out := make([]push.Result, n)
	for i := range out {
		out[i] = push.Result{Token: fmt.Sprintf("fcm:token-%04d", i), ErrorCode: "EndpointDisabled"}
	}
	return out
}

func TestReportFailuresSplitsLargeSets(t *testing.T) {
	api := &fakeSQS{}
	p := NewProducer(api, "https://sqs.local/queue", zap.NewNop())
	reqID := uuid.New()

	if err := p.ReportFailures(context.Background(), reqID, failures(450)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(api.sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(api.sent))
	}

	sizes := []int{200, 200, 50}
	for i, body := range api.sent {
		var ev Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if ev.RequestID != reqID.String() {
			t.Errorf("message %d: request id %s, want %s", i, ev.RequestID, reqID)
		}
		if len(ev.Failures) != sizes[i] {
			t.Errorf("message %d: %d failures, want %d", i, len(ev.Failures), sizes[i])
		}
	}
}

func TestReportFailuresEmpty(t *testing.T) {
	api := &fakeSQS{sendErr: errors.New("should not be called")}
	p := NewProducer(api, "q", zap.NewNop())

	if err := p.ReportFailures(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReportFailuresSendError(t *testing.T) {
	api := &fakeSQS{sendErr: errors.New("throttled")}
	p := NewProducer(api, "q", zap.NewNop())

	err := p.ReportFailures(context.Background(), uuid.New(), failures(1))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestConsumerReceive(t *testing.T) {
	good, _ := json.Marshal(Event{RequestID: "r1", Failures: []TokenFailure{{Token: "fcm:abc-123456", ErrorCode: "NotFound"}}})
	api := &fakeSQS{inbox: []types.Message{
		{Body: aws.String(string(good)), ReceiptHandle: aws.String("h1")},
		{Body: aws.String("{not json"), ReceiptHandle: aws.String("h2")},
	}}
	c := NewConsumer(api, "q", zap.NewNop())

	got, err := c.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Err != nil || got[0].Event.RequestID != "r1" || got[0].Event.Failures[0].ErrorCode != "NotFound" {
		t.Errorf("unexpected first message: %+v", got[0])
	}
	if got[1].Err == nil || got[1].ReceiptHandle != "h2" {
		t.Errorf("expected decode error with handle h2, got %+v", got[1])
	}

	if err := c.Delete(context.Background(), "h1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Release(context.Background(), "h2", 30); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "h1" {
		t.Errorf("deleted = %v", api.deleted)
	}
	if api.released["h2"] != 30 {
		t.Errorf("released = %v", api.released)
	}
}
