// Package sqs carries token-health events: the push tokens that failed during
// a dispatch, queued for the audit worker to inspect and clean up.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/metrics"
	"github.com/lalithlochan/bloodlink/internal/push"
)

// maxFailuresPerEvent keeps one message well under the 256 KiB SQS limit.
const maxFailuresPerEvent = 200

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region   string
	Endpoint string
	QueueURL string
}

// TokenFailure is one token the provider rejected.
type TokenFailure struct {
	Token     string `json:"token"`
	ErrorCode string `json:"error_code"`
}

// Event is the payload sent to SQS.
type Event struct {
	RequestID  string         `json:"request_id"`
	Failures   []TokenFailure `json:"failures"`
	EnqueuedAt int64          `json:"enqueued_at"`
}

// NewClient loads AWS config and builds an SQS client. Endpoint overrides the
// base URL (LocalStack).
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer publishes token-health events.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs token-health producer initialized",
		zap.String("queue_url", queueURL),
	)
	return &Producer{client: client, queueURL: queueURL, logger: logger}
}

// ReportFailures queues the failed tokens of one dispatch. Large failure sets
// are split across several messages.
func (p *Producer) ReportFailures(ctx context.Context, requestID uuid.UUID, failures []push.Result) error {
	if len(failures) == 0 {
		return nil
	}

	all := make([]TokenFailure, 0, len(failures))
	for _, f := range failures {
		all = append(all, TokenFailure{Token: f.Token, ErrorCode: f.ErrorCode})
	}

	for start := 0; start < len(all); start += maxFailuresPerEvent {
		end := min(start+maxFailuresPerEvent, len(all))
		if err := p.send(ctx, Event{
			RequestID:  requestID.String(),
			Failures:   all[start:end],
			EnqueuedAt: time.Now().UnixNano(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("request_id", ev.RequestID),
			zap.Int("failures", len(ev.Failures)),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}
	return nil
}

// Received is one message pulled from the queue. Err is set when the body
// could not be decoded; such messages should be deleted, not retried.
type Received struct {
	Event         Event
	ReceiptHandle string
	Err           error
}

// Consumer reads token-health events.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs token-health consumer initialized",
		zap.String("queue_url", queueURL),
	)
	return &Consumer{client: client, queueURL: queueURL, logger: logger}
}

// Receive long-polls for up to limit messages.
func (c *Consumer) Receive(ctx context.Context, limit int32) ([]Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: limit,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	metrics.SetSQSMessagesInFlight(len(result.Messages))

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		r := Received{ReceiptHandle: aws.ToString(m.ReceiptHandle)}
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &r.Event); err != nil {
			c.logger.Error("failed to unmarshal message", zap.Error(err))
			r.Err = fmt.Errorf("invalid message format: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes a message after it has been handled.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Release makes a message visible again after seconds so another poll can retry it.
func (c *Consumer) Release(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
