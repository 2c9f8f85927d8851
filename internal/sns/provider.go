// Package sns delivers mobile push notifications through SNS platform endpoints.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/bloodlink/internal/push"
)

// API is the subset of the SNS client the provider uses.
type API interface {
	CreatePlatformEndpoint(ctx context.Context, in *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds the platform application to register device tokens under.
type Config struct {
	Region                 string
	Endpoint               string
	PlatformApplicationARN string
	Concurrency            int
}

// Provider implements push.Provider. SNS has no multicast to device
// endpoints, so one chunk becomes one Publish per token, run concurrently.
type Provider struct {
	client      API
	appARN      string
	concurrency int
	logger      *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]string // token -> endpoint ARN
}

// NewProvider loads AWS config and creates a Provider. Endpoint overrides the
// base URL (LocalStack).
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sns push provider initialized",
		zap.String("platform_application_arn", cfg.PlatformApplicationARN),
	)

	return NewProviderWithClient(client, cfg, logger), nil
}

// NewProviderWithClient creates a Provider around an existing client.
func NewProviderWithClient(client API, cfg Config, logger *zap.Logger) *Provider {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &Provider{
		client:      client,
		appARN:      cfg.PlatformApplicationARN,
		concurrency: cfg.Concurrency,
		logger:      logger,
		endpoints:   make(map[string]string),
	}
}

// SendMulticast publishes msg to every target. Per-token failures are
// reported in the results; the returned error is only set when ctx ends
// before the chunk could be attempted.
func (p *Provider) SendMulticast(ctx context.Context, targets []push.Target, msg push.Message) ([]push.Result, error) {
	if len(targets) > push.MaxMulticastTokens {
		return nil, fmt.Errorf("sns: %d targets exceeds multicast limit of %d", len(targets), push.MaxMulticastTokens)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]push.Result, len(targets))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = p.sendOne(ctx, t, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (p *Provider) sendOne(ctx context.Context, t push.Target, msg push.Message) push.Result {
	arn, err := p.endpointFor(ctx, t.Token)
	if err != nil {
		// Endpoint creation errors are application-scoped, never token-scoped.
		p.logger.Warn("sns endpoint registration failed",
			zap.String("sns_code", ErrorCode(err)),
			zap.Error(err),
		)
		return push.Result{Token: t.Token, ErrorCode: push.CodeProviderError}
	}

	body, err := messageBody(msg, msg.DataFor(t))
	if err != nil {
		return push.Result{Token: t.Token, ErrorCode: "payload_error"}
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(arn),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		code := ErrorCode(err)
		if IsTerminal(code) {
			p.forget(t.Token)
			return push.Result{Token: t.Token, ErrorCode: code}
		}
		p.logger.Warn("sns publish failed",
			zap.String("sns_code", code),
			zap.Error(err),
		)
		return push.Result{Token: t.Token, ErrorCode: push.CodeProviderError}
	}

	return push.Result{Token: t.Token, Success: true}
}

func (p *Provider) endpointFor(ctx context.Context, token string) (string, error) {
	p.mu.RLock()
	arn, ok := p.endpoints[token]
	p.mu.RUnlock()
	if ok {
		return arn, nil
	}

	out, err := p.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(p.appARN),
		Token:                  aws.String(token),
	})
	if err != nil {
		return "", fmt.Errorf("create platform endpoint: %w", err)
	}
	if out.EndpointArn == nil {
		return "", errors.New("create platform endpoint: empty endpoint arn")
	}

	p.mu.Lock()
	p.endpoints[token] = *out.EndpointArn
	p.mu.Unlock()
	return *out.EndpointArn, nil
}

func (p *Provider) forget(token string) {
	p.mu.Lock()
	delete(p.endpoints, token)
	p.mu.Unlock()
}

// messageBody renders the per-platform JSON structure SNS expects when
// MessageStructure is "json".
func messageBody(msg push.Message, data map[string]string) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": msg.Title, "body": msg.Body},
		"data":         data,
		"android":      map[string]string{"priority": "high"},
	})
	if err != nil {
		return "", err
	}

	apnsPayload := map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": msg.Title, "body": msg.Body},
			"sound": "default",
		},
	}
	for k, v := range data {
		apnsPayload[k] = v
	}
	apns, err := json.Marshal(apnsPayload)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{
		"default":      msg.Body,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Publish error codes that mean the device endpoint is gone for good.
const (
	CodeEndpointDisabled = "EndpointDisabled"
	CodeNotFound         = "NotFound"
)

// ErrorCode extracts the SNS API error code, or push.CodeProviderError when
// the failure did not come from the API.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() != "" {
		return apiErr.ErrorCode()
	}
	return push.CodeProviderError
}

// IsTerminal reports whether a result code means the token should be dropped.
// Only codes that Publish returns for a single endpoint qualify; every other
// failure is reported as push.CodeProviderError.
func IsTerminal(code string) bool {
	switch code {
	case CodeEndpointDisabled, CodeNotFound:
		return true
	}
	return false
}
