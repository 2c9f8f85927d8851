// Package push drives a multicast push provider: it splits a notify-list
// into provider-sized chunks, sends them with bounded parallelism and
// aggregates per-token results.
package push

import (
	"context"
	"maps"

	"go.uber.org/zap"
)

// MaxMulticastTokens is the provider's ceiling for one multicast call.
const MaxMulticastTokens = 500

// Error codes attached to failed results that did not come from the provider itself.
const (
	CodeProviderError = "provider_error"
	CodeMissingResult = "missing_result"
)

// Data keys understood by receiving devices.
const (
	DataType              = "type"
	DataRequestID         = "requestId"
	DataNotificationID    = "notificationId"
	DataBloodGroup        = "bloodGroup"
	DataHospital          = "hospital"
	DataDistrict          = "district"
	DataUrgency           = "urgency"
	DataUnits             = "units"
	DataRecipientUserID   = "recipientUserId"
	DataRecipientLoggedIn = "recipientIsLoggedIn"

	TypeBloodRequest = "blood_request"
)

// Message is the payload shared by every token in a dispatch.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Target is one device to reach. Data is merged over Message.Data for this
// token only, which lets each recipient learn who the push was addressed to.
type Target struct {
	Token string
	Data  map[string]string
}

// DataFor returns the merged data map for t.
func (m Message) DataFor(t Target) map[string]string {
	out := make(map[string]string, len(m.Data)+len(t.Data))
	maps.Copy(out, m.Data)
	maps.Copy(out, t.Data)
	return out
}

// Result is the provider's answer for one token.
type Result struct {
	Token     string
	Success   bool
	ErrorCode string
}

// Provider sends one message to at most MaxMulticastTokens targets and
// returns one result per target in submission order. A non-nil error means
// the whole call failed.
type Provider interface {
	SendMulticast(ctx context.Context, targets []Target, msg Message) ([]Result, error)
}

// LogProvider pretends every send succeeds. Used in development.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a LogProvider.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

// SendMulticast logs the call and reports success for every target.
func (p *LogProvider) SendMulticast(ctx context.Context, targets []Target, msg Message) ([]Result, error) {
	p.logger.Info("push multicast",
		zap.String("title", msg.Title),
		zap.Int("tokens", len(targets)),
	)

	results := make([]Result, len(targets))
	for i, t := range targets {
		results[i] = Result{Token: t.Token, Success: true}
	}
	return results, nil
}
