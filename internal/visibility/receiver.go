package visibility

import (
	"context"

	"go.uber.org/zap"
)

// Renderer displays a push on the device. The UI lives outside this module.
type Renderer interface {
	Render(ctx context.Context, title, body string, p Push) error
}

// Identity reports who is on the device when a push arrives.
type Identity interface {
	SessionUserID() string
	LastKnownUserID() string
}

// Receiver is the device-side entry point for incoming pushes.
type Receiver struct {
	identity Identity
	renderer Renderer
	logger   *zap.Logger
}

// NewReceiver creates a Receiver.
func NewReceiver(identity Identity, renderer Renderer, logger *zap.Logger) *Receiver {
	return &Receiver{identity: identity, renderer: renderer, logger: logger}
}

// Handle decodes a push, applies the policy and renders it when allowed.
func (r *Receiver) Handle(ctx context.Context, title, body string, data map[string]string) (Decision, error) {
	p := ParsePushData(data)

	d := Decide(Input{
		TargetUserID:            p.TargetUserID,
		SessionUserID:           r.identity.SessionUserID(),
		LastKnownUserID:         r.identity.LastKnownUserID(),
		RecipientLoggedInAtSend: p.RecipientLoggedIn,
	})

	if d == Archive {
		r.logger.Debug("push archived",
			zap.String("notification_id", p.NotificationID),
			zap.String("target_user_id", p.TargetUserID),
			zap.Bool("recipient_logged_in", p.RecipientLoggedIn),
		)
		return d, nil
	}

	return d, r.renderer.Render(ctx, title, body, p)
}
