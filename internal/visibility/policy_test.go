package visibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/push"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{"no target always renders", Input{SessionUserID: "u1"}, Render},
		{"no target with nobody signed in", Input{}, Render},
		{"session user logged in at send", Input{TargetUserID: "u1", SessionUserID: "u1", RecipientLoggedInAtSend: true}, Render},
		{"session user logged out at send", Input{TargetUserID: "u1", SessionUserID: "u1"}, Archive},
		{"different session user", Input{TargetUserID: "u1", SessionUserID: "u2", LastKnownUserID: "u1", RecipientLoggedInAtSend: true}, Archive},
		{"no session, last known matches", Input{TargetUserID: "u1", LastKnownUserID: "u1", RecipientLoggedInAtSend: true}, Render},
		{"no session, last known differs", Input{TargetUserID: "u1", LastKnownUserID: "u2", RecipientLoggedInAtSend: true}, Archive},
		{"no session, nothing cached", Input{TargetUserID: "u1", RecipientLoggedInAtSend: true}, Archive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

func TestParsePushData(t *testing.T) {
	p := ParsePushData(map[string]string{
		push.DataType:              push.TypeBloodRequest,
		push.DataRequestID:         "req-1",
		push.DataNotificationID:    "n-1",
		push.DataBloodGroup:        "O-",
		push.DataUnits:             "3",
		push.DataRecipientUserID:   "u1",
		push.DataRecipientLoggedIn: "true",
		"extra":                    "ignored",
	})

	assert.Equal(t, push.TypeBloodRequest, p.Type)
	assert.Equal(t, "req-1", p.RequestID)
	assert.Equal(t, "n-1", p.NotificationID)
	assert.Equal(t, 3, p.Units)
	assert.Equal(t, "u1", p.TargetUserID)
	assert.True(t, p.RecipientLoggedIn)

	p = ParsePushData(map[string]string{push.DataRecipientUserID: "u1", push.DataRecipientLoggedIn: "yes please"})
	assert.False(t, p.RecipientLoggedIn)
	assert.Zero(t, p.Units)
}

type staticIdentity struct{ session, last string }

func (s staticIdentity) SessionUserID() string   { return s.session }
func (s staticIdentity) LastKnownUserID() string { return s.last }

type recordingRenderer struct {
	shown []Push
	err   error
}

func (r *recordingRenderer) Render(_ context.Context, _, _ string, p Push) error {
	r.shown = append(r.shown, p)
	return r.err
}

func TestReceiverHandle(t *testing.T) {
	data := map[string]string{
		push.DataRecipientUserID:   "u2",
		push.DataRecipientLoggedIn: "false",
		push.DataNotificationID:    "n-9",
	}

	t.Run("logged out at send is archived even for the same user", func(t *testing.T) {
		renderer := &recordingRenderer{}
		rx := NewReceiver(staticIdentity{session: "u2", last: "u2"}, renderer, zap.NewNop())

		d, err := rx.Handle(context.Background(), "O- blood needed", "body", data)
		require.NoError(t, err)
		assert.Equal(t, Archive, d)
		assert.Empty(t, renderer.shown)
	})

	t.Run("renders for the signed in recipient", func(t *testing.T) {
		renderer := &recordingRenderer{}
		rx := NewReceiver(staticIdentity{session: "u2"}, renderer, zap.NewNop())

		live := map[string]string{push.DataRecipientUserID: "u2", push.DataRecipientLoggedIn: "true"}
		d, err := rx.Handle(context.Background(), "t", "b", live)
		require.NoError(t, err)
		assert.Equal(t, Render, d)
		assert.Len(t, renderer.shown, 1)
	})

	t.Run("renderer error is returned", func(t *testing.T) {
		renderer := &recordingRenderer{err: errors.New("tray full")}
		rx := NewReceiver(staticIdentity{}, renderer, zap.NewNop())

		_, err := rx.Handle(context.Background(), "t", "b", map[string]string{})
		assert.EqualError(t, err, "tray full")
	})
}
