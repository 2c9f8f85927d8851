// Package visibility decides on the receiving device whether an incoming push
// may be shown to whoever is using the device right now.
//
// A shared device can change hands between the moment a push is sent and the
// moment it arrives. History is always written server-side, so a push that is
// not rendered is never lost: the recipient finds it in their notification list.
package visibility

import (
	"strconv"

	"github.com/lalithlochan/bloodlink/internal/push"
)

// Decision is what the device does with one push.
type Decision int

const (
	// Archive keeps the push out of the tray. The server-side record remains.
	Archive Decision = iota
	// Render shows the push to the current user.
	Render
)

func (d Decision) String() string {
	if d == Render {
		return "render"
	}
	return "archive"
}

// Input is everything the policy looks at.
type Input struct {
	// TargetUserID is the account the push was addressed to. Empty for
	// broadcast pushes without a target.
	TargetUserID string
	// SessionUserID is the account signed in on the device, empty when nobody is.
	SessionUserID string
	// LastKnownUserID is the last account cached on the device.
	LastKnownUserID string
	// RecipientLoggedInAtSend is the target's login flag when the push was sent.
	RecipientLoggedInAtSend bool
}

// Decide applies the policy. A push without a target is always rendered.
// Otherwise it is rendered only when it is addressed to the device's current
// identity and the recipient was logged in when it was sent.
func Decide(in Input) Decision {
	if in.TargetUserID == "" {
		return Render
	}
	if forThisIdentity(in) && in.RecipientLoggedInAtSend {
		return Render
	}
	return Archive
}

func forThisIdentity(in Input) bool {
	if in.SessionUserID != "" {
		return in.TargetUserID == in.SessionUserID
	}
	return in.LastKnownUserID != "" && in.TargetUserID == in.LastKnownUserID
}

// Push is the decoded data map of an incoming blood request push.
type Push struct {
	Type              string
	RequestID         string
	NotificationID    string
	BloodGroup        string
	Hospital          string
	District          string
	Urgency           string
	Units             int
	TargetUserID      string
	RecipientLoggedIn bool
}

// ParsePushData decodes the string map delivered with a push. Unknown keys are
// ignored. A missing or unparsable login flag reads as false.
func ParsePushData(data map[string]string) Push {
	p := Push{
		Type:           data[push.DataType],
		RequestID:      data[push.DataRequestID],
		NotificationID: data[push.DataNotificationID],
		BloodGroup:     data[push.DataBloodGroup],
		Hospital:       data[push.DataHospital],
		District:       data[push.DataDistrict],
		Urgency:        data[push.DataUrgency],
		TargetUserID:   data[push.DataRecipientUserID],
	}
	p.Units, _ = strconv.Atoi(data[push.DataUnits])
	p.RecipientLoggedIn, _ = strconv.ParseBool(data[push.DataRecipientLoggedIn])
	return p
}
