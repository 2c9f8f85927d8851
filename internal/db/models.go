package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/bloodlink/internal/blood"
)

// Request status constants
const (
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Urgency constants
const (
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

// HighUrgencyUnits is the unit count at which a request is marked high urgency
// when the requester does not say otherwise.
const HighUrgencyUnits = 5

// Donor is the donor-facing projection of a registered user: profile,
// availability and the routing fields for the most recently registered device.
type Donor struct {
	DonorID             string      `json:"donor_id"`
	BloodGroup          blood.Group `json:"blood_group"`
	District            string      `json:"district"`
	PushToken           string      `json:"-"`
	DeviceID            string      `json:"device_id"`
	CompoundTokenID     string      `json:"compound_token_id"`
	IsAvailable         bool        `json:"is_available"`
	IsActive            bool        `json:"is_active"`
	IsLoggedIn          bool        `json:"is_logged_in"`
	NotificationEnabled bool        `json:"notification_enabled"`
	LastDonationDate    Instant     `json:"last_donation_date"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Candidate is one row returned by a donor query. Err is set when the stored
// document could not be decoded; such candidates are skipped by matching.
type Candidate struct {
	Donor Donor
	Err   error
}

// DonorQuery selects active donors of one or more groups in a district.
type DonorQuery struct {
	Groups   []blood.Group
	District string
}

// DonorProfile is the full profile written by the donor themselves.
type DonorProfile struct {
	DonorID             string
	BloodGroup          blood.Group
	District            string
	IsAvailable         bool
	IsActive            bool
	NotificationEnabled bool
	LastDonationDate    Instant
}

// TokenProjection is what a device registration writes to both the
// user-facing (device_tokens) and donor-facing (donors) projections.
type TokenProjection struct {
	UserID     string
	DeviceID   string
	Token      string
	DeviceType string
	AppVersion string
	IsLoggedIn bool
}

// CompoundTokenID is the idempotency key for one device registration.
func (p TokenProjection) CompoundTokenID() string {
	return CompoundTokenID(p.UserID, p.DeviceID)
}

// CompoundTokenID joins a user and device id as userID_deviceID.
func CompoundTokenID(userID, deviceID string) string {
	return userID + "_" + deviceID
}

// BloodRequest is an urgent request created once by the requester.
type BloodRequest struct {
	ID          uuid.UUID   `json:"id"`
	BloodGroup  blood.Group `json:"blood_group"`
	District    string      `json:"district"`
	PatientName string      `json:"patient_name"`
	Hospital    string      `json:"hospital"`
	Units       int         `json:"units"`
	Urgency     string      `json:"urgency"`
	RequesterID string      `json:"requester_id"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NotificationRecord is one recipient's in-app history entry for a request.
type NotificationRecord struct {
	ID          uuid.UUID   `json:"id"`
	RecipientID string      `json:"recipient_id"`
	RequestID   uuid.UUID   `json:"request_id"`
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	BloodGroup  blood.Group `json:"blood_group"`
	Hospital    string      `json:"hospital"`
	District    string      `json:"district"`
	Urgency     string      `json:"urgency"`
	Units       int         `json:"units"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
}

// notificationNamespace seeds the deterministic notification ids.
var notificationNamespace = uuid.MustParse("6f1c6d0e-3b8a-5c52-9d0e-b1a7d2f0c9a4")

// NotificationID derives the record id for (requestID, recipientID). The same
// pair always yields the same id, which makes recording a request idempotent.
func NotificationID(requestID uuid.UUID, recipientID string) uuid.UUID {
	return uuid.NewSHA1(notificationNamespace, []byte(requestID.String()+":"+recipientID))
}

// ListOptions controls pagination of notification history.
type ListOptions struct {
	Limit      int
	Offset     int
	OnlyUnread bool
}
