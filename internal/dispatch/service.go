// Package dispatch runs the request-handling flow: validate, match, record
// history, push, and report the aggregated outcome.
package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/matching"
	"github.com/lalithlochan/bloodlink/internal/metrics"
	"github.com/lalithlochan/bloodlink/internal/push"
)

// RequestStore persists blood requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *db.BloodRequest) error
}

// Matcher produces the ranked notify-list for a request.
type Matcher interface {
	Match(ctx context.Context, req matching.Request) ([]matching.Eligible, error)
}

// Dispatcher sends a push to a set of targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, targets []push.Target, msg push.Message) push.Outcome
}

// TokenHealthReporter receives the failed tokens of a dispatch for later auditing.
type TokenHealthReporter interface {
	ReportFailures(ctx context.Context, requestID uuid.UUID, failures []push.Result) error
}

// SubmitRequest is an inbound blood request as the requester sent it.
type SubmitRequest struct {
	BloodGroup  string `json:"bloodGroup"`
	District    string `json:"district"`
	PatientName string `json:"patientName"`
	Hospital    string `json:"hospital"`
	Units       int    `json:"units"`
	Urgency     string `json:"urgency,omitempty"`
	RequesterID string `json:"requesterId"`
}

// Result is the aggregated answer for one submission. Per-token failures
// show up in FailedNotifications; they do not fail the submission.
type Result struct {
	Success             bool      `json:"success"`
	RequestID           uuid.UUID `json:"requestId"`
	EligibleDonors      int       `json:"eligibleDonors"`
	NotifiedDonors      int       `json:"notifiedDonors"`
	FailedNotifications int       `json:"failedNotifications"`
}

// Service wires the flow together.
type Service struct {
	requests RequestStore
	matcher  Matcher
	recorder *Recorder
	push     Dispatcher
	health   TokenHealthReporter
	logger   *zap.Logger
}

// NewService creates a Service. health may be nil.
func NewService(requests RequestStore, matcher Matcher, recorder *Recorder, dispatcher Dispatcher, health TokenHealthReporter, logger *zap.Logger) *Service {
	return &Service{
		requests: requests,
		matcher:  matcher,
		recorder: recorder,
		push:     dispatcher,
		health:   health,
		logger:   logger,
	}
}

// Submit handles one blood request. It returns a *ValidationError before any
// side effect, or an error wrapping ErrStorageUnavailable when the registry
// or a store cannot be reached. History is written before any push is sent.
func (s *Service) Submit(ctx context.Context, in SubmitRequest) (*Result, error) {
	req, err := validate(in)
	if err != nil {
		metrics.RecordBloodRequest("invalid")
		return nil, err
	}

	if err := s.requests.CreateRequest(ctx, req); err != nil {
		metrics.RecordBloodRequest("unavailable")
		return nil, unavailable("create request", err)
	}

	eligible, err := s.matcher.Match(ctx, matching.Request{
		BloodGroup:  req.BloodGroup,
		District:    req.District,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		metrics.RecordBloodRequest("unavailable")
		return nil, unavailable("match donors", err)
	}
	metrics.RecordDonorsMatched(len(eligible))

	donors := make([]db.Donor, len(eligible))
	for i, e := range eligible {
		donors[i] = e.Donor
	}

	if _, err := s.recorder.Record(ctx, req, donors); err != nil {
		metrics.RecordBloodRequest("unavailable")
		return nil, unavailable("record notifications", err)
	}

	outcome := s.push.Dispatch(ctx, Targets(req, donors), Message(req))

	if failed := outcome.Failed(); len(failed) > 0 && s.health != nil {
		if err := s.health.ReportFailures(ctx, req.ID, failed); err != nil {
			s.logger.Warn("failed to report token health",
				zap.String("request_id", req.ID.String()),
				zap.Int("failures", len(failed)),
				zap.Error(err),
			)
		}
	}

	metrics.RecordBloodRequest("accepted")
	s.logger.Info("blood request dispatched",
		zap.String("request_id", req.ID.String()),
		zap.String("blood_group", string(req.BloodGroup)),
		zap.String("district", req.District),
		zap.String("urgency", req.Urgency),
		zap.Int("eligible", len(eligible)),
		zap.Int("notified", outcome.SuccessCount),
		zap.Int("failed", outcome.FailureCount),
	)

	return &Result{
		Success:             true,
		RequestID:           req.ID,
		EligibleDonors:      len(eligible),
		NotifiedDonors:      outcome.SuccessCount,
		FailedNotifications: outcome.FailureCount,
	}, nil
}

func validate(in SubmitRequest) (*db.BloodRequest, error) {
	group, err := blood.Parse(in.BloodGroup)
	if err != nil {
		return nil, invalid("bloodGroup", "must be one of A+, A-, B+, B-, O+, O-, AB+, AB-")
	}

	district := strings.TrimSpace(in.District)
	if district == "" {
		return nil, invalid("district", "is required")
	}

	requester := strings.TrimSpace(in.RequesterID)
	if requester == "" {
		return nil, invalid("requesterId", "is required")
	}

	if in.Units < 1 {
		return nil, invalid("units", "must be at least 1")
	}

	urgency := strings.ToLower(strings.TrimSpace(in.Urgency))
	switch urgency {
	case "":
		urgency = db.UrgencyNormal
		if in.Units >= db.HighUrgencyUnits {
			urgency = db.UrgencyHigh
		}
	case db.UrgencyNormal, db.UrgencyHigh:
	default:
		return nil, invalid("urgency", "must be normal or high")
	}

	return &db.BloodRequest{
		ID:          uuid.New(),
		BloodGroup:  group,
		District:    district,
		PatientName: strings.TrimSpace(in.PatientName),
		Hospital:    strings.TrimSpace(in.Hospital),
		Units:       in.Units,
		Urgency:     urgency,
		RequesterID: requester,
		Status:      db.StatusPending,
	}, nil
}

// Message renders the push shared by every recipient of req.
func Message(req *db.BloodRequest) push.Message {
	title, body := content(req)
	return push.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			push.DataType:       push.TypeBloodRequest,
			push.DataRequestID:  req.ID.String(),
			push.DataBloodGroup: string(req.BloodGroup),
			push.DataHospital:   req.Hospital,
			push.DataDistrict:   req.District,
			push.DataUrgency:    req.Urgency,
			push.DataUnits:      strconv.Itoa(req.Units),
		},
	}
}

// Targets addresses each donor's device. Donors who switched notifications
// off keep their history record but get no push. Each target carries who it
// was meant for and whether that account was logged in at send time.
func Targets(req *db.BloodRequest, donors []db.Donor) []push.Target {
	targets := make([]push.Target, 0, len(donors))
	for _, d := range donors {
		if !d.NotificationEnabled || d.PushToken == "" {
			continue
		}
		targets = append(targets, push.Target{
			Token: d.PushToken,
			Data: map[string]string{
				push.DataRecipientUserID:   d.DonorID,
				push.DataRecipientLoggedIn: strconv.FormatBool(d.IsLoggedIn),
				push.DataNotificationID:    db.NotificationID(req.ID, d.DonorID).String(),
			},
		})
	}
	return targets
}
