package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/metrics"
)

// NotificationStore writes a batch of history records atomically. Records
// are keyed by id; writing an existing id overwrites its content fields.
type NotificationStore interface {
	UpsertNotifications(ctx context.Context, records []db.NotificationRecord) error
}

// Recorder writes one history record per recipient of a request.
type Recorder struct {
	store  NotificationStore
	logger *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store NotificationStore, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record writes the request's history records in one batch. It runs before
// any push is sent so history never depends on delivery. Calling it again
// for the same request and donors leaves one record per donor.
func (r *Recorder) Record(ctx context.Context, req *db.BloodRequest, donors []db.Donor) ([]db.NotificationRecord, error) {
	records := BuildRecords(req, donors)
	if len(records) == 0 {
		return nil, nil
	}

	if err := r.store.UpsertNotifications(ctx, records); err != nil {
		r.logger.Error("failed to record notifications",
			zap.String("request_id", req.ID.String()),
			zap.Int("recipients", len(records)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record notifications: %w", err)
	}

	metrics.RecordNotificationsRecorded(len(records))
	return records, nil
}

// BuildRecords renders one record per distinct donor.
func BuildRecords(req *db.BloodRequest, donors []db.Donor) []db.NotificationRecord {
	title, message := content(req)

	seen := make(map[string]struct{}, len(donors))
	records := make([]db.NotificationRecord, 0, len(donors))
	for _, d := range donors {
		if _, dup := seen[d.DonorID]; dup {
			continue
		}
		seen[d.DonorID] = struct{}{}

		records = append(records, db.NotificationRecord{
			ID:          db.NotificationID(req.ID, d.DonorID),
			RecipientID: d.DonorID,
			RequestID:   req.ID,
			Title:       title,
			Message:     message,
			BloodGroup:  req.BloodGroup,
			Hospital:    req.Hospital,
			District:    req.District,
			Urgency:     req.Urgency,
			Units:       req.Units,
		})
	}
	return records
}

func content(req *db.BloodRequest) (title, message string) {
	title = fmt.Sprintf("%s blood needed", req.BloodGroup)
	if req.Urgency == db.UrgencyHigh {
		title = "Urgent: " + title
	}

	unit := "unit"
	if req.Units != 1 {
		unit = "units"
	}
	message = fmt.Sprintf("%d %s of %s needed at %s, %s", req.Units, unit, req.BloodGroup, req.Hospital, req.District)
	return title, message
}
