package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
)

type requestDoc struct {
	ID          string    `bson:"_id"`
	BloodGroup  string    `bson:"bloodGroup"`
	District    string    `bson:"district"`
	PatientName string    `bson:"patientName"`
	Hospital    string    `bson:"hospital"`
	Units       int       `bson:"units"`
	Urgency     string    `bson:"urgency"`
	RequesterID string    `bson:"requesterId"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// CreateRequest inserts a new blood request.
func (s *Store) CreateRequest(ctx context.Context, req *db.BloodRequest) error {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	doc := requestDoc{
		ID:          req.ID.String(),
		BloodGroup:  string(req.BloodGroup),
		District:    req.District,
		PatientName: req.PatientName,
		Hospital:    req.Hospital,
		Units:       req.Units,
		Urgency:     req.Urgency,
		RequesterID: req.RequesterID,
		Status:      req.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.collection(requestsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert blood request: %w", err)
	}

	s.logger.Info("blood request created",
		zap.String("request_id", doc.ID),
		zap.String("blood_group", doc.BloodGroup),
		zap.String("district", doc.District),
	)
	return nil
}

// GetRequest retrieves a blood request by ID.
func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*db.BloodRequest, error) {
	var doc requestDoc
	err := s.collection(requestsCollection).FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("blood request %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find blood request: %w", err)
	}

	return &db.BloodRequest{
		ID:          id,
		BloodGroup:  blood.Group(doc.BloodGroup),
		District:    doc.District,
		PatientName: doc.PatientName,
		Hospital:    doc.Hospital,
		Units:       doc.Units,
		Urgency:     doc.Urgency,
		RequesterID: doc.RequesterID,
		Status:      doc.Status,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

// UpdateRequestStatus moves a pending request to cancelled or completed.
func (s *Store) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status != db.StatusCancelled && status != db.StatusCompleted {
		return fmt.Errorf("%w: to %q", db.ErrInvalidTransition, status)
	}

	res, err := s.collection(requestsCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.String()}, {Key: "status", Value: db.StatusPending}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: status},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update blood request status: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: request %s is not pending", db.ErrInvalidTransition, id)
	}
	return nil
}
