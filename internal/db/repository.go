package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository is the Postgres-backed store for donors, device tokens,
// blood requests and notification history.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Health pings the underlying pool.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// CreateRequest inserts a new blood request.
func (r *Repository) CreateRequest(ctx context.Context, req *BloodRequest) error {
	query := `
		INSERT INTO blood_requests (
			id, blood_group, district, patient_name, hospital,
			units, urgency, requester_id, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		req.ID,
		string(req.BloodGroup),
		req.District,
		req.PatientName,
		req.Hospital,
		req.Units,
		req.Urgency,
		req.RequesterID,
		req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create blood request",
			zap.Error(err),
			zap.String("request_id", req.ID.String()),
		)
		return fmt.Errorf("insert blood request: %w", err)
	}

	r.logger.Info("blood request created",
		zap.String("request_id", req.ID.String()),
		zap.String("blood_group", string(req.BloodGroup)),
		zap.String("district", req.District),
	)

	return nil
}

// GetRequest retrieves a blood request by ID
func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (*BloodRequest, error) {
	query := `
		SELECT
			id, blood_group, district, patient_name, hospital,
			units, urgency, requester_id, status, created_at, updated_at
		FROM blood_requests
		WHERE id = $1
	`

	var req BloodRequest
	var group string
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&req.ID,
		&group,
		&req.District,
		&req.PatientName,
		&req.Hospital,
		&req.Units,
		&req.Urgency,
		&req.RequesterID,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("blood request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query blood request: %w", err)
	}

	req.BloodGroup = bloodGroup(group)
	return &req, nil
}

// UpdateRequestStatus moves a pending request to cancelled or completed.
// Notifications already sent for the request are left untouched.
func (r *Repository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status != StatusCancelled && status != StatusCompleted {
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, status)
	}

	query := `
		UPDATE blood_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, id, StatusPending)
	if err != nil {
		return fmt.Errorf("update blood request status: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetRequest(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: request %s is not pending", ErrInvalidTransition, id)
	}

	r.logger.Info("blood request status updated",
		zap.String("request_id", id.String()),
		zap.String("status", status),
	)

	return nil
}
