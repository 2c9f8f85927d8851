package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
)

func bloodGroup(s string) blood.Group {
	return blood.Group(s)
}

// FindDonors returns active donors in q.District whose group is one of
// q.Groups. Rows come back unordered; callers rank them. Rows whose stored
// group or last donation date cannot be decoded are returned with Err set.
func (r *Repository) FindDonors(ctx context.Context, q DonorQuery) ([]Candidate, error) {
	groups := make([]string, len(q.Groups))
	for i, g := range q.Groups {
		groups[i] = string(g)
	}

	query := `
		SELECT
			donor_id, COALESCE(blood_group, ''), district, push_token, device_id,
			compound_token_id, is_available, is_active, is_logged_in,
			notification_enabled, last_donation_date, updated_at
		FROM donors
		WHERE blood_group = ANY($1) AND district = $2 AND is_active = TRUE
	`

	rows, err := r.db.Pool().Query(ctx, query, groups, q.District)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var d Donor
		var group string
		var lastDonation any
		err := rows.Scan(
			&d.DonorID,
			&group,
			&d.District,
			&d.PushToken,
			&d.DeviceID,
			&d.CompoundTokenID,
			&d.IsAvailable,
			&d.IsActive,
			&d.IsLoggedIn,
			&d.NotificationEnabled,
			&lastDonation,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		candidates = append(candidates, decodeCandidate(d, group, lastDonation))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}

	return candidates, nil
}

// decodeCandidate finishes decoding the loosely typed columns of a donor row.
func decodeCandidate(d Donor, group string, lastDonation any) Candidate {
	g, err := blood.Parse(group)
	if err != nil {
		return Candidate{Donor: d, Err: fmt.Errorf("donor %s: %w", d.DonorID, err)}
	}
	d.BloodGroup = g

	last, err := DecodeInstant(lastDonation)
	if err != nil {
		return Candidate{Donor: d, Err: fmt.Errorf("donor %s last_donation_date: %w", d.DonorID, err)}
	}
	d.LastDonationDate = last

	return Candidate{Donor: d}
}

// DeviceIDsForUser returns every device id registered to userID in either projection.
func (r *Repository) DeviceIDsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT device_id FROM device_tokens WHERE user_id = $1 AND device_id <> ''
		UNION
		SELECT device_id FROM donors WHERE donor_id = $1 AND device_id <> ''
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetDonor retrieves one donor by id.
func (r *Repository) GetDonor(ctx context.Context, donorID string) (*Donor, error) {
	query := `
		SELECT
			donor_id, COALESCE(blood_group, ''), district, push_token, device_id,
			compound_token_id, is_available, is_active, is_logged_in,
			notification_enabled, last_donation_date, updated_at
		FROM donors
		WHERE donor_id = $1
	`

	var d Donor
	var group string
	err := r.db.Pool().QueryRow(ctx, query, donorID).Scan(
		&d.DonorID,
		&group,
		&d.District,
		&d.PushToken,
		&d.DeviceID,
		&d.CompoundTokenID,
		&d.IsAvailable,
		&d.IsActive,
		&d.IsLoggedIn,
		&d.NotificationEnabled,
		&d.LastDonationDate,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("donor %s: %w", donorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query donor: %w", err)
	}

	d.BloodGroup = bloodGroup(group)
	return &d, nil
}

// UpsertDonorProfile writes the profile columns and leaves routing columns alone.
func (r *Repository) UpsertDonorProfile(ctx context.Context, p DonorProfile) error {
	query := `
		INSERT INTO donors (
			donor_id, blood_group, district, is_available, is_active,
			notification_enabled, last_donation_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (donor_id) DO UPDATE SET
			blood_group = EXCLUDED.blood_group,
			district = EXCLUDED.district,
			is_available = EXCLUDED.is_available,
			is_active = EXCLUDED.is_active,
			notification_enabled = EXCLUDED.notification_enabled,
			last_donation_date = EXCLUDED.last_donation_date,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		p.DonorID,
		string(p.BloodGroup),
		p.District,
		p.IsAvailable,
		p.IsActive,
		p.NotificationEnabled,
		p.LastDonationDate,
	)
	if err != nil {
		return fmt.Errorf("upsert donor profile: %w", err)
	}

	r.logger.Info("donor profile upserted",
		zap.String("donor_id", p.DonorID),
		zap.String("blood_group", string(p.BloodGroup)),
		zap.String("district", p.District),
	)
	return nil
}

// SetAvailability toggles whether the donor wants to be asked.
func (r *Repository) SetAvailability(ctx context.Context, donorID string, available bool) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE donors SET is_available = $1, updated_at = NOW() WHERE donor_id = $2`,
		available, donorID,
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("donor %s: %w", donorID, ErrNotFound)
	}
	return nil
}

// UpsertTokenProjection writes a device registration to both projections in
// one transaction. Only routing columns are touched; profile columns of an
// existing donor row are preserved. The token is detached from any other
// registration that still holds it so a handed-down device is not double-addressed.
func (r *Repository) UpsertTokenProjection(ctx context.Context, p TokenProjection) error {
	compoundID := p.CompoundTokenID()

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO device_tokens (
			compound_token_id, user_id, device_id, token,
			device_type, app_version, is_logged_in
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (compound_token_id) DO UPDATE SET
			token = EXCLUDED.token,
			device_type = EXCLUDED.device_type,
			app_version = EXCLUDED.app_version,
			is_logged_in = EXCLUDED.is_logged_in,
			updated_at = NOW()
	`, compoundID, p.UserID, p.DeviceID, p.Token, p.DeviceType, p.AppVersion, p.IsLoggedIn)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO donors (
			donor_id, push_token, device_id, compound_token_id, is_logged_in
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (donor_id) DO UPDATE SET
			push_token = EXCLUDED.push_token,
			device_id = EXCLUDED.device_id,
			compound_token_id = EXCLUDED.compound_token_id,
			is_logged_in = EXCLUDED.is_logged_in,
			updated_at = NOW()
	`, p.UserID, p.Token, p.DeviceID, compoundID, p.IsLoggedIn)
	if err != nil {
		return fmt.Errorf("upsert donor routing: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE device_tokens SET token = '', updated_at = NOW() WHERE token = $1 AND compound_token_id <> $2`,
		p.Token, compoundID,
	); err != nil {
		return fmt.Errorf("detach token from device_tokens: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE donors SET push_token = '', updated_at = NOW() WHERE push_token = $1 AND donor_id <> $2`,
		p.Token, p.UserID,
	); err != nil {
		return fmt.Errorf("detach token from donors: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("token projection upserted",
		zap.String("compound_token_id", compoundID),
		zap.Bool("is_logged_in", p.IsLoggedIn),
	)
	return nil
}

// SetLoginState flips only the is_logged_in flag of the user/device pair.
func (r *Repository) SetLoginState(ctx context.Context, userID, deviceID string, loggedIn bool) error {
	compoundID := CompoundTokenID(userID, deviceID)

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO device_tokens (compound_token_id, user_id, device_id, is_logged_in)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (compound_token_id) DO UPDATE SET
			is_logged_in = EXCLUDED.is_logged_in,
			updated_at = NOW()
	`, compoundID, userID, deviceID, loggedIn)
	if err != nil {
		return fmt.Errorf("update device login state: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE donors SET is_logged_in = $1, updated_at = NOW() WHERE donor_id = $2 AND device_id = $3`,
		loggedIn, userID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("update donor login state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("login state updated",
		zap.String("compound_token_id", compoundID),
		zap.Bool("is_logged_in", loggedIn),
	)
	return nil
}

// ClearPushToken removes a dead token from both projections and reports how
// many rows referenced it.
func (r *Repository) ClearPushToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	donors, err := tx.Exec(ctx, `UPDATE donors SET push_token = '', updated_at = NOW() WHERE push_token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("clear donor token: %w", err)
	}
	devices, err := tx.Exec(ctx, `UPDATE device_tokens SET token = '', updated_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("clear device token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return donors.RowsAffected() + devices.RowsAffected(), nil
}
