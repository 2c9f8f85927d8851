package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
)

// donorDoc mirrors a donors document. lastDonationDate is kept raw because
// older clients wrote it as epoch millis, strings or {seconds, nanos} objects.
// A missing isAvailable or notificationEnabled reads as true, like the
// Postgres column defaults.
type donorDoc struct {
	DonorID             string        `bson:"_id"`
	BloodGroup          string        `bson:"bloodGroup"`
	District            string        `bson:"district"`
	PushToken           string        `bson:"pushToken"`
	DeviceID            string        `bson:"deviceId"`
	CompoundTokenID     string        `bson:"compoundTokenId"`
	IsAvailable         *bool         `bson:"isAvailable"`
	IsActive            bool          `bson:"isActive"`
	IsLoggedIn          bool          `bson:"isLoggedIn"`
	NotificationEnabled *bool         `bson:"notificationEnabled"`
	LastDonationDate    bson.RawValue `bson:"lastDonationDate"`
	UpdatedAt           time.Time     `bson:"updatedAt"`
}

func (d donorDoc) donor() db.Donor {
	return db.Donor{
		DonorID:             d.DonorID,
		BloodGroup:          blood.Group(d.BloodGroup),
		District:            d.District,
		PushToken:           d.PushToken,
		DeviceID:            d.DeviceID,
		CompoundTokenID:     d.CompoundTokenID,
		IsAvailable:         orTrue(d.IsAvailable),
		IsActive:            d.IsActive,
		IsLoggedIn:          d.IsLoggedIn,
		NotificationEnabled: orTrue(d.NotificationEnabled),
		UpdatedAt:           d.UpdatedAt,
	}
}

func orTrue(b *bool) bool {
	return b == nil || *b
}

// candidate finishes decoding the loosely typed fields.
func (d donorDoc) candidate() db.Candidate {
	donor := d.donor()

	g, err := blood.Parse(d.BloodGroup)
	if err != nil {
		return db.Candidate{Donor: donor, Err: fmt.Errorf("donor %s: %w", d.DonorID, err)}
	}
	donor.BloodGroup = g

	last, err := decodeInstant(d.LastDonationDate)
	if err != nil {
		return db.Candidate{Donor: donor, Err: fmt.Errorf("donor %s lastDonationDate: %w", d.DonorID, err)}
	}
	donor.LastDonationDate = last

	return db.Candidate{Donor: donor}
}

// FindDonors returns active donors of the given groups in one district, unordered.
func (s *Store) FindDonors(ctx context.Context, q db.DonorQuery) ([]db.Candidate, error) {
	groups := make([]string, len(q.Groups))
	for i, g := range q.Groups {
		groups[i] = string(g)
	}

	filter := bson.D{
		{Key: "bloodGroup", Value: bson.D{{Key: "$in", Value: groups}}},
		{Key: "district", Value: q.District},
		{Key: "isActive", Value: true},
	}

	cur, err := s.collection(donorsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find donors: %w", err)
	}
	defer cur.Close(ctx)

	var candidates []db.Candidate
	for cur.Next(ctx) {
		var doc donorDoc
		if err := cur.Decode(&doc); err != nil {
			s.logger.Warn("undecodable donor document", zap.Error(err))
			continue
		}
		candidates = append(candidates, doc.candidate())
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}
	return candidates, nil
}

// DeviceIDsForUser returns every device id registered to userID.
func (s *Store) DeviceIDsForUser(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	cur, err := s.collection(deviceTokensCollection).Find(ctx,
		bson.D{{Key: "userId", Value: userID}},
		options.Find().SetProjection(bson.D{{Key: "deviceId", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find device tokens: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc struct {
			DeviceID string `bson:"deviceId"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode device token: %w", err)
		}
		add(doc.DeviceID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate device tokens: %w", err)
	}

	var donor struct {
		DeviceID string `bson:"deviceId"`
	}
	err = s.collection(donorsCollection).FindOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		options.FindOne().SetProjection(bson.D{{Key: "deviceId", Value: 1}}),
	).Decode(&donor)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return nil, fmt.Errorf("find donor device: %w", err)
	default:
		add(donor.DeviceID)
	}

	return ids, nil
}

// GetDonor retrieves one donor by id.
func (s *Store) GetDonor(ctx context.Context, donorID string) (*db.Donor, error) {
	var doc donorDoc
	err := s.collection(donorsCollection).FindOne(ctx, bson.D{{Key: "_id", Value: donorID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("donor %s: %w", donorID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find donor: %w", err)
	}

	d := doc.donor()
	if last, err := decodeInstant(doc.LastDonationDate); err == nil {
		d.LastDonationDate = last
	}
	return &d, nil
}

// UpsertDonorProfile merges the profile fields and leaves routing fields alone.
func (s *Store) UpsertDonorProfile(ctx context.Context, p db.DonorProfile) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "bloodGroup", Value: string(p.BloodGroup)},
		{Key: "district", Value: p.District},
		{Key: "isAvailable", Value: p.IsAvailable},
		{Key: "isActive", Value: p.IsActive},
		{Key: "notificationEnabled", Value: p.NotificationEnabled},
		{Key: "lastDonationDate", Value: encodeInstant(p.LastDonationDate)},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}

	_, err := s.collection(donorsCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: p.DonorID}},
		update,
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert donor profile: %w", err)
	}

	s.logger.Info("donor profile upserted",
		zap.String("donor_id", p.DonorID),
		zap.String("blood_group", string(p.BloodGroup)),
	)
	return nil
}

// SetAvailability toggles whether the donor wants to be asked.
func (s *Store) SetAvailability(ctx context.Context, donorID string, available bool) error {
	res, err := s.collection(donorsCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: donorID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "isAvailable", Value: available},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("donor %s: %w", donorID, db.ErrNotFound)
	}
	return nil
}

// UpsertTokenProjection writes both projections in one transaction with merge
// semantics, then detaches the token from any other registration holding it.
func (s *Store) UpsertTokenProjection(ctx context.Context, p db.TokenProjection) error {
	compoundID := p.CompoundTokenID()
	now := time.Now().UTC()

	err := s.inTransaction(ctx, func(ctx context.Context) error {
		_, err := s.collection(deviceTokensCollection).UpdateOne(ctx,
			bson.D{{Key: "_id", Value: compoundID}},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "userId", Value: p.UserID},
					{Key: "deviceId", Value: p.DeviceID},
					{Key: "token", Value: p.Token},
					{Key: "deviceType", Value: p.DeviceType},
					{Key: "appVersion", Value: p.AppVersion},
					{Key: "isLoggedIn", Value: p.IsLoggedIn},
					{Key: "updatedAt", Value: now},
				}},
				{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
			},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("upsert device token: %w", err)
		}

		_, err = s.collection(donorsCollection).UpdateOne(ctx,
			bson.D{{Key: "_id", Value: p.UserID}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "pushToken", Value: p.Token},
				{Key: "deviceId", Value: p.DeviceID},
				{Key: "compoundTokenId", Value: compoundID},
				{Key: "isLoggedIn", Value: p.IsLoggedIn},
				{Key: "updatedAt", Value: now},
			}}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("upsert donor routing: %w", err)
		}

		_, err = s.collection(deviceTokensCollection).UpdateMany(ctx,
			bson.D{{Key: "token", Value: p.Token}, {Key: "_id", Value: bson.D{{Key: "$ne", Value: compoundID}}}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "token", Value: ""}, {Key: "updatedAt", Value: now}}}},
		)
		if err != nil {
			return fmt.Errorf("detach token from device_tokens: %w", err)
		}

		_, err = s.collection(donorsCollection).UpdateMany(ctx,
			bson.D{{Key: "pushToken", Value: p.Token}, {Key: "_id", Value: bson.D{{Key: "$ne", Value: p.UserID}}}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "pushToken", Value: ""}, {Key: "updatedAt", Value: now}}}},
		)
		if err != nil {
			return fmt.Errorf("detach token from donors: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("token projection upserted",
		zap.String("compound_token_id", compoundID),
		zap.Bool("is_logged_in", p.IsLoggedIn),
	)
	return nil
}

// SetLoginState flips only the login flag of the user/device pair.
func (s *Store) SetLoginState(ctx context.Context, userID, deviceID string, loggedIn bool) error {
	compoundID := db.CompoundTokenID(userID, deviceID)
	now := time.Now().UTC()

	return s.inTransaction(ctx, func(ctx context.Context) error {
		_, err := s.collection(deviceTokensCollection).UpdateOne(ctx,
			bson.D{{Key: "_id", Value: compoundID}},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "isLoggedIn", Value: loggedIn},
					{Key: "updatedAt", Value: now},
				}},
				{Key: "$setOnInsert", Value: bson.D{
					{Key: "userId", Value: userID},
					{Key: "deviceId", Value: deviceID},
					{Key: "token", Value: ""},
					{Key: "createdAt", Value: now},
				}},
			},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("update device login state: %w", err)
		}

		_, err = s.collection(donorsCollection).UpdateOne(ctx,
			bson.D{{Key: "_id", Value: userID}, {Key: "deviceId", Value: deviceID}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "isLoggedIn", Value: loggedIn},
				{Key: "updatedAt", Value: now},
			}}},
		)
		if err != nil {
			return fmt.Errorf("update donor login state: %w", err)
		}
		return nil
	})
}

// ClearPushToken removes a dead token from both projections.
func (s *Store) ClearPushToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, nil
	}

	var cleared int64
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		cleared = 0
		now := time.Now().UTC()

		res, err := s.collection(donorsCollection).UpdateMany(ctx,
			bson.D{{Key: "pushToken", Value: token}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "pushToken", Value: ""}, {Key: "updatedAt", Value: now}}}},
		)
		if err != nil {
			return fmt.Errorf("clear donor token: %w", err)
		}
		cleared += res.ModifiedCount

		res, err = s.collection(deviceTokensCollection).UpdateMany(ctx,
			bson.D{{Key: "token", Value: token}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "token", Value: ""}, {Key: "updatedAt", Value: now}}}},
		)
		if err != nil {
			return fmt.Errorf("clear device token: %w", err)
		}
		cleared += res.ModifiedCount
		return nil
	})
	return cleared, err
}
