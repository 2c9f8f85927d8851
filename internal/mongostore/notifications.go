package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
)

type notificationDoc struct {
	ID          string     `bson:"_id"`
	RecipientID string     `bson:"recipientId"`
	RequestID   string     `bson:"requestId"`
	Title       string     `bson:"title"`
	Message     string     `bson:"message"`
	BloodGroup  string     `bson:"bloodGroup"`
	Hospital    string     `bson:"hospital"`
	District    string     `bson:"district"`
	Urgency     string     `bson:"urgency"`
	Units       int        `bson:"units"`
	IsRead      bool       `bson:"isRead"`
	CreatedAt   time.Time  `bson:"createdAt"`
	ReadAt      *time.Time `bson:"readAt,omitempty"`
}

func (d notificationDoc) record() (db.NotificationRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return db.NotificationRecord{}, fmt.Errorf("notification id %q: %w", d.ID, err)
	}
	reqID, err := uuid.Parse(d.RequestID)
	if err != nil {
		return db.NotificationRecord{}, fmt.Errorf("notification %s request id: %w", d.ID, err)
	}
	return db.NotificationRecord{
		ID:          id,
		RecipientID: d.RecipientID,
		RequestID:   reqID,
		Title:       d.Title,
		Message:     d.Message,
		BloodGroup:  blood.Group(d.BloodGroup),
		Hospital:    d.Hospital,
		District:    d.District,
		Urgency:     d.Urgency,
		Units:       d.Units,
		IsRead:      d.IsRead,
		CreatedAt:   d.CreatedAt,
		ReadAt:      d.ReadAt,
	}, nil
}

// notificationUpsert builds the write for one record. Content fields are
// overwritten on retry; read state and createdAt are only set on insert.
func notificationUpsert(rec db.NotificationRecord, now time.Time) mongo.WriteModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.D{{Key: "_id", Value: rec.ID.String()}}).
		SetUpdate(bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "recipientId", Value: rec.RecipientID},
				{Key: "requestId", Value: rec.RequestID.String()},
				{Key: "title", Value: rec.Title},
				{Key: "message", Value: rec.Message},
				{Key: "bloodGroup", Value: string(rec.BloodGroup)},
				{Key: "hospital", Value: rec.Hospital},
				{Key: "district", Value: rec.District},
				{Key: "urgency", Value: rec.Urgency},
				{Key: "units", Value: rec.Units},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "isRead", Value: false},
				{Key: "createdAt", Value: now},
			}},
		}).
		SetUpsert(true)
}

// UpsertNotifications writes every record in one transaction.
func (s *Store) UpsertNotifications(ctx context.Context, records []db.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, len(records))
	for i, rec := range records {
		models[i] = notificationUpsert(rec, now)
	}

	err := s.inTransaction(ctx, func(ctx context.Context) error {
		_, err := s.collection(notificationsCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return fmt.Errorf("bulk upsert notifications: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("notifications recorded",
		zap.String("request_id", records[0].RequestID.String()),
		zap.Int("count", len(records)),
	)
	return nil
}

// MarkRead marks one of the recipient's notifications read, keeping the
// original readAt when it was already read.
func (s *Store) MarkRead(ctx context.Context, recipientID string, id uuid.UUID) error {
	filter := bson.D{{Key: "_id", Value: id.String()}, {Key: "recipientId", Value: recipientID}}

	res, err := s.collection(notificationsCollection).UpdateOne(ctx,
		append(filter, bson.E{Key: "isRead", Value: false}),
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "isRead", Value: true},
			{Key: "readAt", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.collection(notificationsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("count notification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient in one transaction.
func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	var modified int64
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		res, err := s.collection(notificationsCollection).UpdateMany(ctx,
			bson.D{{Key: "recipientId", Value: recipientID}, {Key: "isRead", Value: false}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "isRead", Value: true},
				{Key: "readAt", Value: time.Now().UTC()},
			}}},
		)
		if err != nil {
			return fmt.Errorf("mark all notifications read: %w", err)
		}
		modified = res.ModifiedCount
		return nil
	})
	return modified, err
}

// ListNotifications returns the recipient's history, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, opts db.ListOptions) ([]db.NotificationRecord, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	filter := bson.D{{Key: "recipientId", Value: recipientID}}
	if opts.OnlyUnread {
		filter = append(filter, bson.E{Key: "isRead", Value: false})
	}

	cur, err := s.collection(notificationsCollection).Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
			SetSkip(int64(opts.Offset)).
			SetLimit(int64(opts.Limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer cur.Close(ctx)

	records := make([]db.NotificationRecord, 0, opts.Limit)
	for cur.Next(ctx) {
		var doc notificationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			s.logger.Warn("skipping malformed notification", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return records, nil
}

// CountUnread returns how many of the recipient's notifications are unread.
func (s *Store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	n, err := s.collection(notificationsCollection).CountDocuments(ctx,
		bson.D{{Key: "recipientId", Value: recipientID}, {Key: "isRead", Value: false}},
	)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(n), nil
}
