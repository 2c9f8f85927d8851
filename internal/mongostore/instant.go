package mongostore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lalithlochan/bloodlink/internal/db"
)

// decodeInstant converts whatever BSON shape a stored timestamp has into the
// Go value db.DecodeInstant understands.
func decodeInstant(rv bson.RawValue) (db.Instant, error) {
	if len(rv.Value) == 0 {
		return db.Unset(), nil
	}

	switch rv.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return db.Unset(), nil
	case bson.TypeDateTime:
		return db.DecodeInstant(time.UnixMilli(rv.DateTime()))
	case bson.TypeTimestamp:
		secs, _ := rv.Timestamp()
		return db.DecodeInstant(time.Unix(int64(secs), 0))
	case bson.TypeEmbeddedDocument:
		var m map[string]any
		if err := rv.Unmarshal(&m); err != nil {
			return db.Unset(), fmt.Errorf("%w: %v", db.ErrMalformedInstant, err)
		}
		return db.DecodeInstant(m)
	default:
		var v any
		if err := rv.Unmarshal(&v); err != nil {
			return db.Unset(), fmt.Errorf("%w: %v", db.ErrMalformedInstant, err)
		}
		return db.DecodeInstant(v)
	}
}

// encodeInstant stores set instants as native BSON dates and unset as null.
func encodeInstant(i db.Instant) any {
	if !i.IsSet() {
		return nil
	}
	return bson.NewDateTimeFromTime(i.Time())
}
