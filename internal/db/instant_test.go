package db

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInstant(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      any
		want    time.Time
		unset   bool
		wantErr bool
	}{
		{name: "nil", in: nil, unset: true},
		{name: "native time", in: want, want: want},
		{name: "time pointer", in: &want, want: want},
		{name: "nil time pointer", in: (*time.Time)(nil), unset: true},
		{name: "zero time", in: time.Time{}, unset: true},
		{name: "epoch millis", in: want.UnixMilli(), want: want},
		{name: "epoch millis float", in: float64(want.UnixMilli()), want: want},
		{name: "zero epoch", in: int64(0), unset: true},
		{name: "numeric string", in: "1709289000000", want: want},
		{name: "rfc3339", in: "2024-03-01T10:30:00Z", want: want},
		{name: "rfc3339 with offset", in: "2024-03-01T16:00:00+05:30", want: want},
		{name: "date only", in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "empty string", in: "  ", unset: true},
		{name: "seconds object", in: map[string]any{"seconds": want.Unix(), "nanoseconds": int64(0)}, want: want},
		{name: "underscore seconds object", in: map[string]any{"_seconds": float64(want.Unix()), "_nanoseconds": float64(0)}, want: want},
		{name: "garbage string", in: "last tuesday", wantErr: true},
		{name: "object without seconds", in: map[string]any{"nanos": 5}, wantErr: true},
		{name: "nan", in: math.NaN(), wantErr: true},
		{name: "unsupported type", in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInstant(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedInstant)
				assert.False(t, got.IsSet())
				return
			}
			require.NoError(t, err)
			if tt.unset {
				assert.False(t, got.IsSet())
				assert.Nil(t, got.Ptr())
				return
			}
			require.True(t, got.IsSet())
			assert.True(t, tt.want.Equal(got.Time()), "got %s want %s", got.Time(), tt.want)
		})
	}
}

func TestInstantJSON(t *testing.T) {
	t.Run("unset marshals to null", func(t *testing.T) {
		b, err := json.Marshal(struct {
			At Instant `json:"at"`
		}{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"at":null}`, string(b))
	})

	t.Run("accepts provider object", func(t *testing.T) {
		var v struct {
			At Instant `json:"at"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"at":{"_seconds":1709289000,"_nanoseconds":0}}`), &v))
		assert.Equal(t, int64(1709289000), v.At.Time().Unix())
	})

	t.Run("accepts epoch millis", func(t *testing.T) {
		var v struct {
			At Instant `json:"at"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"at":1709289000000}`), &v))
		assert.Equal(t, int64(1709289000), v.At.Time().Unix())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var v struct {
			At Instant `json:"at"`
		}
		err := json.Unmarshal([]byte(`{"at":"soon"}`), &v)
		assert.ErrorIs(t, err, ErrMalformedInstant)
	})
}

func TestInstantValue(t *testing.T) {
	v, err := Unset().Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	now := time.Now()
	v, err = At(now).Value()
	require.NoError(t, err)
	assert.True(t, now.Equal(v.(time.Time)))
}

func TestNotificationID(t *testing.T) {
	req := uuid.New()

	a := NotificationID(req, "donor-1")
	b := NotificationID(req, "donor-1")
	assert.Equal(t, a, b, "same pair must yield the same id")

	assert.NotEqual(t, a, NotificationID(req, "donor-2"))
	assert.NotEqual(t, a, NotificationID(uuid.New(), "donor-1"))
}

func TestCompoundTokenID(t *testing.T) {
	p := TokenProjection{UserID: "u1", DeviceID: "d1"}
	assert.Equal(t, "u1_d1", p.CompoundTokenID())
	assert.Equal(t, CompoundTokenID("u1", "d1"), p.CompoundTokenID())
}

func TestDecodeCandidate(t *testing.T) {
	c := decodeCandidate(Donor{DonorID: "d1"}, "o-", int64(1709289000000))
	require.NoError(t, c.Err)
	assert.Equal(t, "O-", string(c.Donor.BloodGroup))
	assert.True(t, c.Donor.LastDonationDate.IsSet())

	c = decodeCandidate(Donor{DonorID: "d2"}, "Z+", nil)
	assert.Error(t, c.Err)

	c = decodeCandidate(Donor{DonorID: "d3"}, "A+", "not a date")
	assert.ErrorIs(t, c.Err, ErrMalformedInstant)
}
