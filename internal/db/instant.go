package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedInstant is returned when a stored timestamp has a shape the
// decoder does not understand.
var ErrMalformedInstant = errors.New("malformed instant")

// Instant is either a point in time or unset. Stored documents carry
// timestamps as native times, epoch milliseconds, RFC 3339 strings or
// provider {seconds, nanos} objects; all of them go through DecodeInstant.
type Instant struct {
	t   time.Time
	set bool
}

// Unset returns the empty Instant.
func Unset() Instant { return Instant{} }

// At wraps t. A zero t is treated as unset.
func At(t time.Time) Instant {
	if t.IsZero() {
		return Instant{}
	}
	return Instant{t: t.UTC(), set: true}
}

// IsSet reports whether the instant holds a time.
func (i Instant) IsSet() bool { return i.set }

// Time returns the wrapped time, or the zero time when unset.
func (i Instant) Time() time.Time { return i.t }

// Ptr returns nil when unset.
func (i Instant) Ptr() *time.Time {
	if !i.set {
		return nil
	}
	t := i.t
	return &t
}

func (i Instant) String() string {
	if !i.set {
		return "unset"
	}
	return i.t.Format(time.RFC3339)
}

// DecodeInstant is the one place stored timestamps are interpreted.
// nil, empty strings, zero times and zero epochs all decode to Unset.
func DecodeInstant(v any) (Instant, error) {
	switch x := v.(type) {
	case nil:
		return Unset(), nil
	case Instant:
		return x, nil
	case time.Time:
		return At(x), nil
	case *time.Time:
		if x == nil {
			return Unset(), nil
		}
		return At(*x), nil
	case int64:
		return fromEpochMillis(x), nil
	case int32:
		return fromEpochMillis(int64(x)), nil
	case int:
		return fromEpochMillis(int64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Unset(), fmt.Errorf("%w: %v", ErrMalformedInstant, x)
		}
		return fromEpochMillis(int64(x)), nil
	case json.Number:
		ms, err := x.Int64()
		if err != nil {
			return Unset(), fmt.Errorf("%w: %q", ErrMalformedInstant, x.String())
		}
		return fromEpochMillis(ms), nil
	case string:
		return decodeString(x)
	case []byte:
		return decodeString(string(x))
	case map[string]any:
		return decodeSecondsNanos(x)
	default:
		return Unset(), fmt.Errorf("%w: unsupported type %T", ErrMalformedInstant, v)
	}
}

func fromEpochMillis(ms int64) Instant {
	if ms == 0 {
		return Unset()
	}
	return At(time.UnixMilli(ms))
}

func decodeString(s string) (Instant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unset(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpochMillis(ms), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t), nil
		}
	}
	return Unset(), fmt.Errorf("%w: %q", ErrMalformedInstant, s)
}

// decodeSecondsNanos handles provider timestamps serialized as
// {"seconds": n, "nanoseconds": n} or {"_seconds": n, "_nanoseconds": n}.
func decodeSecondsNanos(m map[string]any) (Instant, error) {
	secs, ok := firstNumber(m, "seconds", "_seconds")
	if !ok {
		return Unset(), fmt.Errorf("%w: object without seconds", ErrMalformedInstant)
	}
	nanos, _ := firstNumber(m, "nanoseconds", "_nanoseconds", "nanos")
	if secs == 0 && nanos == 0 {
		return Unset(), nil
	}
	return At(time.Unix(secs, nanos)), nil
}

func firstNumber(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case int64:
			return n, true
		case int32:
			return int64(n), true
		case int:
			return int64(n), true
		case float64:
			return int64(n), true
		case json.Number:
			if v, err := n.Int64(); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// Scan implements sql.Scanner so pgx can fill an Instant directly.
func (i *Instant) Scan(src any) error {
	v, err := DecodeInstant(src)
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer; unset is stored as NULL.
func (i Instant) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil
	}
	return i.t, nil
}

// MarshalJSON writes null or an RFC 3339 string.
func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.set {
		return []byte("null"), nil
	}
	return json.Marshal(i.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts everything DecodeInstant does.
func (i *Instant) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInstant, err)
	}
	v, err := DecodeInstant(raw)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
