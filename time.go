package gkel

import (
	"encoding/json"
	"time"

	"github.com/iov-one/gkel/errors"
)

// TimestampFormat is the layout used to serialize timestamps carried by
// events and replies. It has a microsecond precision and always includes the
// zone offset.
const TimestampFormat = "2006-01-02T15:04:05.000000-07:00"

// Timestamp represents a point in time with a microsecond precision.
// Timestamps are part of signed payloads, so the serialized form must be
// stable: it is always UTC and always uses TimestampFormat.
type Timestamp int64

// Time returns a time.Time structure that represents the same moment in time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)*int64(time.Microsecond)).UTC()
}

// IsZero returns true if this time represents a zero value.
func (t Timestamp) IsZero() bool {
	return t == 0
}

// Add modifies this timestamp by given duration. This is compatible with
// time.Time.Add method.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d/time.Microsecond)
}

// AsTimestamp converts given Time structure into its timestamp
// representation, dropping anything below a microsecond.
func AsTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / int64(time.Microsecond))
}

// Now returns the current time as a timestamp.
func Now() Timestamp {
	return AsTimestamp(time.Now())
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON supports unmarshaling both from a formatted string and from
// a number of microseconds.
func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	var micro int64
	if err := json.Unmarshal(raw, &micro); err == nil {
		if micro < 0 {
			return errors.Wrap(errors.ErrInput, "time before epoch")
		}
		*t = Timestamp(micro)
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(errors.ErrInput, "invalid time format")
	}
	stdtime, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.Wrap(errors.ErrInput, "invalid time format")
	}
	ts := AsTimestamp(stdtime)
	if ts < 0 {
		return errors.Wrap(errors.ErrInput, "time before epoch")
	}
	*t = ts
	return nil
}

// Validate returns an error if this time value is invalid.
func (t Timestamp) Validate() error {
	if t < 0 {
		return errors.Wrap(errors.ErrState, "negative value")
	}
	return nil
}

// String returns the serialized form of this timestamp.
func (t Timestamp) String() string {
	return t.Time().Format(TimestampFormat)
}
