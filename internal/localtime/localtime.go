// Package localtime implements the zone-less wall-clock timestamps used by
// block schedules. Values are stored as "YYYY-MM-DDTHH:MM" and are always
// interpreted in one fixed civil timezone, chosen at the boundary where an
// instant is converted with In.
package localtime

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Layout is the stored representation. Fixed width, so lexical order of the
// string form equals chronological order.
const Layout = "2006-01-02T15:04"

const layoutSeconds = "2006-01-02T15:04:05"

var ErrInvalid = errors.New("invalid local time")

// Time is a wall-clock timestamp with minute precision. The zero value is
// "unset".
type Time struct {
	wall time.Time
}

// Parse accepts Layout and, for compatibility with browser datetime inputs,
// the same layout with seconds. Seconds are truncated.
func Parse(s string) (Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{Layout, layoutSeconds} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Time{wall: t.Truncate(time.Minute)}, nil
		}
	}
	return Time{}, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// In converts an instant to the wall clock reading in loc.
func In(instant time.Time, loc *time.Location) Time {
	w := instant.In(loc)
	return Time{wall: time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), 0, 0, time.UTC)}
}

func (t Time) IsZero() bool { return t.wall.IsZero() }

func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return t.wall.Format(Layout)
}

func (t Time) Before(u Time) bool { return t.wall.Before(u.wall) }
func (t Time) Equal(u Time) bool  { return t.wall.Equal(u.wall) }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, data)
	}
	if s == "" {
		*t = Time{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (Time) GormDataType() string { return "string" }

// Value stores the string form so range queries compare lexically.
func (t Time) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.String(), nil
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Time{}
		return nil
	case string:
		return t.scanString(v)
	case []byte:
		return t.scanString(string(v))
	case time.Time:
		*t = In(v, time.UTC)
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalid, src)
	}
}

func (t *Time) scanString(s string) error {
	if s == "" {
		*t = Time{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if t.IsZero() {
		return bsontype.Null, nil, nil
	}
	return bsontype.String, bsoncore.AppendString(nil, t.String()), nil
}

func (t *Time) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	switch typ {
	case bsontype.Null, bsontype.Undefined:
		*t = Time{}
		return nil
	case bsontype.String:
		s, _, ok := bsoncore.ReadString(data)
		if !ok {
			return fmt.Errorf("%w: malformed bson string", ErrInvalid)
		}
		return t.scanString(s)
	default:
		return fmt.Errorf("%w: unexpected bson type %s", ErrInvalid, typ)
	}
}
