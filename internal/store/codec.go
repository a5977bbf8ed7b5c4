package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is the store-native instant. It survives the JSON wire form as
// {"_seconds": s, "_nanoseconds": n} and converts with ToTime.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// ToTime returns the instant in UTC.
func (t Timestamp) ToTime() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

type wireTimestamp struct {
	Seconds int64 `json:"_seconds"`
	Nanos   int32 `json:"_nanoseconds"`
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTimestamp{Seconds: t.Seconds, Nanos: t.Nanos})
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var w wireTimestamp
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.Seconds, t.Nanos = w.Seconds, w.Nanos
	return nil
}

// EncodeFields renders fields in the wire form. time.Time values are stored
// as Timestamps.
func EncodeFields(f Fields) ([]byte, error) {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = encodeValue(v)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return b, nil
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return TimestampOf(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return TimestampOf(*x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = encodeValue(vv)
		}
		return m
	case Fields:
		return encodeValue(map[string]any(x))
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = encodeValue(vv)
		}
		return s
	default:
		return v
	}
}

// DecodeFields parses the wire form. Numbers decode as json.Number and
// timestamp objects as Timestamp; nothing else is interpreted.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		out[k] = decodeValue(v)
	}
	return out, nil
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if ts, ok := asTimestamp(x); ok {
			return ts
		}
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = decodeValue(vv)
		}
		return m
	case []any:
		for i := range x {
			x[i] = decodeValue(x[i])
		}
		return x
	default:
		return v
	}
}

func asTimestamp(m map[string]any) (Timestamp, bool) {
	if len(m) != 2 {
		return Timestamp{}, false
	}
	s, ok1 := m["_seconds"].(json.Number)
	n, ok2 := m["_nanoseconds"].(json.Number)
	if !ok1 || !ok2 {
		return Timestamp{}, false
	}
	secs, err := s.Int64()
	if err != nil {
		return Timestamp{}, false
	}
	nanos, err := n.Int64()
	if err != nil || nanos < 0 || nanos >= int64(time.Second) {
		return Timestamp{}, false
	}
	return Timestamp{Seconds: secs, Nanos: int32(nanos)}, true
}

// Normalize passes f through the wire form so callers see what a reader will.
func Normalize(f Fields) (Fields, error) {
	b, err := EncodeFields(f)
	if err != nil {
		return nil, err
	}
	return DecodeFields(b)
}
