package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tonegen/internal/ir"
)

// marshalMetadata converts IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalMetadata(md ir.IRObject) (string, error) {
	if md == nil {
		md = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(md)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which properly handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalMetadata(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return obj, nil
}

// Times are stored as unix nanoseconds in UTC.

func encodeTime(t time.Time) int64 {
	return t.UnixNano()
}

func decodeTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func decodeNullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return decodeTime(v.Int64)
}
