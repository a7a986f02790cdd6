package stowage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MarkerPrefix prefixes the companion entry that records a key's expiry.
const MarkerPrefix = "EXPIRES"

// CompositeKey qualifies key with namespace, if one is set.
func CompositeKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "." + key
}

// MarkerKey returns the key under which the expiry of key is persisted.
func MarkerKey(key string) string {
	return MarkerPrefix + "." + key
}

// markedKey reports the entry key a marker key belongs to.
func markedKey(key string) (string, bool) {
	return strings.CutPrefix(key, MarkerPrefix+".")
}

// encodeExpiry renders an absolute expiry as epoch milliseconds.
func encodeExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// decodeExpiry parses a persisted marker. A JSON null means no expiry;
// anything other than a number or null is malformed, as is a number
// outside the int64 millisecond range.
func decodeExpiry(s string) (time.Time, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return time.Time{}, err
	}
	if dec.More() {
		return time.Time{}, fmt.Errorf("trailing data after %q", s)
	}
	switch n := v.(type) {
	case nil:
		return time.Time{}, nil
	case json.Number:
		if ms, err := n.Int64(); err == nil {
			return time.UnixMilli(ms), nil
		}
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, err
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return time.Time{}, fmt.Errorf("expiry %s out of range", n)
		}
		return time.UnixMilli(int64(f)), nil
	default:
		return time.Time{}, fmt.Errorf("expiry is %T, not a number", v)
	}
}
