package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// RelatedIDs returns true if the two given ids designate
// the same call. JSON-RPC ids can be strings or numbers, and
// numbers may come back as any numeric type depending on
// the decoder.
func RelatedIDs(a any, b any) bool {

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}

	ia, oka := extractInt64(a)
	ib, okb := extractInt64(b)
	if oka && okb {
		return ia == ib
	}

	return reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.DeepEqual(a, b)
}

func normalizeID(id any) string {

	if s, ok := id.(string); ok {
		return s
	}

	if i, ok := extractInt64(id); ok {
		return fmt.Sprintf("%d", i)
	}

	return fmt.Sprintf("%v", id)
}

func extractInt64(v any) (int64, bool) {

	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case int32:
		return int64(val), true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
		return 0, false
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val <= math.MaxInt64 {
			return int64(val), true
		}
		return 0, false
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}
