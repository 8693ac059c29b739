package pdp

import (
	"maps"
	"slices"
)

// KeepFunc decides if an element of a redacted list is kept.
type KeepFunc func(element any) bool

// Redact returns a result equal to the given one except the list
// under field only keeps the elements for which keep returns true.
// The input is never modified. If the field is missing or is not a list,
// the result is returned as is.
func Redact(result map[string]any, field string, keep KeepFunc) map[string]any {

	list, ok := result[field].([]any)
	if !ok || keep == nil {
		return result
	}

	filtered := make([]any, 0, len(list))
	for _, e := range list {
		if keep(e) {
			filtered = append(filtered, e)
		}
	}

	out := maps.Clone(result)
	out[field] = slices.Clip(filtered)

	return out
}

// KeepNamesNotIn returns a KeepFunc dropping elements whose
// name attribute is one of the given names. Elements without a
// string name are kept.
func KeepNamesNotIn(names []string) KeepFunc {

	forbidden := make(map[string]struct{}, len(names))
	for _, n := range names {
		forbidden[n] = struct{}{}
	}

	return func(element any) bool {

		m, ok := element.(map[string]any)
		if !ok {
			return true
		}

		name, ok := m["name"].(string)
		if !ok {
			return true
		}

		_, drop := forbidden[name]

		return !drop
	}
}
