package delivery

import "reflect"

// -----------------------------------------------------------------------------
// ComputeDiff implements the recursive, strictly-typed JSON diff from spec
// §4.5. It returns the new-only subset of `new` that differs from `old`.
// Keys present in old but absent from new are never emitted.
// -----------------------------------------------------------------------------

func ComputeDiff(old, new map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})

	for k, newVal := range new {
		oldVal, existed := old[k]
		if !existed {
			diff[k] = newVal
			continue
		}

		oldCat := jsonCategory(oldVal)
		newCat := jsonCategory(newVal)
		if oldCat != newCat {
			diff[k] = newVal
			continue
		}

		switch newCat {
		case catObject:
			nested := ComputeDiff(oldVal.(map[string]interface{}), newVal.(map[string]interface{}))
			if len(nested) > 0 {
				diff[k] = nested
			}
		case catArray:
			if !reflect.DeepEqual(oldVal, newVal) {
				diff[k] = newVal
			}
		case catNumber:
			if !numbersEqual(oldVal, newVal) {
				diff[k] = newVal
			}
		case catNull:
			// null vs null: equal, no emission.
		default:
			if oldVal != newVal {
				diff[k] = newVal
			}
		}
	}

	return diff
}

// -----------------------------------------------------------------------------

// Apply merges a diff produced by ComputeDiff back onto old, satisfying
// apply(old, diff(old, new)) == new for every shape the quote schema uses.
// Keys missing from diff are treated as unchanged.
func Apply(old, diff map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(old)+len(diff))
	for k, v := range old {
		result[k] = v
	}
	for k, dv := range diff {
		if nestedDiff, ok := dv.(map[string]interface{}); ok {
			if oldNested, ok2 := result[k].(map[string]interface{}); ok2 {
				result[k] = Apply(oldNested, nestedDiff)
				continue
			}
		}
		result[k] = dv
	}
	return result
}

// -----------------------------------------------------------------------------

type jsonCat int

const (
	catNull jsonCat = iota
	catObject
	catArray
	catNumber
	catString
	catBool
	catOther
)

func jsonCategory(v interface{}) jsonCat {
	switch v.(type) {
	case nil:
		return catNull
	case map[string]interface{}:
		return catObject
	case []interface{}:
		return catArray
	case float64, int64, int, float32, int32:
		return catNumber
	case string:
		return catString
	case bool:
		return catBool
	default:
		return catOther
	}
}

// -----------------------------------------------------------------------------

// numbersEqual compares two numeric interface{} values per spec §4.5: double
// comparison if either side is a double (float64/float32), int64 comparison
// otherwise.
func numbersEqual(a, b interface{}) bool {
	if isFloat(a) || isFloat(b) {
		return asFloat64(a) == asFloat64(b)
	}
	return asInt64(a) == asInt64(b)
}

func isFloat(v interface{}) bool {
	switch v.(type) {
	case float64, float32:
		return true
	default:
		return false
	}
}

func asFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
