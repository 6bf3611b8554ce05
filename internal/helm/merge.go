package helm

// MergeConcat deep-merges values documents left to right. Maps are merged key
// by key, []any lists are concatenated, and any other value from a later
// document replaces the earlier one. Inputs are not modified.
func MergeConcat(values ...any) any {
	var result any
	for _, v := range values {
		if v == nil {
			continue
		}
		result = mergeConcat(result, v)
	}
	return result
}

func mergeConcat(left, right any) any {
	switch r := right.(type) {
	case map[string]any:
		l, ok := left.(map[string]any)
		if !ok {
			return copyValue(r)
		}
		merged := make(map[string]any, len(l)+len(r))
		for k, v := range l {
			merged[k] = copyValue(v)
		}
		for k, v := range r {
			if existing, ok := merged[k]; ok {
				merged[k] = mergeConcat(existing, v)
			} else {
				merged[k] = copyValue(v)
			}
		}
		return merged
	case []any:
		l, ok := left.([]any)
		if !ok {
			return copyValue(r)
		}
		merged := make([]any, 0, len(l)+len(r))
		for _, v := range l {
			merged = append(merged, copyValue(v))
		}
		for _, v := range r {
			merged = append(merged, copyValue(v))
		}
		return merged
	default:
		return right
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
