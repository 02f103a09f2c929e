package recorder

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EnsureID returns id unchanged when set, otherwise "<prefix>:<uuid>".
func EnsureID(prefix, id string) string {
	if id != "" {
		return id
	}
	return prefix + ":" + uuid.NewString()
}

func isPrimitive(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		return true
	}
	return false
}

// sanitizeValue flattens values that are neither primitives nor lists of
// primitives into canonical JSON strings before storage.
func sanitizeValue(v interface{}) interface{} {
	if isPrimitive(v) {
		return v
	}
	if list, ok := v.([]interface{}); ok {
		allPrimitive := true
		for _, item := range list {
			if !isPrimitive(item) {
				allPrimitive = false
				break
			}
		}
		if allPrimitive {
			return list
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// sanitizeMap applies sanitizeValue to every value of a map.
func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v)
	}
	return out
}
