package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Key serializes filter into a deterministic cache key. Filters are
// round-tripped through JSON into a generic value, and encoding/json writes
// map keys in sorted order, so two filters with the same attributes give
// the same key however they were built. Empty attributes are left out so
// that an unset field and an explicitly empty one match.
func Key(prefix string, filter any) string {
	if filter == nil {
		return prefix
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return fmt.Sprintf("%s:%v", prefix, filter)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return prefix + ":" + string(raw)
	}
	if m, ok := generic.(map[string]any); ok {
		for k, v := range m {
			if isEmpty(v) {
				delete(m, k)
			}
		}
		if len(m) == 0 {
			return prefix
		}
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return prefix + ":" + string(raw)
	}
	return prefix + ":" + string(canonical)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
