package listing

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// The getters below turn an untyped JSON tree into typed values with
// defaults. Absent keys, nulls and wrong types all yield the zero value.

func mapField(node map[string]any, key string) map[string]any {
	if node == nil {
		return map[string]any{}
	}
	if m, ok := node[key].(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

func stringField(node map[string]any, key string) string {
	switch v := node[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// decimalField accepts JSON numbers (float64 or json.Number) and numeric
// strings.
func decimalField(node map[string]any, key string) decimal.NullDecimal {
	switch v := node[key].(type) {
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(v))
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return decimal.NewNullDecimal(d)
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return decimal.NewNullDecimal(d)
		}
	}
	return decimal.NullDecimal{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
