// Package schema provides JSON Schema validation for collection documents.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("schema: invalid document")

// ValidationError reports the first constraint a document broke.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func fail(path, format string, args ...any) error {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks a document against a JSON Schema (draft-07 subset).
// Returns nil if validation passes or the schema is nil.
//
// Supported JSON Schema keywords:
//   - type (string, number, integer, boolean, object, array, null, and
//     the extension "timestamp" for time.Time values), or a list of types
//   - properties, required, additionalProperties
//   - items (for arrays)
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength
//   - minItems, maxItems
//   - enum
//
// Values are expected in store form: int64 or float64 numbers, []any arrays
// and map[string]any objects.
func Validate(schema map[string]any, doc map[string]any) error {
	if schema == nil {
		return nil
	}
	return validateValue(schema, doc, "$")
}

// ValidatePartial checks only the fields present in doc, ignoring
// "required". It is meant for partial updates.
func ValidatePartial(schema map[string]any, doc map[string]any) error {
	if schema == nil {
		return nil
	}
	relaxed := make(map[string]any, len(schema))
	for k, v := range schema {
		if k != "required" {
			relaxed[k] = v
		}
	}
	return validateValue(relaxed, doc, "$")
}

func validateValue(schema map[string]any, value any, path string) error {
	switch t := schema["type"].(type) {
	case string:
		if err := checkType([]string{t}, value, path); err != nil {
			return err
		}
	case []any:
		var types []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				types = append(types, s)
			}
		}
		if err := checkType(types, value, path); err != nil {
			return err
		}
	}

	if enumList, ok := schema["enum"].([]any); ok {
		if err := checkEnum(enumList, value, path); err != nil {
			return err
		}
	}

	switch v := value.(type) {
	case map[string]any:
		return validateObject(schema, v, path)
	case []any:
		return validateArray(schema, v, path)
	case string:
		return checkBounds(schema, float64(len(v)), path, stringBounds)
	case float64, int64, int, json.Number:
		f, _ := toFloat(v)
		return checkBounds(schema, f, path, numberBounds)
	}
	return nil
}

func checkType(expected []string, value any, path string) error {
	actual := jsonType(value)
	for _, want := range expected {
		switch {
		case want == actual:
			return nil
		case want == "number" && actual == "integer":
			return nil
		case want == "integer" && actual == "number":
			if f, ok := toFloat(value); ok && f == float64(int64(f)) {
				return nil
			}
		}
	}
	if len(expected) == 1 {
		return fail(path, "expected type %q, got %q", expected[0], actual)
	}
	return fail(path, "expected one of types %q, got %q", expected, actual)
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch n := v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case int, int64:
		return "integer"
	case time.Time:
		return "timestamp"
	default:
		return reflect.TypeOf(v).String()
	}
}

func checkEnum(allowed []any, value any, path string) error {
	for _, a := range allowed {
		if reflect.DeepEqual(a, value) {
			return nil
		}
	}
	return fail(path, "value not in enum %v", allowed)
}

func validateObject(schema map[string]any, obj map[string]any, path string) error {
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if field, ok := r.(string); ok {
				if _, exists := obj[field]; !exists {
					return fail(path, "missing required field %q", field)
				}
			}
		}
	}

	propsMap, _ := schema["properties"].(map[string]any)
	for field, propSchema := range propsMap {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(ps, val, path+"."+field); err != nil {
			return err
		}
	}

	if apBool, ok := schema["additionalProperties"].(bool); ok && !apBool {
		var extra []string
		for field := range obj {
			if _, defined := propsMap[field]; !defined {
				extra = append(extra, field)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return fail(path, "additional properties not allowed: %s", strings.Join(extra, ", "))
		}
	}
	return nil
}

func validateArray(schema map[string]any, arr []any, path string) error {
	if err := checkBounds(schema, float64(len(arr)), path, arrayBounds); err != nil {
		return err
	}
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, elem := range arr {
		if err := validateValue(items, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// bound is one numeric keyword: the check fails when broken(value, limit).
type bound struct {
	keyword string
	broken  func(v, limit float64) bool
	msg     string
}

func below(v, limit float64) bool   { return v < limit }
func above(v, limit float64) bool   { return v > limit }
func atMost(v, limit float64) bool  { return v <= limit }
func atLeast(v, limit float64) bool { return v >= limit }

var (
	arrayBounds = []bound{
		{"minItems", below, "array length %v is less than minItems %v"},
		{"maxItems", above, "array length %v is greater than maxItems %v"},
	}
	stringBounds = []bound{
		{"minLength", below, "string length %v is less than minLength %v"},
		{"maxLength", above, "string length %v is greater than maxLength %v"},
	}
	numberBounds = []bound{
		{"minimum", below, "%v is less than minimum %v"},
		{"maximum", above, "%v is greater than maximum %v"},
		{"exclusiveMinimum", atMost, "%v is not greater than exclusiveMinimum %v"},
		{"exclusiveMaximum", atLeast, "%v is not less than exclusiveMaximum %v"},
	}
)

func checkBounds(schema map[string]any, v float64, path string, bounds []bound) error {
	for _, b := range bounds {
		if limit, ok := toFloat(schema[b.keyword]); ok && b.broken(v, limit) {
			return fail(path, b.msg, v, limit)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
