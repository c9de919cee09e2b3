package convert

import "claude-bridge/internal/config"

// typePrecedence orders JSON schema primitive types for collapsing a type
// array down to the single most structured member.
var typePrecedence = []string{"object", "array", "string", "number", "integer", "boolean", "null"}

// SanitizeSchema returns a copy of a tool input schema with everything the
// backend profile cannot digest stripped out. The input is never mutated and
// sanitizing an already-sanitized schema is a no-op.
func SanitizeSchema(schema map[string]any, profile config.Profile) map[string]any {
	if schema == nil {
		return nil
	}

	out := sanitizeNode(schema, profile)
	m, ok := out.(map[string]any)
	if !ok {
		return map[string]any{}
	}

	return m
}

func sanitizeNode(node any, profile config.Profile) any {
	switch v := node.(type) {
	case map[string]any:
		return sanitizeObject(v, profile)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeNode(item, profile))
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any, profile config.Profile) map[string]any {
	out := make(map[string]any, len(obj))

	// Wrapper keys merge after every sibling is placed, so a sibling that
	// shares a key with the sole branch always wins regardless of map order.
	var wrappers []string

	for key, val := range obj {
		if stripped(key, profile) {
			continue
		}

		switch key {
		case "type":
			out[key] = coerceType(val)
		case "format":
			if s, ok := val.(string); ok && !formatAllowed(s, profile) {
				continue
			}
			out[key] = val
		case "enum":
			// A one-value enum carries no choice; keeping it as a scalar
			// would be invalid schema, so the key goes away.
			if arr, ok := val.([]any); ok && len(arr) == 1 {
				continue
			}
			out[key] = sanitizeNode(val, profile)
		case "anyOf", "oneOf":
			wrappers = append(wrappers, key)
		default:
			out[key] = sanitizeNode(val, profile)
		}
	}

	for _, key := range wrappers {
		flat := flattenSingle(sanitizeNode(obj[key], profile))
		if m, ok := flat.(map[string]any); ok {
			// A single alternative replaces the wrapper entirely.
			for k, v := range m {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
			continue
		}
		out[key] = flat
	}

	return out
}

func stripped(key string, profile config.Profile) bool {
	for _, k := range profile.UnsupportedSchemaKeywords {
		if k == key {
			return true
		}
	}
	return false
}

func formatAllowed(format string, profile config.Profile) bool {
	if len(profile.StringFormats) == 0 {
		return true
	}
	for _, f := range profile.StringFormats {
		if f == format {
			return true
		}
	}
	return false
}

// coerceType collapses a type array such as ["string", "null"] to the most
// structured member. Scalar types pass through unchanged.
func coerceType(val any) any {
	arr, ok := val.([]any)
	if !ok {
		return val
	}

	if len(arr) == 1 {
		return arr[0]
	}

	for _, candidate := range typePrecedence {
		for _, member := range arr {
			if s, ok := member.(string); ok && s == candidate {
				return s
			}
		}
	}

	return val
}

// flattenSingle unwraps one-element lists; a single anyOf branch carries no
// choice.
func flattenSingle(val any) any {
	arr, ok := val.([]any)
	if ok && len(arr) == 1 {
		return arr[0]
	}
	return val
}
