package llm

import (
	"encoding/json"
)

// stubValue builds a deterministic, schema-valid empty value for a JSON
// schema: empty strings (or the first enum member), zeros, empty arrays,
// and objects with every required property present. The stub keeps
// degraded-mode callers on the same contract as full mode.
func stubValue(schema map[string]interface{}) interface{} {
	typeStr, _ := schema["type"].(string)

	if enumVals, ok := schema["enum"].([]interface{}); ok && len(enumVals) > 0 {
		return enumVals[0]
	}
	if enumVals, ok := schema["enum"].([]string); ok && len(enumVals) > 0 {
		return enumVals[0]
	}

	switch typeStr {
	case "object":
		obj := map[string]interface{}{}
		props, _ := schema["properties"].(map[string]interface{})
		for _, name := range requiredNames(schema) {
			if propSchema, ok := props[name].(map[string]interface{}); ok {
				obj[name] = stubValue(propSchema)
			} else {
				obj[name] = nil
			}
		}
		return obj
	case "array":
		return []interface{}{}
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	default:
		return nil
	}
}

// StubJSON renders the stub value for schema as JSON bytes
func StubJSON(schema map[string]interface{}) []byte {
	b, err := json.Marshal(stubValue(schema))
	if err != nil {
		return []byte("{}")
	}
	return b
}

func requiredNames(schema map[string]interface{}) []string {
	var names []string
	if reqVals, ok := schema["required"].([]interface{}); ok {
		for _, v := range reqVals {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	} else if reqVals, ok := schema["required"].([]string); ok {
		names = reqVals
	}
	return names
}
