// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflectSchema builds a JSON schema map for the given struct value.
// The schema is inlined (no $ref) so providers can consume it directly.
func reflectSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(v)

	// Round-trip through JSON to get a plain map.
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	delete(out, "$schema")
	delete(out, "$id")

	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out, nil
}

// validateArgs checks args against the reflected schema: required keys
// must be present and primitive types must match. Nested objects are not
// descended into; decodeArgs still catches deeper mismatches.
func validateArgs(schema, args map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want == "" || value == nil {
			continue
		}
		if !matchesSchemaType(want, value) {
			return fmt.Errorf("argument %q: expected %s, got %T", name, want, value)
		}
	}
	return nil
}

func matchesSchemaType(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isJSONNumber(value)
	case "integer":
		f, ok := jsonFloat(value)
		return ok && f == float64(int64(f))
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func isJSONNumber(value any) bool {
	_, ok := jsonFloat(value)
	return ok
}

// jsonFloat normalizes the numeric types seen in decoded JSON and in
// hand-built argument maps.
func jsonFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// decodeArgs converts a loose argument map into a typed struct via JSON.
func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	return nil
}
