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

package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	envSimple      = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// expandEnv substitutes ${VAR:-default}, ${VAR} and $VAR references.
func expandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envBraced.FindStringSubmatch(match)[1])
	})
	s = envSimple.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envSimple.FindStringSubmatch(match)[1])
	})
	return s
}

// parseScalar re-types an expanded string so "true" and "42" survive the
// YAML round-trip as bool and int.
func parseScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ExpandEnvInData walks a decoded YAML tree and expands env references in
// every string value.
func ExpandEnvInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnv(v)
		if expanded != v {
			return parseScalar(expanded)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ExpandEnvInData(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvInData(item)
		}
		return out
	default:
		return v
	}
}
