// Package specbuilder turns a JSON device-format template plus user
// supplied parameter values into the concrete specification consumed by
// internal/installer, grounded on original_source/lib/SpecBuilder.py and
// ValueHolder.py.
package specbuilder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/insecakey/inseca/internal/fsformat"
	"github.com/insecakey/inseca/internal/insecaerr"
)

var variableRE = regexp.MustCompile(`\{!?[a-zA-Z0-9_-]+(?:=[^"'=}]*)?\}`)

// VariablesIn returns every "{name}"/"{name=default}"/"{!name}" reference
// found in s, brace-delimited form intact, per ValueHolder.py's
// get_variables_in_string.
func VariablesIn(s string) []string {
	return variableRE.FindAllString(s, -1)
}

// ExpandString substitutes every variable reference in s using values,
// honoring the "{!name}" escape (emits a literal "{name}", does not
// substitute) and "{name=default}" fallback, matching ValueHolder.py's
// _expand_variables_in_string. An unresolved, non-defaulted variable is an
// error unless ignoreMissing is set.
func ExpandString(s string, values map[string]any, ignoreMissing bool) (string, error) {
	var resolveErr error
	result := variableRE.ReplaceAllStringFunc(s, func(ref string) string {
		if resolveErr != nil {
			return ref
		}
		inner := ref[1 : len(ref)-1]
		if strings.HasPrefix(inner, "!") {
			return "{" + inner[1:] + "}"
		}
		name, def, hasDefault := strings.Cut(inner, "=")
		if v, ok := values[name]; ok {
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%v", v)
		}
		if hasDefault {
			return def
		}
		if ignoreMissing {
			return ref
		}
		resolveErr = insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("no value provided for variable %q", name))
		return ref
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return result, nil
}

// ReplaceVariables walks an arbitrary JSON-shaped value (string, map,
// slice, or scalar) expanding every string leaf via ExpandString, matching
// ValueHolder.py's replace_variables.
func ReplaceVariables(data any, values map[string]any, ignoreMissing bool) (any, error) {
	switch v := data.(type) {
	case string:
		return ExpandString(v, values, ignoreMissing)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			expanded, err := ReplaceVariables(val, values, ignoreMissing)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			expanded, err := ReplaceVariables(val, values, ignoreMissing)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return data, nil
	}
}

// ParamType is a supported template parameter type, per SpecBuilder.py's
// accepted "type" values for a parameter spec.
type ParamType string

const (
	ParamInt        ParamType = "int"
	ParamStr        ParamType = "str"
	ParamFilesystem ParamType = "filesystem"
	ParamTimestamp  ParamType = "timestamp"
	ParamDate       ParamType = "date"
	ParamFile       ParamType = "file"
	ParamPassword   ParamType = "password"
	ParamSizeMB     ParamType = "size-mb"
)

func validParamType(t ParamType) bool {
	switch t {
	case ParamInt, ParamStr, ParamFilesystem, ParamTimestamp, ParamDate, ParamFile, ParamPassword, ParamSizeMB:
		return true
	}
	return false
}

// ParamSpec describes one template parameter.
type ParamSpec struct {
	Descr string    `json:"descr"`
	Type  ParamType `json:"type"`
}

// ValidateParamValue type-checks and normalizes a raw value against its
// parameter spec, per SpecBuilder.Builder.set_parameter_value.
func ValidateParamValue(name string, spec ParamSpec, raw any, fileExists func(string) bool) (any, error) {
	switch spec.Type {
	case ParamInt, ParamSizeMB:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: %q is not an integer", name, v))
			}
			return n, nil
		}
	case ParamFilesystem:
		s, ok := raw.(string)
		if !ok {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: expected a string", name))
		}
		if _, err := fsformat.TypeFromString(s); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q", name), err)
		}
		return s, nil
	case ParamFile:
		s, ok := raw.(string)
		if !ok {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: expected a string", name))
		}
		if fileExists != nil && !fileExists(s) {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: file %q does not exist", name, s))
		}
		return s, nil
	case ParamTimestamp, ParamDate, ParamStr, ParamPassword:
		s, ok := raw.(string)
		if !ok {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: expected a string", name))
		}
		return s, nil
	}
	return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q: unhandled type %q", name, spec.Type))
}
