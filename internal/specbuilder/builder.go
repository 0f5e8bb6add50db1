package specbuilder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/security"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// templateSchemaJSON is the structural shape every template must satisfy
// before any parameter-specific or reference checks run, per
// SpecBuilder.py's _validate_template top-level key checks.
const templateSchemaJSON = `{
  "type": "object",
  "required": ["descr", "parameters", "dev-format"],
  "properties": {
    "descr": {"type": "string"},
    "parameters": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["descr", "type"],
        "properties": {
          "descr": {"type": "string"},
          "type": {"enum": ["int", "str", "filesystem", "timestamp", "date", "file", "password", "size-mb"]}
        }
      }
    },
    "dev-format": {
      "type": "object",
      "required": ["device", "type", "partitions", "unprotected", "protected", "decryptors", "signatures"],
      "properties": {
        "device": {"type": "string"},
        "type": {"enum": ["gpt", "dos", "hybrid"]},
        "partitions": {"type": "array"},
        "unprotected": {"type": "object"},
        "protected": {"type": "object"},
        "decryptors": {"type": "object"},
        "signatures": {"type": "object"}
      }
    }
  }
}`

var templateSchema = mustCompileSchema(templateSchemaJSON)

func mustCompileSchema(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("template.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile("template.json")
	if err != nil {
		panic(err)
	}
	return s
}

// autoVariables are populated by the Builder itself rather than supplied
// by the caller, per SpecBuilder.py's auto_variables ("_dev", "_model",
// "_serial").
var autoVariables = map[string]ParamSpec{
	"_dev":    {Descr: "File device to use", Type: ParamFile},
	"_model":  {Descr: "Device HW model", Type: ParamStr},
	"_serial": {Descr: "Device HW serial number", Type: ParamStr},
}

// Template is a parsed, structurally-validated device-format template.
type Template struct {
	Descr      string               `json:"descr"`
	Parameters map[string]ParamSpec `json:"parameters"`
	DevFormat  map[string]any       `json:"dev-format"`
}

// ParseTemplate loads and structurally validates a template file.
func ParseTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("read template %q", path), err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, "parse template JSON", err)
	}
	if err := templateSchema.Validate(generic); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, "template does not match required shape", err)
	}

	var tmpl Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, "decode template", err)
	}
	if err := validatePartitions(tmpl.DevFormat); err != nil {
		return nil, err
	}
	if err := validateVariableReferences(tmpl.DevFormat, tmpl.Parameters); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// fullPartitionKeys are the keys a full partition spec in "partitions" must
// carry, no more and no fewer. The two other accepted shapes are recognised
// by a "leave-existing" or an "iso-file" key and their other keys are not
// checked (SpecBuilder.py's keywords0/1/2).
var fullPartitionKeys = map[string]bool{
	"id": true, "type": true, "label": true, "volume-id": true,
	"encryption": true, "immutable": true, "filesystem": true,
	"password": true, "size-mb": true,
}

func validatePartitions(devFormat map[string]any) error {
	devType, _ := devFormat["type"].(string)
	partitionsRaw, _ := devFormat["partitions"].([]any)
	ids := make(map[string]bool)

	for _, item := range partitionsRaw {
		pspec, ok := item.(map[string]any)
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidConfig, "partition spec is not an object")
		}
		switch {
		case pspec["leave-existing"] != nil:
		case pspec["iso-file"] != nil:
		default:
			if len(pspec) != len(fullPartitionKeys) {
				return insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("partition spec %v has missing or extra keys", pspec))
			}
			for k := range pspec {
				if !fullPartitionKeys[k] {
					return insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("invalid partition key %q", k))
				}
			}
			if id, ok := pspec["id"].(string); ok {
				ids[id] = true
			}
		}
	}

	if devType == "hybrid" {
		hybrid, ok := devFormat["hybrid-partitions"].([]any)
		if !ok || len(hybrid) == 0 || len(hybrid) > 3 {
			return insecaerr.New(insecaerr.KindInvalidConfig, "hybrid device type requires 1-3 hybrid-partitions entries")
		}
		for _, v := range hybrid {
			id, _ := v.(string)
			if !ids[id] {
				return insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("hybrid-partitions references unknown partition %q", id))
			}
		}
	} else if _, present := devFormat["hybrid-partitions"]; present {
		return insecaerr.New(insecaerr.KindInvalidConfig, "hybrid-partitions is only valid for device type \"hybrid\"")
	}

	protected, _ := devFormat["protected"].(map[string]any)
	for pid, v := range protected {
		entries, ok := v.(map[string]any)
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("protected entry %q is not an object", pid))
		}
		for key := range entries {
			if strings.HasPrefix(key, "@") {
				parts := strings.SplitN(key[1:], "/", 2)
				if len(parts) != 2 {
					return insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("invalid protected reference %q", key))
				}
				if !ids[parts[0]] {
					return insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("protected reference %q names unknown partition", key))
				}
			}
		}
	}
	return nil
}

func validateVariableReferences(data any, parameters map[string]ParamSpec) error {
	switch v := data.(type) {
	case string:
		for _, ref := range VariablesIn(v) {
			inner := ref[1 : len(ref)-1]
			if strings.HasPrefix(inner, "!") {
				continue
			}
			name, _, _ := strings.Cut(inner, "=")
			if _, ok := parameters[name]; ok {
				continue
			}
			if _, ok := autoVariables[name]; ok {
				continue
			}
			return insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("no parameter defined for variable %q", name))
		}
	case map[string]any:
		for _, val := range v {
			if err := validateVariableReferences(val, parameters); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range v {
			if err := validateVariableReferences(val, parameters); err != nil {
				return err
			}
		}
	}
	return nil
}

// Builder turns a Template plus caller-supplied parameter values into a
// concrete specification, mirroring SpecBuilder.py's Builder class.
type Builder struct {
	tmpl        *Template
	devfile     string
	isPhysical  bool
	paramValues map[string]any
}

// HardwareProbe supplies the physical-device facts the Builder needs to
// populate "_model"/"_serial" when devfile names a real block device.
type HardwareProbe func(devfile string) (model, serial string, err error)

// NewBuilder constructs a Builder bound to devfile, auto-populating
// "_dev"/"_model"/"_serial" per SpecBuilder.Builder.__init__.
func NewBuilder(tmpl *Template, devfile string, probe HardwareProbe) (*Builder, error) {
	b := &Builder{
		tmpl:        tmpl,
		devfile:     devfile,
		isPhysical:  strings.HasPrefix(devfile, "/dev/"),
		paramValues: make(map[string]any),
	}
	b.paramValues["_dev"] = devfile
	if b.isPhysical {
		if probe == nil {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, "a hardware probe is required for physical devices")
		}
		model, serial, err := probe(devfile)
		if err != nil {
			return nil, err
		}
		b.paramValues["_model"] = model
		b.paramValues["_serial"] = serial
	} else {
		b.paramValues["_model"] = "VM image file"
		b.paramValues["_serial"] = ""
	}
	return b, nil
}

// SetParameterValue validates and records a value for a named parameter,
// matching set_parameter_value's type coercion and (for "password"
// parameters) entropy enforcement.
func (b *Builder) SetParameterValue(name string, raw any) error {
	spec, ok := b.tmpl.Parameters[name]
	if !ok {
		spec, ok = autoVariables[name]
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("unknown parameter %q", name))
		}
	}
	value, err := ValidateParamValue(name, spec, raw, func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	if err != nil {
		return err
	}
	if spec.Type == ParamPassword {
		if s, ok := value.(string); ok {
			if err := security.ValidatePassword(s, 75); err != nil {
				return insecaerr.Wrap(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q", name), err)
			}
		}
	}
	b.paramValues[name] = value
	return nil
}

// GetSpecifications expands every variable reference in the template's
// dev-format section using the recorded parameter values, failing if any
// auto-variable is still unset, per Builder.get_specifications.
func (b *Builder) GetSpecifications() (map[string]any, error) {
	for name := range autoVariables {
		if _, ok := b.paramValues[name]; !ok {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("parameter %q has not been defined", name))
		}
	}
	expanded, err := ReplaceVariables(b.tmpl.DevFormat, b.paramValues, false)
	if err != nil {
		return nil, err
	}
	return expanded.(map[string]any), nil
}

// CanonicalSpecJSON renders the built specification with sorted keys, for
// hashing or display.
func (b *Builder) CanonicalSpecJSON() ([]byte, error) {
	specs, err := b.GetSpecifications()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(specs); err != nil {
		return nil, fmt.Errorf("encode specification: %w", err)
	}
	return buf.Bytes(), nil
}
