package specbuilder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTemplateJSON = `{
  "descr": "test template",
  "parameters": {
    "label": {"descr": "volume label", "type": "str"}
  },
  "dev-format": {
    "device": "{_dev}",
    "type": "gpt",
    "partitions": [
      {"id": "data", "type": null, "label": "{label}", "volume-id": null,
       "encryption": null, "immutable": false, "filesystem": "ext4",
       "password": null, "size-mb": 100}
    ],
    "unprotected": {},
    "protected": {},
    "decryptors": {},
    "signatures": {}
  }
}`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseTemplate_Valid(t *testing.T) {
	path := writeTemplate(t, sampleTemplateJSON)
	tmpl, err := ParseTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.Descr != "test template" {
		t.Fatalf("got %q", tmpl.Descr)
	}
}

func TestParseTemplate_RejectsUnknownVariable(t *testing.T) {
	bad := `{
  "descr": "t", "parameters": {},
  "dev-format": {
    "device": "{_dev}", "type": "gpt", "partitions": [],
    "unprotected": {"x": "{nope}"}, "protected": {}, "decryptors": {}, "signatures": {}
  }
}`
	path := writeTemplate(t, bad)
	if _, err := ParseTemplate(path); err == nil {
		t.Fatal("expected error for unknown variable reference")
	}
}

func TestBuilder_NonPhysicalDeviceRoundTrip(t *testing.T) {
	path := writeTemplate(t, sampleTemplateJSON)
	tmpl, err := ParseTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(tmpl, "/tmp/vm-image.raw", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetParameterValue("label", "DATA"); err != nil {
		t.Fatal(err)
	}
	specs, err := b.GetSpecifications()
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(specs)
	if !strings.Contains(string(raw), `"label":"DATA"`) {
		t.Fatalf("expected expanded label in specs, got %s", raw)
	}
	if !strings.Contains(string(raw), `"device":"/tmp/vm-image.raw"`) {
		t.Fatalf("expected expanded device in specs, got %s", raw)
	}
}

func TestBuilder_PhysicalDeviceRequiresProbe(t *testing.T) {
	path := writeTemplate(t, sampleTemplateJSON)
	tmpl, err := ParseTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewBuilder(tmpl, "/dev/sdb", nil); err == nil {
		t.Fatal("expected error requiring a hardware probe for a physical device")
	}
}
