package specbuilder

import "testing"

func TestVariablesIn(t *testing.T) {
	got := VariablesIn("hello {name}, size={size-mb=100}, literal {!escaped}")
	want := []string{"{name}", "{size-mb=100}", "{!escaped}"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestExpandString_SubstitutesAndDefaultsAndEscapes(t *testing.T) {
	values := map[string]any{"name": "alice"}
	out, err := ExpandString("hi {name}, size {size-mb=64}, keep {!literal}", values, false)
	if err != nil {
		t.Fatal(err)
	}
	want := "hi alice, size 64, keep {literal}"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestExpandString_MissingVariableErrors(t *testing.T) {
	if _, err := ExpandString("{missing}", nil, false); err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if out, err := ExpandString("{missing}", nil, true); err != nil || out != "{missing}" {
		t.Fatalf("expected passthrough with ignoreMissing, got %q, %v", out, err)
	}
}

func TestReplaceVariables_Nested(t *testing.T) {
	data := map[string]any{
		"a": "{x}",
		"b": []any{"{y}", "literal"},
	}
	out, err := ReplaceVariables(data, map[string]any{"x": "1", "y": "2"}, false)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["a"] != "1" {
		t.Fatalf("got %v", m["a"])
	}
	list := m["b"].([]any)
	if list[0] != "2" || list[1] != "literal" {
		t.Fatalf("got %v", list)
	}
}

func TestValidateParamValue_SizeMBCoercesString(t *testing.T) {
	v, err := ValidateParamValue("sz", ParamSpec{Type: ParamSizeMB}, "128", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 128 {
		t.Fatalf("got %v", v)
	}
}

func TestValidateParamValue_FileMustExist(t *testing.T) {
	_, err := ValidateParamValue("f", ParamSpec{Type: ParamFile}, "nope", func(string) bool { return false })
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
