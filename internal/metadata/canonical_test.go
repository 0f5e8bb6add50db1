package metadata

import "testing"

func TestCanonicalJSON_SortsKeysRecursively(t *testing.T) {
	a := map[string]any{
		"b": 1,
		"a": map[string]any{"z": 1, "y": 2},
	}
	b := map[string]any{
		"a": map[string]any{"y": 2, "z": 1},
		"b": 1,
	}
	ja, err := CanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	jb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ja) != string(jb) {
		t.Fatalf("expected identical canonical encodings, got %q vs %q", ja, jb)
	}
	want := `{"a":{"y":2,"z":1},"b":1}`
	if string(ja) != want {
		t.Fatalf("got %q, want %q", ja, want)
	}
}

func TestCanonicalJSON_Arrays(t *testing.T) {
	v := []any{map[string]any{"b": 1, "a": 2}, 3}
	got, err := CanonicalJSON(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"a":2,"b":1},3]`
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
