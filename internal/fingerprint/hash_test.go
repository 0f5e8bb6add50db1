package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	full, err := HashFileRange(path, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	partial, err := HashFileRange(path, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if full == partial {
		t.Fatal("expected different hashes for full vs partial range")
	}

	again, err := HashFileRange(path, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if again != full {
		t.Fatal("hash of identical range should be stable")
	}
}

func TestHashDirectory_Deterministic(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected stable hash across repeated runs")
	}

	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}
	h3, err := HashDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("expected hash to change when file contents change")
	}
}

func TestHashDirectory_IgnoreFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "volatile"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	ignore := func(root, relative string) bool { return relative == "volatile" }

	h1, err := HashDirectory(dir, ignore)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "volatile"), []byte("v2-different-length"), 0o644); err != nil {
		t.Fatal(err)
	}
	h2, err := HashDirectory(dir, ignore)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("ignored entry should not affect the hash")
	}
}

func TestChainHash_OrderSensitive(t *testing.T) {
	a := ChainHash("x", "y")
	b := ChainHash("y", "x")
	if a == b {
		t.Fatal("ChainHash should not be commutative")
	}
	if ChainHash("x", "y") != a {
		t.Fatal("ChainHash should be deterministic")
	}
}
