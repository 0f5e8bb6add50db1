package installer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResourceSetFlushWritesBytesAndFiles(t *testing.T) {
	dummyDir := t.TempDir()
	internalDir := t.TempDir()

	srcFile := filepath.Join(t.TempDir(), "source.txt")
	if err := os.WriteFile(srcFile, []byte("source content"), 0o600); err != nil {
		t.Fatal(err)
	}

	res := NewResourceSet()
	res.AddBytes(PartIDDummy, "resources/blob0.json", []byte(`{"ok":true}`), 0o400)
	res.AddFile(PartIDInternal, "credentials/key.pem", srcFile, 0o400)
	res.AddDir(PartIDInternal, "components", 0o700)

	mountpoints := map[PartitionID]string{
		PartIDDummy:    dummyDir,
		PartIDInternal: internalDir,
	}
	if err := res.Flush(mountpoints); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dummyDir, "resources", "blob0.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("got %q", got)
	}

	got, err = os.ReadFile(filepath.Join(internalDir, "credentials", "key.pem"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "source content" {
		t.Fatalf("got %q", got)
	}

	info, err := os.Stat(filepath.Join(internalDir, "components"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected components to be a directory")
	}
}

func TestResourceSetFlushMissingMountpoint(t *testing.T) {
	res := NewResourceSet()
	res.AddBytes(PartIDLive, "marker", []byte("x"), 0)
	if err := res.Flush(map[PartitionID]string{}); err == nil {
		t.Fatal("expected error for missing mountpoint")
	}
}
