package crypttype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/insecakey/inseca/internal/insecaerr"
)

func TestOpen_UnknownEngine(t *testing.T) {
	dir := t.TempDir()
	partfile := filepath.Join(dir, "part1")
	if err := os.WriteFile(partfile, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Engine("unknown"), partfile, "pw"); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestOpen_MissingPartition(t *testing.T) {
	if _, err := Open(EngineLUKS, "/nonexistent/partition-for-test", "pw"); err == nil {
		t.Fatal("expected error when partition does not exist")
	}
}

func TestMapperName_DistinguishesEngines(t *testing.T) {
	dir := t.TempDir()
	partfile := filepath.Join(dir, "part1")
	if err := os.WriteFile(partfile, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	luks, err := Open(EngineLUKS, partfile, "pw")
	if err != nil {
		t.Fatal(err)
	}
	vera, err := Open(EngineVeraCrypt, partfile, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if luks.mapperName() == vera.mapperName() {
		t.Fatal("expected distinct mapper names per engine")
	}
}

func TestClassifyLUKSError(t *testing.T) {
	err := classifyLUKSError("/dev/sdb1", errString("No key available with this passphrase"))
	if kind, ok := insecaerr.KindOf(err); !ok || kind != insecaerr.KindWrongPassphrase {
		t.Fatalf("expected KindWrongPassphrase classification, got %v", err)
	}

	oom := classifyLUKSError("/dev/sdb1", errString("cryptsetup: out of memory"))
	if kind, ok := insecaerr.KindOf(oom); !ok || kind != insecaerr.KindOutOfMemory {
		t.Fatalf("expected KindOutOfMemory classification, got %v", oom)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
