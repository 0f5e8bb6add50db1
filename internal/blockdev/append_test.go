package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/insecakey/inseca/internal/metadata"
)

func TestWriteReadMetaRecordRoundTrip(t *testing.T) {
	devfile := filepath.Join(t.TempDir(), "fakedev")
	if err := os.WriteFile(devfile, make([]byte, 4*appendReserveBytes), 0o600); err != nil {
		t.Fatal(err)
	}

	meta := &metadata.MetaRecord{
		HWID:        map[string]any{"serial": "ABC123"},
		Unprotected: map[string]any{"name": "test-key"},
		Protected:   map[string]string{},
		Verif: metadata.VerifData{
			TableHash:  "deadbeef",
			Partitions: []map[string]any{{"id": "dummy"}},
		},
	}
	sig := &metadata.SigRecord{Signatures: map[string]string{"admin": "sig-value"}}

	if err := WriteMetaRecord(devfile, meta, sig); err != nil {
		t.Fatal(err)
	}

	gotMeta, gotSig, err := ReadMetaRecord(devfile)
	if err != nil {
		t.Fatal(err)
	}
	if gotMeta.HWID["serial"] != "ABC123" {
		t.Fatalf("got hw-id %v", gotMeta.HWID)
	}
	if gotMeta.Verif.TableHash != "deadbeef" {
		t.Fatalf("got table hash %v", gotMeta.Verif.TableHash)
	}
	if gotSig.Signatures["admin"] != "sig-value" {
		t.Fatalf("got signatures %v", gotSig.Signatures)
	}
}

func TestReadMetaRecordRejectsUnsealedDevice(t *testing.T) {
	devfile := filepath.Join(t.TempDir(), "fakedev")
	if err := os.WriteFile(devfile, make([]byte, 4*appendReserveBytes), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadMetaRecord(devfile); err == nil {
		t.Fatal("expected error reading unsealed device")
	}
}

func TestWriteMetaRecordRejectsDeviceTooSmall(t *testing.T) {
	devfile := filepath.Join(t.TempDir(), "fakedev")
	if err := os.WriteFile(devfile, make([]byte, 1024), 0o600); err != nil {
		t.Fatal(err)
	}
	meta := &metadata.MetaRecord{Protected: map[string]string{}}
	sig := &metadata.SigRecord{Signatures: map[string]string{}}
	if err := WriteMetaRecord(devfile, meta, sig); err == nil {
		t.Fatal("expected error for undersized device")
	}
}
