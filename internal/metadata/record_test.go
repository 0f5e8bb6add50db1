package metadata

import (
	"testing"

	"github.com/insecakey/inseca/internal/insecaerr"
)

func sampleRecord() *MetaRecord {
	return &MetaRecord{
		HWID:        map[string]any{"model": "SanDisk Ultra", "serial": "ABC123"},
		Unprotected: map[string]any{"version": "1"},
		Protected:   map[string]string{},
		Verif: VerifData{
			TableHash: "deadbeef",
			Partitions: []map[string]any{
				{"id": "data", "immutable": false},
			},
		},
	}
}

func TestMetaRecordEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleRecord()
	encoded, err := EncodeMetaRecord(m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeMetaRecord(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Verif.TableHash != m.Verif.TableHash {
		t.Fatalf("got table hash %q, want %q", decoded.Verif.TableHash, m.Verif.TableHash)
	}
}

func TestSealOpenProtectedData(t *testing.T) {
	data := map[string]any{"@data/password": "swordfish", "secret": "hunter2"}
	passwords := map[string]string{"admin": "adminpw"}
	sealed, err := SealProtectedData(data, passwords)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := OpenProtectedData(sealed, map[string]string{"admin": "adminpw"})
	if err != nil {
		t.Fatal(err)
	}
	if opened["secret"] != "hunter2" {
		t.Fatalf("got %v, want secret=hunter2", opened)
	}

	if _, err := OpenProtectedData(sealed, map[string]string{"admin": "wrong"}); err == nil {
		t.Fatal("expected error decrypting with wrong password")
	}
	if _, err := OpenProtectedData(sealed, map[string]string{"other": "adminpw"}); err == nil {
		t.Fatal("expected error when no matching decryptor id is supplied")
	}
}

func TestResolveReferences(t *testing.T) {
	partitions := []map[string]any{
		{"id": "data", "immutable": false},
		{"id": "system", "immutable": true},
	}
	protected := map[string]any{
		"@data/password": "swordfish",
		"plain":          "ignored",
	}
	if err := ResolveReferences(protected, partitions); err != nil {
		t.Fatal(err)
	}
	if partitions[0]["password"] != "swordfish" {
		t.Fatalf("expected password resolved onto data partition, got %v", partitions[0])
	}
	if _, ok := partitions[1]["password"]; ok {
		t.Fatal("did not expect password on unrelated partition")
	}
}

func TestResolveReferences_UnknownPartition(t *testing.T) {
	partitions := []map[string]any{{"id": "data"}}
	protected := map[string]any{"@missing/password": "x"}
	err := ResolveReferences(protected, partitions)
	if kind, ok := insecaerr.KindOf(err); !ok || kind != insecaerr.KindMissingReference {
		t.Fatalf("expected KindMissingReference, got %v", err)
	}
}

func TestSignVerifyRecord(t *testing.T) {
	m := sampleRecord()
	sig, err := SignRecord(m, "admin", "adminpw")
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyRecordSignature(m, "adminpw", sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	m.Unprotected["version"] = "2"
	if err := VerifyRecordSignature(m, "adminpw", sig); err == nil {
		t.Fatal("expected signature verification to fail after tampering")
	}
}
