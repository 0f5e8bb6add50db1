package installer

import (
	"encoding/json"
	"testing"

	"github.com/insecakey/inseca/internal/metadata"
)

func TestGenerateBlobsStagesDummyResources(t *testing.T) {
	res := NewResourceSet()
	cfg := BlobsConfig{
		AdminUUID:      "admin-uuid",
		AdminCN:        "Admin",
		AdminPassword:  "s3cret-password",
		RescuePassword: "rescue-password",
	}
	blobs, err := GenerateBlobs(res, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if blobs.Blob0 == "" {
		t.Fatal("expected non-empty blob0")
	}
	if len(blobs.Blob1Priv) == 0 || len(blobs.Blob1Pub) == 0 {
		t.Fatal("expected blob1 keypair")
	}
	if len(blobs.Slots) != 2 {
		t.Fatalf("expected admin+rescue slots, got %d", len(blobs.Slots))
	}

	for _, relpath := range []string{"resources/blob0.json", "resources/blob1.priv.enc", "resources/blob1.pub"} {
		if _, ok := res.entries[PartIDDummy][relpath]; !ok {
			t.Fatalf("expected %q to be staged on the dummy partition", relpath)
		}
	}
}

func TestStageAttestationProducesVerifiableSignature(t *testing.T) {
	privPEM, pubPEM, err := metadata.GenerateRSAKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	res := NewResourceSet()
	attest := Attestation{
		DeviceID: "dev-1",
		Extra:    map[string]any{"custom-flag": true},
	}
	if err := StageAttestation(res, attest, privPEM); err != nil {
		t.Fatal(err)
	}

	entry, ok := res.entries[PartIDInternal]["credentials/attestation.json"]
	if !ok {
		t.Fatal("expected attestation to be staged on the internal partition")
	}

	var record signedAttestation
	if err := json.Unmarshal(entry.data, &record); err != nil {
		t.Fatal(err)
	}
	if err := metadata.VerifyWithPublicKey(pubPEM, record.Attestation, record.Signature); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
}

func TestSealInternalPasswordRoundTrips(t *testing.T) {
	res := NewResourceSet()
	fingerprint := "some-integrity-fingerprint"
	password, err := SealInternalPassword(res, fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if password == "" {
		t.Fatal("expected a non-empty generated password")
	}

	entry := res.entries[PartIDDummy]["resources/internal-pass.enc"]
	got, err := metadata.DecryptWithPassword(fingerprint, string(entry.data))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != password {
		t.Fatalf("got %q, want %q", got, password)
	}
}

func TestSealDataPasswordRoundTrips(t *testing.T) {
	res := NewResourceSet()
	fingerprint := "another-fingerprint"
	if err := SealDataPassword(res, fingerprint, "my-data-password"); err != nil {
		t.Fatal(err)
	}

	entry := res.entries[PartIDInternal]["credentials/data-pass.enc"]
	got, err := metadata.DecryptWithPassword(fingerprint, string(entry.data))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "my-data-password" {
		t.Fatalf("got %q", got)
	}
}
