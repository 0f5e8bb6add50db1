package bootproc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/metadata"
)

func genRSAKeyPEM(t *testing.T) (pub, priv []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	privDER := x509.MarshalPKCS1PrivateKey(key)
	priv = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pub = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return pub, priv
}

func TestUnlockFullChain(t *testing.T) {
	dummyDir := t.TempDir()
	liveDir := t.TempDir()
	resourcesDir := filepath.Join(dummyDir, "resources")
	if err := os.MkdirAll(resourcesDir, 0o700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(liveDir, "vmlinuz"), []byte("kernel-bytes-unchanged"), 0o600); err != nil {
		t.Fatal(err)
	}

	blob0 := "blob0-secret-material"
	userSlot, err := AddUserSlot("user-1", "Alice", "userpw", blob0)
	if err != nil {
		t.Fatal(err)
	}
	blobs := map[string]*UserSlot{"user-1": userSlot}
	blob0JSON, err := EncodeBlob0File(blobs)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(resourcesDir, "blob0.json"), blob0JSON, 0o600); err != nil {
		t.Fatal(err)
	}

	_, blob1Priv := genRSAKeyPEM(t)
	encBlob1, err := metadata.EncryptWithPassword(blob0, blob1Priv)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(resourcesDir, "blob1.priv.enc"), []byte(encBlob1), 0o600); err != nil {
		t.Fatal(err)
	}

	chunks, liveHash, _, err := fingerprint.ComputeFilesViaChunks(liveDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = liveHash
	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		t.Fatal(err)
	}
	encChunks, err := metadata.EncryptWithPublicKey(derivePublicPEM(t, blob1Priv), chunksJSON)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(resourcesDir, "chunks.enc"), []byte(encChunks), 0o600); err != nil {
		t.Fatal(err)
	}

	devFile := filepath.Join(t.TempDir(), "device.img")
	if err := os.WriteFile(devFile, make([]byte, 512), 0o600); err != nil {
		t.Fatal(err)
	}
	efiDir := t.TempDir()

	facts := DeviceFacts{
		DevicePath:         devFile,
		TableKind:          fingerprint.TableMBR,
		InterPartitionHash: "fixed-inter-partition-hash",
	}
	mp := MountPoints{DummyDir: dummyDir, EFIDir: efiDir, LiveDir: liveDir}

	// Precompute the fingerprint so internal-pass.enc can be sealed with it.
	previewResult, err := fingerprint.ComputeIntegrityFingerprint(fingerprint.Inputs{
		InterPartitionHash: facts.InterPartitionHash,
		Key2PrivateHash:    sha256Hex(blob1Priv),
		DevicePath:         facts.DevicePath,
		TableKind:          facts.TableKind,
		DummyPartitionDir:  mp.DummyDir,
		EFIPartitionDir:    mp.EFIDir,
		LivePartitionDir:   mp.LiveDir,
		LiveChunks:         chunks,
	})
	if err != nil {
		t.Fatal(err)
	}

	encInternal, err := metadata.EncryptWithPassword(previewResult.Fingerprint, []byte("internal-partition-password"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(resourcesDir, "internal-pass.enc"), []byte(encInternal), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := Unlock("userpw", mp, facts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Blob0 != blob0 {
		t.Fatalf("got blob0 %q, want %q", result.Blob0, blob0)
	}
	if result.InternalPassword != "internal-partition-password" {
		t.Fatalf("got internal password %q", result.InternalPassword)
	}
	if result.Fingerprint != previewResult.Fingerprint {
		t.Fatalf("fingerprint mismatch: got %q want %q", result.Fingerprint, previewResult.Fingerprint)
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	dummyDir := t.TempDir()
	resourcesDir := filepath.Join(dummyDir, "resources")
	os.MkdirAll(resourcesDir, 0o700)

	slot, _ := AddUserSlot("user-1", "Alice", "userpw", "blob0")
	blobs := map[string]*UserSlot{"user-1": slot}
	raw, _ := EncodeBlob0File(blobs)
	os.WriteFile(filepath.Join(resourcesDir, "blob0.json"), raw, 0o600)

	_, err := Unlock("wrongpw", MountPoints{DummyDir: dummyDir}, DeviceFacts{}, nil)
	if err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func derivePublicPEM(t *testing.T, privPEM []byte) []byte {
	t.Helper()
	block, _ := pem.Decode(privPEM)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
