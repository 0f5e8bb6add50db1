package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func setupLayout(t *testing.T) Inputs {
	t.Helper()
	base := t.TempDir()
	dummy := filepath.Join(base, "dummy")
	efi := filepath.Join(base, "efi")
	live := filepath.Join(base, "live")
	for _, d := range []string{dummy, efi, live} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dummy, "decoy.bin"), []byte("decoy"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(efi, "bootparams0"), []byte("slot0"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(efi, "grub.cfg"), []byte("grub"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(live, "vmlinuz"), []byte("kernel-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	device := filepath.Join(base, "device.img")
	if err := os.WriteFile(device, make([]byte, 64*sectorSize), 0o644); err != nil {
		t.Fatal(err)
	}

	return Inputs{
		InterPartitionHash: "deadbeef",
		Key2PrivateHash:    "cafebabe",
		DevicePath:         device,
		TableKind:          TableGPT,
		DummyPartitionDir:  dummy,
		EFIPartitionDir:    efi,
		BootParamsSlots:    []string{"bootparams0", "bootparams1"},
		LivePartitionDir:   live,
	}
}

func TestComputeIntegrityFingerprint_ThenVerify(t *testing.T) {
	in := setupLayout(t)

	provisioned, err := ComputeIntegrityFingerprint(in)
	if err != nil {
		t.Fatal(err)
	}
	if provisioned.Fingerprint == "" {
		t.Fatal("expected a fingerprint")
	}
	if len(provisioned.Checkpoints) == 0 {
		t.Fatal("expected checkpoint log entries")
	}

	in.LiveChunks = provisioned.LiveChunks
	verified, err := ComputeIntegrityFingerprint(in)
	if err != nil {
		t.Fatalf("expected boot-time verification to succeed: %v", err)
	}
	if verified.Fingerprint != provisioned.Fingerprint {
		t.Fatal("unmodified device should reproduce the same fingerprint")
	}
}

func TestComputeIntegrityFingerprint_TolerantOfActiveBootParamsSlot(t *testing.T) {
	in := setupLayout(t)
	provisioned, err := ComputeIntegrityFingerprint(in)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(in.EFIPartitionDir, "bootparams0"), []byte("slot0-rotated"), 0o644); err != nil {
		t.Fatal(err)
	}
	in.LiveChunks = provisioned.LiveChunks
	verified, err := ComputeIntegrityFingerprint(in)
	if err != nil {
		t.Fatalf("rotating the tolerated boot-params slot should not break verification: %v", err)
	}
	if verified.Fingerprint != provisioned.Fingerprint {
		t.Fatal("tolerated slot rotation should not change the fingerprint")
	}
}

func TestComputeIntegrityFingerprint_DetectsLivePartitionTamper(t *testing.T) {
	in := setupLayout(t)
	provisioned, err := ComputeIntegrityFingerprint(in)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(in.LivePartitionDir, "vmlinuz"), []byte("tampered-kernel-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	in.LiveChunks = provisioned.LiveChunks
	if _, err := ComputeIntegrityFingerprint(in); err == nil {
		t.Fatal("expected tampered live partition to fail verification")
	}
}
