package bootproc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/metadata"
	"github.com/insecakey/inseca/internal/utils/logger"
)

// MountPoints gathers the already-mounted partition directories the
// unlock chain needs to read from. Mounting and unmounting the dummy,
// EFI and live partitions is the caller's responsibility (internal/blockdev
// owns device lifecycle); bootproc only reads from and reasons about
// already-accessible trees, mirroring how BootProcessWKS.start delegates
// mount()/umount() calls to its Device object but keeps the unlock logic
// itself device-agnostic.
type MountPoints struct {
	DummyDir string // partid_dummy
	EFIDir   string // EFI system partition, for the fingerprint chain
	LiveDir  string // partid_live
}

// DeviceFacts supplies the values only a block-device layer can produce:
// the raw device path and partition-table kind for hashing, the
// inter-partition hash, and the boot-params slot file names accepted in
// the EFI partition hash. The key-2 private-material hash is computed by
// Unlock itself from the decrypted blob1.
type DeviceFacts struct {
	DevicePath         string
	TableKind          fingerprint.TableKind
	InterPartitionHash string
	BootParamsSlots    []string
}

// UnlockResult is the outcome of a successful Unlock: blob0 and the
// internal partition password, plus the fingerprint computed along the
// way. Unlock leaves DataPassword empty; UnlockData derives the data
// partition password once the internal partition is mounted.
type UnlockResult struct {
	Blob0            string
	InternalPassword string
	DataPassword     string
	Fingerprint      string
	Log              []fingerprint.LogEntry
}

// VerifyAdminSignature checks resources/meta-sign.pub against a detached
// signature the device's own metadata carries, mirroring start()'s
// "Admin" key-type verifier. Plugged in as a function so callers can
// source the public key and signed blob however their metadata layer
// stores them.
type VerifyAdminSignature func(dummyDir string) error

// Unlock runs the full boot-time chain from BootProcessWKS.start: it
// authenticates the device, unlocks blob0 and blob1, verifies the live
// partition's sampled chunks, folds every checkpoint into the integrity
// fingerprint, and derives the internal partition password from it. The
// data partition password is not derived here: it is read from inside the
// internal partition by UnlockData. mp.DummyDir and mp.LiveDir must
// already be mounted and readable.
func Unlock(userPassword string, mp MountPoints, facts DeviceFacts, verifyAdmin VerifyAdminSignature) (*UnlockResult, error) {
	log := logger.Logger()

	if verifyAdmin != nil {
		if err := verifyAdmin(mp.DummyDir); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindSignatureInvalid, "device authentication failed", err)
		}
	}

	blob0Raw, err := os.ReadFile(filepath.Join(mp.DummyDir, "resources", "blob0.json"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read blob0.json", err)
	}
	slots, err := ParseBlob0File(blob0Raw)
	if err != nil {
		return nil, err
	}
	blob0, slot, err := UnlockBlob0(userPassword, slots)
	if err != nil {
		return nil, err
	}
	log.Infof("unlocked user slot for %q", slot.CN)

	encBlob1, err := os.ReadFile(filepath.Join(mp.DummyDir, "resources", "blob1.priv.enc"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read blob1.priv.enc", err)
	}
	blob1Priv, err := UnlockBlob1(blob0, string(encBlob1))
	if err != nil {
		return nil, err
	}

	encChunks, err := os.ReadFile(filepath.Join(mp.DummyDir, "resources", "chunks.enc"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read chunks.enc", err)
	}
	chunksRaw, err := metadata.DecryptWithPrivateKey(blob1Priv, string(encChunks))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindEncryptionError, "decrypt live chunk map", err)
	}
	var chunks fingerprint.ChunkMap
	if err := json.Unmarshal(chunksRaw, &chunks); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse live chunk map", err)
	}

	key2Sum := sha256.Sum256(blob1Priv)
	result, err := fingerprint.ComputeIntegrityFingerprint(fingerprint.Inputs{
		InterPartitionHash: facts.InterPartitionHash,
		Key2PrivateHash:    hex.EncodeToString(key2Sum[:]),
		DevicePath:         facts.DevicePath,
		TableKind:          facts.TableKind,
		DummyPartitionDir:  mp.DummyDir,
		EFIPartitionDir:    mp.EFIDir,
		BootParamsSlots:    facts.BootParamsSlots,
		LivePartitionDir:   mp.LiveDir,
		LiveChunks:         chunks,
	})
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindIntegrityMismatch, "integrity verification failed", err)
	}

	encInternal, err := os.ReadFile(filepath.Join(mp.DummyDir, "resources", "internal-pass.enc"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read internal-pass.enc", err)
	}
	internalPassword, err := metadata.DecryptWithPassword(result.Fingerprint, string(encInternal))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindEncryptionError, "unlock internal partition", err)
	}

	return &UnlockResult{
		Blob0:            blob0,
		InternalPassword: string(internalPassword),
		Fingerprint:      result.Fingerprint,
		Log:              result.Checkpoints,
	}, nil
}

// UnlockData derives the data-partition password from
// /internal/credentials/data-pass.enc, once the internal partition named
// in an UnlockResult has been mounted by the caller.
func UnlockData(integrityFingerprint string, internalMountpoint string) (string, error) {
	enc, err := os.ReadFile(filepath.Join(internalMountpoint, "credentials", "data-pass.enc"))
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read data-pass.enc", err)
	}
	plain, err := metadata.DecryptWithPassword(integrityFingerprint, string(enc))
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindEncryptionError, "unlock data partition", err)
	}
	return string(plain), nil
}
