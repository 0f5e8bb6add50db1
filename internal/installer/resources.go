package installer

import (
	"encoding/json"
	"fmt"

	"github.com/insecakey/inseca/internal/bootproc"
	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/metadata"
)

// Attestation is the signed record identifying a provisioned device,
// mirroring _install_resources's "attestation" dict (device-id,
// install-config-id, build-repo-config, install-config-descr, plus any
// parameter flagged "attest": true in the configuration) plus the
// hardware-id and the signature over its canonical JSON encoding.
type Attestation struct {
	DeviceID          string         `json:"device-id"`
	InstallConfigID   string         `json:"install-config-id"`
	BuildRepoConfigID string         `json:"build-repo-config"`
	Descr             string         `json:"install-config-descr"`
	HardwareID        map[string]any `json:"hardware-id"`
	Extra             map[string]any `json:"-"`
}

// MarshalJSON flattens Extra's keys alongside Attestation's own fields, so
// "attest": true parameters end up at the top level of the signed blob,
// matching the Python dict's single flat namespace.
func (a Attestation) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"device-id":             a.DeviceID,
		"install-config-id":     a.InstallConfigID,
		"build-repo-config":     a.BuildRepoConfigID,
		"install-config-descr":  a.Descr,
		"hardware-id":           a.HardwareID,
	}
	for k, v := range a.Extra {
		out[k] = v
	}
	return metadata.CanonicalJSON(out)
}

type signedAttestation struct {
	Signature   string          `json:"signature"`
	Attestation json.RawMessage `json:"attestation"`
}

// BlobsConfig gathers the inputs needed to produce blob0/blob1 and the
// admin user's unlock slot, per _install_resources's first section.
type BlobsConfig struct {
	AdminUUID     string
	AdminCN       string
	AdminPassword string
	RescuePassword string // "" to skip the rescue slot
}

// Blobs is the outcome of GenerateBlobs: the two secrets and the unlock
// slots. The resources carrying them onto the dummy partition are staged
// on the ResourceSet passed to GenerateBlobs, not held here.
type Blobs struct {
	Blob0     string
	Blob1Priv []byte // PKCS1 PEM
	Blob1Pub  []byte // PKIX PEM
	Slots     map[string]*bootproc.UserSlot
}

// GenerateBlobs creates blob0 (the root secret unlocked by the admin
// password), blob1 (an RSA keypair used to protect the live partition's
// chunk map) and the admin (and optional rescue) unlock slots, staging
// them onto res at "resources/blob0.json", "resources/blob1.priv.enc" and
// "resources/blob1.pub", mirroring _install_resources's blob0/blob1
// section. Slot management reuses internal/bootproc's UserSlot so a
// provisioned device's blob0.json is byte-for-byte what Unlock expects to
// read back at boot.
func GenerateBlobs(res *ResourceSet, cfg BlobsConfig) (*Blobs, error) {
	blob0, err := generateSecret(64)
	if err != nil {
		return nil, err
	}
	blob1Priv, blob1Pub, err := metadata.GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}

	slots := make(map[string]*bootproc.UserSlot)
	adminSlot, err := bootproc.AddUserSlot(cfg.AdminUUID, cfg.AdminCN, cfg.AdminPassword, blob0)
	if err != nil {
		return nil, err
	}
	slots[cfg.AdminUUID] = adminSlot

	if cfg.RescuePassword != "" {
		if err := bootproc.AddRescueSlot(slots, cfg.RescuePassword, blob0); err != nil {
			return nil, err
		}
	}

	blob0File, err := bootproc.EncodeBlob0File(slots)
	if err != nil {
		return nil, err
	}
	res.AddBytes(PartIDDummy, "resources/blob0.json", blob0File, 0o400)

	encBlob1Priv, err := metadata.EncryptWithPassword(blob0, blob1Priv)
	if err != nil {
		return nil, err
	}
	res.AddBytes(PartIDDummy, "resources/blob1.priv.enc", []byte(encBlob1Priv), 0o400)
	res.AddBytes(PartIDDummy, "resources/blob1.pub", blob1Pub, 0o400)

	return &Blobs{Blob0: blob0, Blob1Priv: blob1Priv, Blob1Pub: blob1Pub, Slots: slots}, nil
}

// StageAttestation signs attest with attestationPrivKeyPEM and stages the
// resulting record at "credentials/attestation.json" on the internal
// partition, mirroring _install_resources's attestation section.
func StageAttestation(res *ResourceSet, attest Attestation, attestationPrivKeyPEM []byte) error {
	attestJSON, err := attest.MarshalJSON()
	if err != nil {
		return err
	}
	signature, err := metadata.SignWithPrivateKey(attestationPrivKeyPEM, attestJSON)
	if err != nil {
		return err
	}
	record := signedAttestation{Signature: signature, Attestation: attestJSON}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal attestation record: %w", err)
	}
	res.AddBytes(PartIDInternal, "credentials/attestation.json", data, 0o400)
	return nil
}

// StageDeviceCredentials copies the privdata-decryption private key and
// the device-metadata-signing public key onto their respective
// partitions, mirroring the "private key to decrypt privdata.tar.enc" and
// "signing key (for device authentication)" sections of
// _install_resources.
func StageDeviceCredentials(res *ResourceSet, privDataDecryptKeyFile, metaSignPubKeyFile string) {
	res.AddFile(PartIDInternal, "credentials/privdata-ekey.priv", privDataDecryptKeyFile, 0o400)
	res.AddFile(PartIDDummy, "resources/meta-sign.pub", metaSignPubKeyFile, 0)
}

// StageChunks RSA-encrypts chunks (the live partition's chunk map) with
// blob1's public key and stages it at "resources/chunks.enc", mirroring
// _install_resources's second write pass, done only after the first pass
// has been flushed and the dummy/EFI/live partitions unmounted.
func StageChunks(res *ResourceSet, blob1PubPEM []byte, chunks fingerprint.ChunkMap) error {
	raw, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunk map: %w", err)
	}
	enc, err := metadata.EncryptWithPublicKey(blob1PubPEM, raw)
	if err != nil {
		return err
	}
	res.AddBytes(PartIDDummy, "resources/chunks.enc", []byte(enc), 0o400)
	return nil
}

// StageFingerprintLog records the checkpoint log produced while computing
// the integrity fingerprint, mirroring
// "resources/integrity-fingerprint-log.json".
func StageFingerprintLog(res *ResourceSet, log []fingerprint.LogEntry) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal fingerprint log: %w", err)
	}
	res.AddBytes(PartIDInternal, "resources/integrity-fingerprint-log.json", data, 0o400)
	return nil
}

// SealInternalPassword generates a fresh random password for the internal
// partition, encrypts it with the integrity fingerprint and stages the
// envelope at "resources/internal-pass.enc" -- the caller must still add
// this password as a new LUKS key-slot on the internal partition's
// crypttype.Volume, since ResourceSet only stages filesystem writes.
// Mirrors _install_resources's int_password section.
func SealInternalPassword(res *ResourceSet, integrityFingerprint string) (string, error) {
	password, err := generateSecret(64)
	if err != nil {
		return "", err
	}
	enc, err := metadata.EncryptWithPassword(integrityFingerprint, []byte(password))
	if err != nil {
		return "", err
	}
	res.AddBytes(PartIDDummy, "resources/internal-pass.enc", []byte(enc), 0o400)
	return password, nil
}

// SealDataPassword encrypts the data partition's password with the
// integrity fingerprint and stages it at "credentials/data-pass.enc",
// mirroring _install_resources's data_password section.
func SealDataPassword(res *ResourceSet, integrityFingerprint, dataPassword string) error {
	enc, err := metadata.EncryptWithPassword(integrityFingerprint, []byte(dataPassword))
	if err != nil {
		return err
	}
	res.AddBytes(PartIDInternal, "credentials/data-pass.enc", []byte(enc), 0o400)
	return nil
}

// ComputeFingerprint wraps fingerprint.ComputeIntegrityFingerprint with
// the key-2 private hash derived from blob1's private key, matching
// Live.compute_integrity_fingerprint's call shape (key-2 being blob1, the
// secret that unlocks the live partition's chunk map).
func ComputeFingerprint(devicePath string, tableKind fingerprint.TableKind, interPartitionHash string, blob1Priv []byte, dummyDir, efiDir, liveDir string, bootParamsSlots []string, existingChunks fingerprint.ChunkMap) (*fingerprint.Result, error) {
	key2Hash := sha256Hex(blob1Priv)
	return fingerprint.ComputeIntegrityFingerprint(fingerprint.Inputs{
		InterPartitionHash: interPartitionHash,
		Key2PrivateHash:    key2Hash,
		DevicePath:         devicePath,
		TableKind:          tableKind,
		DummyPartitionDir:  dummyDir,
		EFIPartitionDir:    efiDir,
		BootParamsSlots:    bootParamsSlots,
		LivePartitionDir:   liveDir,
		LiveChunks:         existingChunks,
	})
}
