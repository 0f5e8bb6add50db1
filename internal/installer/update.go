package installer

import (
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/blockdev"
	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/metadata"
	"github.com/insecakey/inseca/internal/utils/logger"
)

// UpdateConfig bundles everything Update needs to refresh an already
// provisioned device's live Linux in place, mirroring the constructor
// arguments threaded through Updater/DeviceUpdater/ImageUpdater.
type UpdateConfig struct {
	LiveISOFile       string
	SigningPubKeyFile string

	Blob0 string // the device's root secret, already unlocked by the caller

	InternalPassword string
	DataPassword     string

	BootBinariesArchive string
}

// UpdateResult carries the new integrity fingerprint back to the caller.
// The re-encrypted internal/data password envelopes are written to disk
// by Update and are not returned.
type UpdateResult struct {
	Fingerprint *fingerprint.Result
}

// Update refreshes the live Linux on an already-provisioned device: it
// decrypts blob1 using the caller-supplied blob0, installs the new live
// Linux into whichever of live0/live1 is not currently active, reinstalls
// Grub EFI, recomputes the live partition's chunk map and integrity
// fingerprint, and reseals the internal and data passwords against the
// new fingerprint. Mirrors Updater.update().
func Update(dev *blockdev.Device, devfile string, tableKind fingerprint.TableKind, layout *blockdev.Layout, interPartitionHash string, efiPartfile string, mp Mountpoints, cfg UpdateConfig) (*UpdateResult, error) {
	log := logger.Logger()

	blob1Pub, err := os.ReadFile(filepath.Join(mp[PartIDDummy], "resources", "blob1.pub"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "read blob1.pub", err)
	}
	encBlob1Priv, err := os.ReadFile(filepath.Join(mp[PartIDDummy], "resources", "blob1.priv.enc"))
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "read blob1.priv.enc", err)
	}
	blob1Priv, err := metadata.DecryptWithPassword(cfg.Blob0, string(encBlob1Priv))
	if err != nil {
		return nil, err
	}

	if err := VerifyLiveLinuxArtifacts(cfg.LiveISOFile, cfg.SigningPubKeyFile); err != nil {
		return nil, err
	}

	log.Info("Installing updated live Linux")
	if err := UpdateLiveLinux(cfg.LiveISOFile, mp[PartIDLive]); err != nil {
		return nil, err
	}

	efiMP, err := dev.Mount(string(PartIDEFI), efiPartfile, mp[PartIDEFI], "")
	if err != nil {
		return nil, err
	}
	unicodeFont := filepath.Join(efiMP, "boot", "grub", "fonts", "unicode.pf2")
	if _, err := os.Stat(unicodeFont); err == nil {
		log.Info("Removing stale font", "file", unicodeFont)
		if err := os.Remove(unicodeFont); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "remove "+unicodeFont, err)
		}
	}

	log.Info("Updating Grub (EFI)")
	if err := blockdev.InstallGrubEFI(efiMP, cfg.BootBinariesArchive); err != nil {
		return nil, err
	}

	chunks, hash, chunkLog, err := fingerprint.ComputeFilesViaChunks(mp[PartIDLive], nil)
	if err != nil {
		return nil, err
	}

	chunksRes := NewResourceSet()
	if err := StageChunks(chunksRes, blob1Pub, chunks); err != nil {
		return nil, err
	}
	if err := chunksRes.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	log.Info("Determining integrity fingerprint")
	fp, err := ComputeFingerprint(devfile, tableKind, interPartitionHash, blob1Priv, mp[PartIDDummy], mp[PartIDEFI], mp[PartIDLive], nil, chunks)
	if err != nil {
		return nil, err
	}
	fp.Checkpoints = append(fp.Checkpoints, fingerprint.LogEntry{Name: "live-chunks", Checkpoint: hash[:5]})
	fp.Checkpoints = append(fp.Checkpoints, chunkLog...)

	sealRes := NewResourceSet()
	if err := StageFingerprintLog(sealRes, fp.Checkpoints); err != nil {
		return nil, err
	}
	encInternal, err := metadata.EncryptWithPassword(fp.Fingerprint, []byte(cfg.InternalPassword))
	if err != nil {
		return nil, err
	}
	sealRes.AddBytes(PartIDDummy, "resources/internal-pass.enc", []byte(encInternal), 0o400)

	if cfg.DataPassword != "" {
		if err := SealDataPassword(sealRes, fp.Fingerprint, cfg.DataPassword); err != nil {
			return nil, err
		}
	}
	if err := sealRes.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	return &UpdateResult{Fingerprint: fp}, nil
}
