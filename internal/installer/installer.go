package installer

import (
	"os"
	"time"

	"github.com/insecakey/inseca/internal/blockdev"
	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/specbuilder"
	"github.com/insecakey/inseca/internal/utils/logger"
)

// Config bundles everything an Install run needs beyond the already-built
// DevicePlan: the live ISO and its signing key, the resources staged by
// GenerateBlobs/StageAttestation/StageDeviceCredentials, userdata
// requirements and the build repository to embed, mirroring the
// constructor arguments threaded through DeviceInstaller/ImageInstaller.
type Config struct {
	LiveISOFile       string
	SigningPubKeyFile string // "" to skip signature verification

	Blobs               BlobsConfig
	Attestation         Attestation
	AttestationKeyFile  string
	PrivDataKeyFile     string
	MetaSignPubKeyFile  string
	BuildRepoPath       string
	ComponentParamSpecs map[string]map[string]specbuilder.ParamSpec
	Params              *ParamsSet

	BootBinariesArchive string
	GrubConfTarFile     string
	Hybrid              bool
}

// Mountpoints supplies where each partition should be (or already is)
// mounted during the install, keyed by PartitionID.
type Mountpoints map[PartitionID]string

// Result is what a successful Install produces: the secrets needed to
// unlock the device later and the computed integrity fingerprint.
type Result struct {
	Blobs            *Blobs
	InternalPassword string
	DataPassword     string
	Fingerprint      *fingerprint.Result
}

// Install runs the full provisioning pipeline against an already-formatted
// device: live Linux install, secret generation and sealing (in the exact
// order the integrity fingerprint depends on), build-repo copy and
// userdata staging, mirroring Installer.install()'s InstallConfig branch.
// interPartitionHash is computed by the caller via
// blockdev.ComputeInterPartitionHash(devfile, layout) before formatting
// finishes writing to partitions outside the fingerprint chain.
func Install(dev *blockdev.Device, devfile string, tableKind fingerprint.TableKind, layout *blockdev.Layout, interPartitionHash string, formatted []FormattedPartition, mp Mountpoints, cfg Config) (*Result, error) {
	log := logger.Logger()

	if err := VerifyLiveLinuxArtifacts(cfg.LiveISOFile, cfg.SigningPubKeyFile); err != nil {
		return nil, err
	}

	log.Info("Installing live Linux")
	if err := InstallFreshLiveLinux(cfg.LiveISOFile, mp[PartIDLive], time.Now().Unix()); err != nil {
		return nil, err
	}

	res := NewResourceSet()
	blobs, err := GenerateBlobs(res, cfg.Blobs)
	if err != nil {
		return nil, err
	}
	attestationKey, err := os.ReadFile(cfg.AttestationKeyFile)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "read attestation signing key", err)
	}
	if err := StageAttestation(res, cfg.Attestation, attestationKey); err != nil {
		return nil, err
	}
	StageDeviceCredentials(res, cfg.PrivDataKeyFile, cfg.MetaSignPubKeyFile)

	if err := res.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	log.Info("Unmounting partitions")
	for _, id := range []PartitionID{PartIDDummy, PartIDEFI, PartIDLive} {
		if err := dev.Unmount(string(id)); err != nil {
			return nil, err
		}
	}

	liveMP, err := dev.Mount(string(PartIDLive), partfileFor(formatted, PartIDLive), mp[PartIDLive], "")
	if err != nil {
		return nil, err
	}
	chunks, hash, chunkLog, err := fingerprint.ComputeFilesViaChunks(liveMP, nil)
	if err != nil {
		return nil, err
	}

	chunksRes := NewResourceSet()
	if err := StageChunks(chunksRes, blobs.Blob1Pub, chunks); err != nil {
		return nil, err
	}
	if err := chunksRes.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	log.Info("Determining integrity fingerprint")
	// !!! from here on only resources/internal-pass.enc may be written to dummy/EFI/live !!!
	fp, err := ComputeFingerprint(devfile, tableKind, interPartitionHash, blobs.Blob1Priv, mp[PartIDDummy], mp[PartIDEFI], liveMP, nil, chunks)
	if err != nil {
		return nil, err
	}
	fp.Checkpoints = append(fp.Checkpoints, fingerprint.LogEntry{Name: "live-chunks", Checkpoint: hash[:5]})
	fp.Checkpoints = append(fp.Checkpoints, chunkLog...)

	sealRes := NewResourceSet()
	if err := StageFingerprintLog(sealRes, fp.Checkpoints); err != nil {
		return nil, err
	}

	internalPassword, err := SealInternalPassword(sealRes, fp.Fingerprint)
	if err != nil {
		return nil, err
	}
	internalPart, err := findPartition(formatted, PartIDInternal)
	if err != nil {
		return nil, err
	}
	if internalPart.Volume != nil {
		if err := internalPart.Volume.AddPassword(internalPassword); err != nil {
			return nil, err
		}
	}

	dataPart, err := findPartition(formatted, PartIDData)
	if err == nil && dataPart.Volume != nil {
		if err := SealDataPassword(sealRes, fp.Fingerprint, dataPart.Plan.Password); err != nil {
			return nil, err
		}
	}

	if err := sealRes.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	log.Info("Copying live Linux repository and userdata")
	if err := InstallBuildRepo(cfg.BuildRepoPath, mp[PartIDInternal]); err != nil {
		return nil, err
	}

	userdataRes := NewResourceSet()
	if cfg.Params != nil {
		if err := InstallUserData(userdataRes, cfg.Params, cfg.ComponentParamSpecs); err != nil {
			return nil, err
		}
	}
	if err := userdataRes.Flush(mountpointMap(mp)); err != nil {
		return nil, err
	}

	return &Result{
		Blobs:            blobs,
		InternalPassword: internalPassword,
		DataPassword:     dataPassword(dataPart),
		Fingerprint:      fp,
	}, nil
}

func mountpointMap(mp Mountpoints) map[PartitionID]string {
	out := make(map[PartitionID]string, len(mp))
	for k, v := range mp {
		out[k] = v
	}
	return out
}

func partfileFor(formatted []FormattedPartition, id PartitionID) string {
	fp, err := findPartition(formatted, id)
	if err != nil {
		return ""
	}
	return fp.Partfile
}

func dataPassword(dataPart *FormattedPartition) string {
	if dataPart == nil {
		return ""
	}
	return dataPart.Plan.Password
}
