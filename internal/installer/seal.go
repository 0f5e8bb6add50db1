package installer

import (
	"fmt"

	"github.com/insecakey/inseca/internal/blockdev"
	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/insecakey/inseca/internal/fsformat"
	"github.com/insecakey/inseca/internal/metadata"
)

// SealMetadata computes a content hash for every partition (a raw byte
// hash for opaque/encrypted partitions, a directory hash for a mounted
// plain filesystem) plus the partition table's own hash, assembles a
// metadata.MetaRecord/SigRecord pair and seals them onto devfile via
// blockdev.WriteMetaRecord, mirroring Device.py's seal_metadata.
//
// mountpoints supplies, for each partition ID whose content must be hashed
// by walking a filesystem rather than reading raw bytes, the path it is
// currently mounted at.
func SealMetadata(devfile string, tableKind fingerprint.TableKind, layout *blockdev.Layout, formatted []FormattedPartition, mountpoints map[string]string, hwid *blockdev.HardwareID, signerID, signerPassword string) (*metadata.MetaRecord, *metadata.SigRecord, error) {
	partitions := make([]map[string]any, len(formatted))
	for i, fp := range formatted {
		info := layout.Partitions[i]
		hash, err := partitionContentHash(devfile, fp, info, mountpoints)
		if err != nil {
			return nil, nil, fmt.Errorf("hash partition %q: %w", fp.Plan.ID, err)
		}
		partitions[i] = map[string]any{
			"id":         fp.Plan.ID,
			"number":     info.Number,
			"hash":       hash,
			"encryption": string(fp.Plan.Encryption),
		}
	}

	tableHash, err := fingerprint.HashPartitionTable(devfile, tableKind)
	if err != nil {
		return nil, nil, err
	}

	meta := &metadata.MetaRecord{
		HWID: map[string]any{
			"model":  hwid.Model,
			"serial": hwid.Serial,
			"size":   hwid.SizeBytes,
		},
		Unprotected: map[string]any{},
		Protected:   map[string]string{},
		Verif: metadata.VerifData{
			TableHash:  tableHash,
			Partitions: partitions,
		},
	}

	sig := &metadata.SigRecord{Signatures: map[string]string{}}
	sigValue, err := metadata.SignRecord(meta, signerID, signerPassword)
	if err != nil {
		return nil, nil, err
	}
	sig.Signatures[signerID] = sigValue

	if err := blockdev.WriteMetaRecord(devfile, meta, sig); err != nil {
		return nil, nil, err
	}
	return meta, sig, nil
}

func partitionContentHash(devfile string, fp FormattedPartition, info blockdev.PartitionInfo, mountpoints map[string]string) (string, error) {
	switch fp.Plan.Filesystem {
	case fsformat.FAT, fsformat.NTFS:
		mp, ok := mountpoints[fp.Plan.ID]
		if !ok {
			return "", fmt.Errorf("no mountpoint supplied to hash partition %q's filesystem content", fp.Plan.ID)
		}
		return fingerprint.HashDirectory(mp, nil)
	default:
		sectorSize := int64(512)
		return fingerprint.HashFileRange(devfile, info.SectorStart*sectorSize, (info.SectorEnd+1)*sectorSize)
	}
}

// VerifyMetadata reads back a device's sealed metadata and checks the
// signer's signature over it, mirroring Device.py's verify(). The recorded
// table and partition hashes are not compared with the device's current
// contents.
func VerifyMetadata(devfile, signerID, signerPassword string) (*metadata.MetaRecord, error) {
	meta, sig, err := blockdev.ReadMetaRecord(devfile)
	if err != nil {
		return nil, err
	}
	signature, ok := sig.Signatures[signerID]
	if !ok {
		return nil, fmt.Errorf("no signature recorded for signer %q", signerID)
	}
	if err := metadata.VerifyRecordSignature(meta, signerPassword, signature); err != nil {
		return nil, err
	}
	return meta, nil
}
