package installer

import (
	"fmt"

	"github.com/insecakey/inseca/internal/blockdev"
	"github.com/insecakey/inseca/internal/crypttype"
	"github.com/insecakey/inseca/internal/fsformat"
	"github.com/insecakey/inseca/internal/insecaerr"
)

// PartitionPlan is one partition's fully-resolved install-time parameters,
// the Go-native equivalent of one entry of specs["partitions"] once the
// template's variables have been expanded by specbuilder.Builder.
type PartitionPlan struct {
	ID         string
	Kind       blockdev.PartitionKind
	SizeMB     int
	Filesystem fsformat.Type
	Label      string
	VolumeID   string
	Encryption crypttype.Engine // empty if not encrypted
	Password   string           // only meaningful when Encryption is set
}

// DevicePlan is the fully-resolved specification for one format/install
// run, built from specbuilder.Builder.GetSpecifications's "type" and
// "partitions" keys.
type DevicePlan struct {
	Label      blockdev.TableLabel
	Partitions []PartitionPlan
}

// FormattedPartition is the as-built state of one partition after
// FormatDevice, carrying whatever is needed to mount or unlock it later.
type FormattedPartition struct {
	Plan    PartitionPlan
	Partfile string
	Volume  *crypttype.Volume // nil when not encrypted
}

// FormatDevice wipes devfile, creates its partition table and formats
// every partition, mirroring Device.py's format(specs): partitioning via
// blockdev.CreatePartitionTable, then per-partition filesystem creation or
// encrypted-volume setup.
func FormatDevice(devfile string, plan DevicePlan) (*blockdev.Layout, []FormattedPartition, error) {
	specs := make([]blockdev.PartitionSpec, len(plan.Partitions))
	for i, p := range plan.Partitions {
		specs[i] = blockdev.PartitionSpec{ID: p.ID, Kind: p.Kind, SizeMB: p.SizeMB}
	}

	layout, err := blockdev.CreatePartitionTable(devfile, plan.Label, specs)
	if err != nil {
		return nil, nil, err
	}
	if err := blockdev.EnsureKernelSync(devfile); err != nil {
		return nil, nil, err
	}

	out := make([]FormattedPartition, len(plan.Partitions))
	for i, p := range plan.Partitions {
		number := i + 1
		partfile := blockdev.PartitionName(devfile, number)
		if err := blockdev.WaitForPartition(partfile); err != nil {
			return nil, nil, err
		}

		target := partfile
		var vol *crypttype.Volume
		if p.Encryption != "" {
			vol, err = crypttype.Open(p.Encryption, partfile, p.Password)
			if err != nil {
				return nil, nil, err
			}
			if err := vol.Create(); err != nil {
				return nil, nil, err
			}
			target, err = vol.Unlock()
			if err != nil {
				return nil, nil, err
			}
		}

		if p.Filesystem != "" {
			if err := fsformat.Create(target, p.Filesystem, p.Label, p.VolumeID); err != nil {
				return nil, nil, err
			}
		}

		out[i] = FormattedPartition{Plan: p, Partfile: partfile, Volume: vol}
	}

	return layout, out, nil
}

// InstallBootChain installs Grub on the EFI (and, for a hybrid table, BIOS)
// partitions and writes the localized boot-menu configuration, mirroring
// _install_low_level's Grub-install section.
func InstallBootChain(devfile string, efiPartfile, efiMountpoint, bootBinariesArchive, confTarFile string, firstKind blockdev.PartitionKind, hybrid bool) ([]string, error) {
	if err := blockdev.InstallGrubEFI(efiMountpoint, bootBinariesArchive); err != nil {
		return nil, err
	}
	if hybrid {
		if err := blockdev.InstallGrubBIOS(devfile, efiMountpoint, firstKind); err != nil {
			return nil, err
		}
	}
	liveUUID, err := blockdev.PartitionFSUUID(efiPartfile)
	if err != nil {
		return nil, err
	}
	return blockdev.InstallGrubConfiguration(efiMountpoint, confTarFile, liveUUID)
}

func findPartition(formatted []FormattedPartition, id PartitionID) (*FormattedPartition, error) {
	for i := range formatted {
		if formatted[i].Plan.ID == string(id) {
			return &formatted[i], nil
		}
	}
	return nil, insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("no partition with id %q in plan", id))
}
