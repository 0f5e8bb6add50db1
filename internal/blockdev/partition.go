package blockdev

import (
	"fmt"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// PartitionKind is the functional role of a partition, as recorded in
// partition type GUIDs/codes by CreatePartitionTable.
type PartitionKind string

const (
	PartitionBIOS  PartitionKind = "BIOS"
	PartitionEFI   PartitionKind = "EFI"
	PartitionLinux PartitionKind = "LINUX"
)

// PartitionSpec describes one partition to create on a freshly wiped
// device, mirroring a single entry of specs["partitions"] in the original
// provisioning specification.
type PartitionSpec struct {
	ID     string
	Kind   PartitionKind // empty if unset
	SizeMB int           // 0 means "use all remaining space up to the trailing reserved region"
}

// Layout is the as-built partition table of a device, as read back via
// go-diskfs (or, failing that, lsblk, which yields partition numbers only).
type Layout struct {
	Label      TableLabel
	SectorSize int64
	Partitions []PartitionInfo
}

// PartitionInfo is one partition's as-built geometry.
type PartitionInfo struct {
	Number       int
	SectorStart  int64
	SectorEnd    int64
	SizeBytes    int64
}

// CreatePartitionTable wipes the device and creates a partition table of
// the given label with contiguous partitions per spec, formatted according
// to spec's size-mb (0 meaning "rest of disk", which is only valid for the
// last entry, and stops endReservedSpaceMB short of the device's end). This
// uses sgdisk for every label (DOS, GPT and hybrid), covering
// run_fdisk_commands/_create_partition in Device.py, but drives sgdisk's
// scriptable "--new" syntax instead of emulating fdisk's interactive
// prompts.
func CreatePartitionTable(devfile string, label TableLabel, specs []PartitionSpec) (*Layout, error) {
	if err := wipeTable(devfile); err != nil {
		return nil, err
	}

	var tableArg string
	switch label {
	case LabelDOS:
		tableArg = "mbr"
	case LabelGPT, LabelHybrid:
		tableArg = "gpt"
	default:
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("unknown table label %q", label))
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("sgdisk -o --clear %s %s", tableKindFlag(tableArg), devfile), true, "", nil); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, "create partition table", err)
	}
	if err := EnsureKernelSync(devfile); err != nil {
		return nil, err
	}

	if label == LabelDOS && len(specs) > 4 {
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, "cannot create more than 4 partitions on a dos device")
	}
	if (label == LabelGPT || label == LabelHybrid) && len(specs) > 128 {
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, "cannot create more than 128 partitions on a gpt device")
	}

	for i, spec := range specs {
		number := i + 1
		sizeArg := fmt.Sprintf("-%dM", endReservedSpaceMB) // rest of disk, minus the trailing reserved region
		if spec.SizeMB > 0 {
			sizeArg = fmt.Sprintf("+%dM", spec.SizeMB)
		}
		cmd := fmt.Sprintf("sgdisk -n %d:0:%s %s", number, sizeArg, devfile)
		if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("create partition %q", spec.ID), err)
		}
		if code, ok := typeCodeFor(label, spec.Kind); ok {
			if _, err := shell.ExecCmd(fmt.Sprintf("sgdisk -t %d:%s %s", number, code, devfile), true, "", nil); err != nil {
				return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("set type of partition %q", spec.ID), err)
			}
		}
		if err := EnsureKernelSync(devfile); err != nil {
			return nil, err
		}
		if err := WaitForPartition(PartitionName(devfile, number)); err != nil {
			return nil, err
		}
	}

	return AnalyseLayout(devfile, label)
}

func tableKindFlag(kind string) string {
	if kind == "mbr" {
		return "-m"
	}
	return ""
}

// typeCodeFor maps a partition's functional kind to the GPT GUID alias (or
// DOS type code) sgdisk accepts, per Device.py's code table.
func typeCodeFor(label TableLabel, kind PartitionKind) (string, bool) {
	if kind == "" {
		return "", false
	}
	if label == LabelGPT || label == LabelHybrid {
		switch kind {
		case PartitionBIOS:
			return "ef02", true
		case PartitionEFI:
			return "ef00", true
		case PartitionLinux:
			return "8300", true
		}
	} else {
		switch kind {
		case PartitionLinux:
			return "83", true
		}
	}
	return "", false
}

func wipeTable(devfile string) error {
	if err := UnmountAllPartitions(devfile); err != nil {
		log.Warnf("unmount before wipe of %s: %v", devfile, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("wipefs -a %s", devfile), true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("wipe signatures on %s", devfile), err)
	}
	return EnsureKernelSync(devfile)
}

// AnalyseLayout reads the partition table back from the device, mirroring
// Device.py's analyse_layout(). Sector-accurate geometry (SectorStart/
// SectorEnd/SizeBytes) comes from github.com/diskfs/go-diskfs's typed
// GPT/MBR table readers; lsblk is kept only as the partition-count
// fallback when go-diskfs can't open the device (e.g. it is a kernel
// object, not a regular file or loop-backed image, which go-diskfs
// requires).
func AnalyseLayout(devfile string, label TableLabel) (*Layout, error) {
	layout := &Layout{Label: label, SectorSize: 512}

	if disk, err := diskfs.Open(devfile); err == nil {
		defer disk.Close()
		if disk.LogicalBlocksize > 0 {
			layout.SectorSize = disk.LogicalBlocksize
		}
		if pt, err := disk.GetPartitionTable(); err == nil {
			switch t := pt.(type) {
			case *gpt.Table:
				for i, p := range t.Partitions {
					if p.Start == 0 && p.End == 0 {
						continue
					}
					layout.Partitions = append(layout.Partitions, PartitionInfo{
						Number:      i + 1,
						SectorStart: int64(p.Start),
						SectorEnd:   int64(p.End),
						SizeBytes:   int64(p.End-p.Start+1) * layout.SectorSize,
					})
				}
				return layout, nil
			case *mbr.Table:
				for i, p := range t.Partitions {
					if p.Size == 0 {
						continue
					}
					layout.Partitions = append(layout.Partitions, PartitionInfo{
						Number:      i + 1,
						SectorStart: int64(p.Start),
						SectorEnd:   int64(p.Start) + int64(p.Size) - 1,
						SizeBytes:   int64(p.Size) * layout.SectorSize,
					})
				}
				return layout, nil
			}
		}
	}

	out, err := shell.ExecCmd(fmt.Sprintf("lsblk -n -b -o NAME,SIZE -p %s", devfile), true, "", nil)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("list partitions of %s", devfile), err)
	}
	number := 0
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == devfile {
			continue
		}
		number++
		layout.Partitions = append(layout.Partitions, PartitionInfo{Number: number})
	}
	return layout, nil
}

// UnmountAllPartitions force-unmounts anything mounted from any partition
// of devfile, tolerating partitions that are not mounted.
func UnmountAllPartitions(devfile string) error {
	out, err := shell.ExecCmd(fmt.Sprintf("lsblk -n -p -o NAME,MOUNTPOINT %s", devfile), true, "", nil)
	if err != nil {
		if strings.Contains(err.Error(), "not a block device") {
			return nil
		}
		return fmt.Errorf("list mountpoints of %s: %w", devfile, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if _, err := shell.ExecCmd(fmt.Sprintf("umount %s", fields[1]), true, "", nil); err != nil {
			if !strings.HasSuffix(strings.TrimSpace(err.Error()), "not mounted.") {
				return fmt.Errorf("unmount %s: %w", fields[1], err)
			}
		}
	}
	return nil
}

// Mount mounts the partition at partfile on a mountpoint (created if
// necessary), recording it under partitionID for later Unmount/UnmountAll.
func (d *Device) Mount(partitionID, partfile, mountpoint string, options string) (string, error) {
	if mp, ok := d.mountpoints[partitionID]; ok {
		return mp, nil
	}
	cmd := fmt.Sprintf("mount %s %s", partfile, mountpoint)
	if options != "" {
		cmd = fmt.Sprintf("mount -o %s %s %s", options, partfile, mountpoint)
	}
	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("mount partition %q", partitionID), err)
	}
	d.mountpoints[partitionID] = mountpoint
	return mountpoint, nil
}

// Unmount unmounts a previously-mounted partition.
func (d *Device) Unmount(partitionID string) error {
	mp, ok := d.mountpoints[partitionID]
	if !ok {
		return nil
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("umount %s", mp), true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("unmount partition %q", partitionID), err)
	}
	delete(d.mountpoints, partitionID)
	return nil
}

// UnmountAll unmounts every partition this Device has mounted.
func (d *Device) UnmountAll() {
	for id := range d.mountpoints {
		if err := d.Unmount(id); err != nil {
			log.Warnf("unmount %s during cleanup: %v", id, err)
		}
	}
}
