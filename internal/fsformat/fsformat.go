// Package fsformat creates and probes filesystems on partitions (or
// decrypted mapper devices), grounded on original_source/lib/Filesystem.py.
// Every supported filesystem is created by shelling out to its mkfs.*
// tool, matching the original's approach and the teacher's shell-exec
// pattern rather than writing filesystem structures in Go.
package fsformat

import (
	"fmt"
	"strings"

	"github.com/insecakey/inseca/internal/blockdev"
	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// Type is a supported filesystem kind.
type Type string

const (
	FAT   Type = "FAT"
	NTFS  Type = "NTFS"
	EXT4  Type = "EXT4"
	EXFAT Type = "EXFAT"
	BTRFS Type = "BTRFS"
)

// TypeFromString parses a loosely-formatted filesystem name (as found in
// lsblk FSTYPE output or a specification's "filesystem" field) into a
// Type, tolerating common aliases like "vfat" for FAT.
func TypeFromString(s string) (Type, error) {
	if s == "" {
		return "", nil
	}
	if strings.Contains(s, "\n") {
		return "", insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("invalid filesystem type %q", s))
	}
	switch strings.ToLower(s) {
	case "fat", "vfat":
		return FAT, nil
	case "ntfs":
		return NTFS, nil
	case "exfat":
		return EXFAT, nil
	case "btrfs":
		return BTRFS, nil
	default:
		if strings.HasPrefix(strings.ToLower(s), "ext") {
			return EXT4, nil
		}
	}
	return "", insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("invalid filesystem type %q", s))
}

// Create formats partname with the given filesystem type, label and
// (optional) volume ID, retrying once if the device node transiently
// disappears mid-format (observed on slow USB media).
func Create(partname string, fstype Type, label string, volumeID string) error {
	return createWithRetry(partname, fstype, label, volumeID, true)
}

func createWithRetry(partname string, fstype Type, label, volumeID string, allowRetry bool) error {
	if err := blockdev.WaitForPartition(partname); err != nil {
		return err
	}

	cmd, err := mkfsCommand(partname, fstype, label, volumeID)
	if err != nil {
		return err
	}

	_, err = shell.ExecCmdWithInput("y\n", cmd, true, "", nil)
	if err != nil {
		if allowRetry && strings.Contains(err.Error(), "does not exist") {
			if werr := blockdev.WaitForPartition(partname); werr != nil {
				return werr
			}
			return createWithRetry(partname, fstype, label, volumeID, false)
		}
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("format %q as %s", partname, fstype), err)
	}
	return nil
}

func mkfsCommand(partname string, fstype Type, label, volumeID string) (string, error) {
	switch fstype {
	case FAT:
		cmd := fmt.Sprintf("mkfs.vfat -n %s", label)
		if volumeID != "" {
			cmd += " -i " + volumeID
		}
		return cmd + " " + partname, nil
	case EXFAT:
		cmd := fmt.Sprintf("mkfs.exfat -n %s", label)
		if volumeID != "" {
			cmd += " -i " + volumeID
		}
		return cmd + " " + partname, nil
	case NTFS:
		if volumeID != "" {
			return "", insecaerr.New(insecaerr.KindInvalidParameter, "NTFS does not support setting a volume ID")
		}
		return fmt.Sprintf("mkfs.ntfs -f -L %s %s", label, partname), nil
	case EXT4:
		cmd := fmt.Sprintf("mkfs.ext4 -F -L %s", label)
		if volumeID != "" {
			cmd += " -U " + volumeID
		}
		return cmd + " " + partname, nil
	case BTRFS:
		cmd := fmt.Sprintf("mkfs.btrfs -f -L %s", label)
		if volumeID != "" {
			cmd += " -U " + volumeID
		}
		return cmd + " " + partname, nil
	default:
		return "", insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("unhandled filesystem type %q", fstype))
	}
}

// Probe identifies the filesystem present on a partition or mapper device
// via lsblk.
func Probe(path string) (Type, error) {
	out, err := shell.ExecCmd(fmt.Sprintf("lsblk -n -l -o FSTYPE %s", path), true, "", nil)
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("probe filesystem of %q", path), err)
	}
	return TypeFromString(strings.TrimSpace(out))
}
