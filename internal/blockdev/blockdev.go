// Package blockdev opens raw storage devices or disk-image files, creates
// and names their partitions, and tracks mount state, mirroring
// original_source/lib/Device.py's Device class and module-level helpers.
package blockdev

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

var log = logger.Logger()

// Mode describes how the underlying device file was attached.
type Mode int

const (
	ModeDirect Mode = iota // a real block device, e.g. /dev/sdb
	ModeLoop               // a disk-image file attached via losetup
	ModeNBD                // a disk-image file attached via qemu-nbd
)

// TableLabel is the partition table scheme of a device.
type TableLabel string

const (
	LabelDOS    TableLabel = "dos"
	LabelGPT    TableLabel = "gpt"
	LabelHybrid TableLabel = "hybrid"
)

// Device wraps a single block device or image file, tracking how it was
// attached and which of its partitions are mounted.
type Device struct {
	devfile     string
	mode        Mode
	mountpoints map[string]string // partition id -> mountpoint
}

const endReservedSpaceMB = 5

// validDevicePattern mirrors Device.py's acceptance rules for real device
// files: sd*/vd* whole disks, nbd*, nvme*, or loop* devices.
func validDevicePattern(devfile string) bool {
	switch {
	case strings.HasPrefix(devfile, "/dev/sd") || strings.HasPrefix(devfile, "/dev/vd"):
		return len(devfile) > 0 && !isDigit(devfile[len(devfile)-1])
	case strings.HasPrefix(devfile, "/dev/nbd"), strings.HasPrefix(devfile, "/dev/nvme"):
		return true
	case strings.HasPrefix(devfile, "/dev/loop"):
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Open attaches to a device file or, if the path is not under /dev, to a
// disk-image file via NBD (qemu-nbd), and validates the result is a
// device kind this package knows how to name partitions for.
func Open(path string) (*Device, error) {
	if strings.HasPrefix(path, "/dev/") {
		if !validDevicePattern(path) {
			return nil, insecaerr.New(insecaerr.KindDeviceUnsupported, fmt.Sprintf("invalid device %q", path))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindDeviceUnsupported, fmt.Sprintf("device %q does not exist", path), err)
		}
		return &Device{devfile: path, mode: ModeDirect, mountpoints: map[string]string{}}, nil
	}

	devfile, err := nbdSetup(path)
	if err != nil {
		return nil, err
	}
	return &Device{devfile: devfile, mode: ModeNBD, mountpoints: map[string]string{}}, nil
}

// Close detaches the underlying NBD/loop device, if any was used, after
// unmounting anything still mounted.
func (d *Device) Close() error {
	d.UnmountAll()
	switch d.mode {
	case ModeNBD:
		return nbdCleanup(d.devfile)
	case ModeLoop:
		return loopCleanup(d.devfile)
	}
	return nil
}

// DevFile returns the underlying device path, e.g. "/dev/sdb" or "/dev/nbd0".
func (d *Device) DevFile() string { return d.devfile }

func nbdSetup(filename string) (string, error) {
	if _, err := shell.ExecCmd("modprobe -av nbd", true, "", nil); err != nil {
		return "", insecaerr.Wrap(insecaerr.KindDeviceUnsupported, "cannot load nbd kernel driver", err)
	}
	devfile, err := findFreeNBDDevice()
	if err != nil {
		return "", err
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("qemu-nbd -c %s %s", devfile, filename), true, "", nil); err != nil {
		return "", insecaerr.Wrap(insecaerr.KindDeviceBusy, fmt.Sprintf("cannot attach %q via nbd", filename), err)
	}
	return devfile, nil
}

func nbdCleanup(devfile string) error {
	if err := EnsureKernelSync(devfile); err != nil {
		log.Warnf("kernel sync before nbd cleanup of %s: %v", devfile, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("qemu-nbd -d %s", devfile), true, "", nil); err != nil {
		return fmt.Errorf("disconnect nbd device %s: %w", devfile, err)
	}
	return nil
}

func loopCleanup(devfile string) error {
	if err := EnsureKernelSync(devfile); err != nil {
		log.Warnf("kernel sync before loop cleanup of %s: %v", devfile, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("losetup -d %s", devfile), true, "", nil); err != nil {
		return fmt.Errorf("disconnect loop device %s: %w", devfile, err)
	}
	return nil
}

func findFreeNBDDevice() (string, error) {
	for i := 0; i < 8; i++ {
		sizePath := fmt.Sprintf("/sys/class/block/nbd%d/size", i)
		data, err := os.ReadFile(sizePath)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == "0" {
			return fmt.Sprintf("/dev/nbd%d", i), nil
		}
	}
	return "", insecaerr.New(insecaerr.KindDeviceBusy, "no free nbd device available")
}

// PartitionName computes a partition's device path from its device file
// and 1-based number, e.g. ("/dev/sdb", 2) => "/dev/sdb2" and
// ("/dev/nbd0", 2) => "/dev/nbd0p2" for devices whose name already ends in
// a digit.
func PartitionName(devfile string, number int) string {
	if len(devfile) > 0 && isDigit(devfile[len(devfile)-1]) {
		return fmt.Sprintf("%sp%d", devfile, number)
	}
	return fmt.Sprintf("%s%d", devfile, number)
}

// EnsureKernelSync re-reads the partition table via partprobe(8), retrying
// on the transient "unable to inform the kernel" condition, bounded at 10
// attempts as in Device.py's ensure_kernel_sync.
func EnsureKernelSync(devfile string) error {
	time.Sleep(3 * time.Second)
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		out, err := shell.ExecCmd(fmt.Sprintf("partprobe %s", devfile), true, "", nil)
		if err == nil {
			return nil
		}
		lastErr = err
		if strings.Contains(out, "unable to inform the kernel") || strings.Contains(err.Error(), "unable to inform the kernel") {
			time.Sleep(2 * time.Second)
			continue
		}
		if strings.Contains(err.Error(), "physical block size") {
			return nil
		}
		return insecaerr.Wrap(insecaerr.KindKernelSyncFailed, fmt.Sprintf("partprobe failed on %s", devfile), err)
	}
	return insecaerr.Wrap(insecaerr.KindKernelSyncFailed, fmt.Sprintf("partprobe timed out on %s", devfile), lastErr)
}

// WaitForPartition polls for a partition device node to appear, handling
// the short delay between partprobe returning and udev creating the node.
func WaitForPartition(partfile string) error {
	for attempt := 0; attempt < 20; attempt++ {
		if _, err := os.Stat(partfile); err == nil {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return insecaerr.New(insecaerr.KindDeviceUnsupported, fmt.Sprintf("partition %q never appeared", partfile))
}
