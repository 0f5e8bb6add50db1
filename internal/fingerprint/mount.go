package fingerprint

import (
	"fmt"

	"github.com/insecakey/inseca/internal/utils/shell"
)

// mountLoopReadOnly and unmount shell out to mount(8)/umount(8), matching
// the original implementation's approach to hashing embedded filesystem
// images (FingerprintHash.py _compute_efi_image_hash).
func mountLoopReadOnly(imagePath, mountpoint string) error {
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o loop,ro %s %s", imagePath, mountpoint), true, "", nil); err != nil {
		return fmt.Errorf("mount %s at %s: %w", imagePath, mountpoint, err)
	}
	return nil
}

func unmount(mountpoint string) error {
	if _, err := shell.ExecCmd(fmt.Sprintf("umount %s", mountpoint), true, "", nil); err != nil {
		return fmt.Errorf("unmount %s: %w", mountpoint, err)
	}
	return nil
}
