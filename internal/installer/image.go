package installer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// CreateVMImage creates a fresh qcow2 disk image of sizeGB gigabytes at
// imagefile, removing any pre-existing file first, mirroring
// ImageInstaller.__init__'s "qemu-img create -f qcow2" step. The returned
// path is always absolute, matching os.path.realpath(imagefile).
func CreateVMImage(imagefile string, sizeGB int) (string, error) {
	if sizeGB <= 0 {
		return "", insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("invalid disk image size %d", sizeGB))
	}
	abs, err := filepath.Abs(imagefile)
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "resolve image path", err)
	}
	if _, err := os.Stat(abs); err == nil {
		if err := os.Remove(abs); err != nil {
			return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "remove existing image "+abs, err)
		}
	}
	cmd := fmt.Sprintf("qemu-img create -f qcow2 %s %dG", abs, sizeGB)
	if _, err := shell.ExecCmd(cmd, false, "", nil); err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "create disk image "+abs, err)
	}
	return abs, nil
}
